package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Testnet   bool   `yaml:"testnet" json:"testnet"` // 是否使用测试网（默认 false）
}

// Config TradeLens 系统配置
type Config struct {
	// 应用配置
	App struct {
		CurrentExchange string `yaml:"current_exchange"` // 当前使用的交易所
	} `yaml:"app"`

	// 多交易所配置
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	// 同步配置
	Sync struct {
		Pairs          []string `yaml:"pairs"`           // 同步的交易对列表（Binance 适配器必填，Kraken 拉取全账户）
		PageSize       int      `yaml:"page_size"`       // 每页成交条数（默认50，跟随交易所分页大小）
		Interval       int      `yaml:"interval"`        // 定时同步间隔（秒，默认300）
		GatewayTimeout int      `yaml:"gateway_timeout"` // 单次网关请求超时（秒，默认10）
	} `yaml:"sync"`

	// 调用预算配置（衰减计数器）
	RateLimit struct {
		MaxCounter   float64 `yaml:"max_counter"`   // 计数器上限（默认15，对应交易所中级账户）
		DecayRate    float64 `yaml:"decay_rate"`    // 每秒衰减速率（默认0.33）
		SafetyMargin int     `yaml:"safety_margin"` // 等待时长的安全余量（秒，默认1）
	} `yaml:"rate_limit"`

	// 数据文件配置（JSON 快照）
	Data struct {
		Dir           string `yaml:"dir"`             // 数据目录（默认 ./data）
		LedgerFile    string `yaml:"ledger_file"`     // 交易账本文件（默认 trade_ledger.json）
		CostBasisFile string `yaml:"costbasis_file"`  // 成本基础文件（默认 cost_basis.json）
		AnalyticsFile string `yaml:"analytics_file"`  // 统计快照文件（默认 analytics.json）
	} `yaml:"data"`

	// 统计配置
	Analytics struct {
		RecentWindowSize int `yaml:"recent_window_size"` // 按笔数的近期窗口大小（默认50）
		TimeWindowDays   int `yaml:"time_window_days"`   // 按时间的滚动窗口天数（默认7）
	} `yaml:"analytics"`

	// 存储配置（SQLite 归档）
	Storage struct {
		Enabled       bool   `yaml:"enabled"`
		Type          string `yaml:"type"`           // sqlite
		Path          string `yaml:"path"`           // 数据库文件路径
		BufferSize    int    `yaml:"buffer_size"`    // 缓冲区大小（默认1000）
		BatchSize     int    `yaml:"batch_size"`     // 批量写入大小（默认100）
		FlushInterval int    `yaml:"flush_interval"` // 刷新间隔（秒，默认5）
	} `yaml:"storage"`

	// 分布式锁配置（多实例部署时串行化同步周期）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`     // 是否启用分布式锁，默认false（单实例模式）
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "tradelens:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 默认锁过期时间（秒，默认60）

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// Web 服务配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"` // 监听地址（默认 0.0.0.0）
		Port    int    `yaml:"port"` // 监听端口（默认 8080）
	} `yaml:"web"`

	System struct {
		LogLevel string `yaml:"log_level"`
		Timezone string `yaml:"timezone"` // 时区，如 "UTC"、"Asia/Shanghai"
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}

// CreateDefaultConfig 创建默认配置（首次启动时写入）
func CreateDefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.CurrentExchange = "kraken"
	cfg.Exchanges = map[string]ExchangeConfig{
		"kraken": {APIKey: "your-api-key", SecretKey: "your-secret-key"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults 填充未设置的默认值
func (c *Config) applyDefaults() {
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 50
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 300
	}
	if c.Sync.GatewayTimeout <= 0 {
		c.Sync.GatewayTimeout = 10
	}

	if c.RateLimit.MaxCounter <= 0 {
		c.RateLimit.MaxCounter = 15
	}
	if c.RateLimit.DecayRate <= 0 {
		c.RateLimit.DecayRate = 0.33
	}
	if c.RateLimit.SafetyMargin <= 0 {
		c.RateLimit.SafetyMargin = 1
	}

	if c.Data.Dir == "" {
		c.Data.Dir = "./data"
	}
	if c.Data.LedgerFile == "" {
		c.Data.LedgerFile = "trade_ledger.json"
	}
	if c.Data.CostBasisFile == "" {
		c.Data.CostBasisFile = "cost_basis.json"
	}
	if c.Data.AnalyticsFile == "" {
		c.Data.AnalyticsFile = "analytics.json"
	}

	if c.Analytics.RecentWindowSize <= 0 {
		c.Analytics.RecentWindowSize = 50
	}
	if c.Analytics.TimeWindowDays <= 0 {
		c.Analytics.TimeWindowDays = 7
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/tradelens.db"
	}
	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = 5
	}

	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "tradelens:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 60
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8080
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.CurrentExchange == "" {
		return fmt.Errorf("app.current_exchange 不能为空")
	}

	if _, exists := c.Exchanges[c.App.CurrentExchange]; !exists {
		return fmt.Errorf("交易所 %s 缺少配置", c.App.CurrentExchange)
	}

	// 单次调用成本不能超过计数器上限，否则 Reserve 永远无法放行
	if c.RateLimit.MaxCounter < 2 {
		return fmt.Errorf("rate_limit.max_counter 不能小于 2（成交历史单页成本为 2）")
	}
	if c.RateLimit.DecayRate <= 0 {
		return fmt.Errorf("rate_limit.decay_rate 必须大于 0")
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 1000 {
		return fmt.Errorf("sync.page_size 必须在 1-1000 之间")
	}

	if c.App.CurrentExchange == "binance" && len(c.Sync.Pairs) == 0 {
		return fmt.Errorf("使用 binance 时必须配置 sync.pairs")
	}

	return nil
}
