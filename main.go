package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tradelens/analytics"
	"tradelens/config"
	"tradelens/costbasis"
	"tradelens/exchange"
	"tradelens/ledger"
	"tradelens/lock"
	"tradelens/logger"
	"tradelens/metrics"
	"tradelens/ratelimit"
	"tradelens/storage"
	"tradelens/utils"
	"tradelens/web"
)

// App 应用实例，聚合全部子系统并实现 web.AppProvider
type App struct {
	cfg        *config.Config
	limiter    *ratelimit.Limiter
	exchange   exchange.IExchange
	ledger     *ledger.TradeLedger
	syncer     *ledger.Syncer
	engine     *costbasis.Engine
	aggregator *analytics.Aggregator
	storageSvc *storage.StorageService
	startTime  time.Time
	intervalCh chan time.Duration // 配置热更新后的新同步间隔

	mu          sync.RWMutex
	syncRunning bool
	lastResult  *ledger.SyncResult
	lastError   string
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	initConfig := flag.Bool("init", false, "生成默认配置文件后退出")
	flag.Parse()

	if *initConfig {
		if err := config.SaveConfig(config.CreateDefaultConfig(), *configPath); err != nil {
			fmt.Printf("生成默认配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("默认配置已写入 %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	applySystemConfig(cfg)

	logger.Info("🔧 TradeLens 启动: exchange=%s", cfg.App.CurrentExchange)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("❌ 初始化失败: %v", err)
	}

	// 配置热更新
	watcher, err := config.NewConfigWatcher(*configPath)
	if err != nil {
		logger.Warn("⚠️ 配置监听启动失败，热更新不可用: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 配置监听启动失败，热更新不可用: %v", err)
		} else {
			go app.watchConfig(ctx, watcher)
			defer watcher.Stop()
		}
	}

	webServer := web.NewWebServer(cfg)
	web.SetProvider(app)
	if err := webServer.Start(ctx); err != nil {
		logger.Error("❌ Web 服务启动失败: %v", err)
	}

	go app.runScheduler(ctx)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("⏳ 收到信号 %v，开始优雅退出", sig)

	cancel()
	webServer.Stop()
	app.storageSvc.Stop()
	logger.Info("✅ 退出完成")
}

// applySystemConfig 应用日志级别与时区设置
func applySystemConfig(cfg *config.Config) {
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))

	if cfg.System.Timezone != "" {
		if err := utils.SetLocation(cfg.System.Timezone); err != nil {
			logger.Warn("⚠️ 时区 %s 加载失败，使用 UTC: %v", cfg.System.Timezone, err)
		} else {
			logger.SetLocation(utils.GlobalLocation)
		}
	}
}

// newApp 组装全部子系统
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	limiter := ratelimit.NewLimiter(
		cfg.RateLimit.MaxCounter,
		cfg.RateLimit.DecayRate,
		time.Duration(cfg.RateLimit.SafetyMargin)*time.Second,
	)
	limiter.SetOnWait(metrics.GetPrometheusMetrics().RecordRateBudgetWait)

	ex, err := exchange.NewExchange(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所失败: %w", err)
	}

	tradeLedger := ledger.NewTradeLedger(filepath.Join(cfg.Data.Dir, cfg.Data.LedgerFile))
	if err := tradeLedger.Load(); err != nil {
		return nil, fmt.Errorf("加载账本失败: %w", err)
	}

	engine := costbasis.NewEngine(filepath.Join(cfg.Data.Dir, cfg.Data.CostBasisFile))
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("加载成本基础失败: %w", err)
	}

	aggregator := analytics.NewAggregator(
		filepath.Join(cfg.Data.Dir, cfg.Data.AnalyticsFile),
		cfg.Analytics.RecentWindowSize,
		cfg.Analytics.TimeWindowDays,
	)
	if err := aggregator.Load(); err != nil {
		return nil, fmt.Errorf("加载分析报告失败: %w", err)
	}

	storageSvc, err := storage.NewStorageService(cfg, ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化存储服务失败: %w", err)
	}
	storageSvc.Start()

	dlock, err := lock.NewDistributedLock(&lock.Config{
		Enabled: cfg.DistributedLock.Enabled,
		Prefix:  cfg.DistributedLock.Prefix,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化分布式锁失败: %w", err)
	}

	syncer := ledger.NewSyncer(ex, limiter, tradeLedger, cfg.Sync.PageSize,
		time.Duration(cfg.Sync.GatewayTimeout)*time.Second)
	syncer.SetDistributedLock(dlock, time.Duration(cfg.DistributedLock.DefaultTTL)*time.Second)

	app := &App{
		cfg:        cfg,
		limiter:    limiter,
		exchange:   ex,
		ledger:     tradeLedger,
		syncer:     syncer,
		engine:     engine,
		aggregator: aggregator,
		storageSvc: storageSvc,
		startTime:  time.Now(),
		intervalCh: make(chan time.Duration, 1),
	}
	syncer.SetOnUpdate(app.onLedgerUpdate)

	// 启动时如果账本非空先重建一次派生状态，保证读取接口立即可用
	if tradeLedger.Len() > 0 {
		app.rebuildDerived()
	}

	metrics.GetPrometheusMetrics().SetRateBudget(limiter.Counter(), limiter.MaxCounter())
	metrics.GetPrometheusMetrics().SetLedgerSize(tradeLedger.Len())

	return app, nil
}

// runScheduler 周期性同步调度
func (a *App) runScheduler(ctx context.Context) {
	// 启动后先同步一次
	a.runSync(ctx, ledger.SyncModeAuto)

	interval := time.Duration(a.cfg.Sync.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("⏳ 同步调度已启动，间隔 %v", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case newInterval := <-a.intervalCh:
			if newInterval > 0 && newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
				logger.Info("🔄 同步间隔已更新为 %v", interval)
			}
		case <-ticker.C:
			a.runSync(ctx, ledger.SyncModeAuto)
		}
	}
}

// runSync 执行一次同步并记录结果
func (a *App) runSync(ctx context.Context, mode ledger.SyncMode) (*ledger.SyncResult, error) {
	a.mu.Lock()
	a.syncRunning = true
	a.mu.Unlock()

	result, err := a.syncer.Sync(ctx, mode)

	a.mu.Lock()
	a.syncRunning = false
	if result != nil {
		a.lastResult = result
	}
	if err != nil {
		a.lastError = err.Error()
	} else {
		a.lastError = ""
	}
	a.mu.Unlock()

	pm := metrics.GetPrometheusMetrics()
	pm.SetRateBudget(a.limiter.Counter(), a.limiter.MaxCounter())
	pm.SetLedgerSize(a.ledger.Len())

	if result != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		pm.RecordSyncRun(a.exchange.GetName(), string(result.Mode), outcome, result.Duration)
		pm.RecordNewTrades(a.exchange.GetName(), result.NewTrades)

		a.storageSvc.SaveSyncRecord(&storage.SyncRecord{
			Exchange:  a.exchange.GetName(),
			Mode:      string(result.Mode),
			Pages:     result.Pages,
			NewTrades: result.NewTrades,
			Total:     a.ledger.Len(),
			Success:   err == nil,
			Error:     a.lastErrorText(),
			Duration:  result.Duration.Milliseconds(),
			StartedAt: time.Unix(result.StartedAt, 0),
		})
	}

	if err != nil && err != ledger.ErrSyncInProgress {
		if exchange.IsTransient(err) {
			logger.Warn("⚠️ 同步遇到瞬时错误，等待下一轮重试: %v", err)
		} else {
			logger.Error("❌ 同步失败: %v", err)
		}
	}

	web.Broadcast("status", a.GetStatus())
	return result, err
}

func (a *App) lastErrorText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastError
}

// onLedgerUpdate 账本有新增记录后重建派生状态并推送
func (a *App) onLedgerUpdate(result *ledger.SyncResult) {
	a.rebuildDerived()
	web.Broadcast("update", map[string]interface{}{
		"newTrades": result.NewTrades,
		"total":     a.ledger.Len(),
	})
}

// rebuildDerived 重建成本基础与分析报告，并刷新指标与归档
func (a *App) rebuildDerived() {
	a.engine.Rebuild(a.ledger.TradesAscending())
	snapshot := a.engine.GetSnapshot()
	report := a.aggregator.Summarize(snapshot)

	pm := metrics.GetPrometheusMetrics()
	pm.SetRealizedPnL(report.Summary.RealizedPnL)
	pm.SetWinRate(report.Summary.WinRate)
	pm.SetCompletedTradeTotal(report.Summary.TotalTrades)

	for asset, assetLedger := range snapshot {
		pm.SetAssetRealizedPnL(asset, assetLedger.RealizedPnL)
		for _, ct := range assetLedger.CompletedTrades {
			a.storageSvc.SaveCompletedTrade(&storage.CompletedTradeRecord{
				Asset:         asset,
				SellTime:      time.Unix(ct.SellTime, 0),
				SellPrice:     ct.SellPrice,
				Amount:        ct.Amount,
				AmountMatched: ct.AmountMatched,
				PnL:           ct.PnL,
				PnLPercent:    ct.PnLPercent,
			})
		}
	}
}

// watchConfig 消费配置热更新
func (a *App) watchConfig(ctx context.Context, watcher *config.ConfigWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-watcher.Updates():
			if !ok {
				return
			}
			a.applyConfigUpdate(newCfg)
		}
	}
}

// applyConfigUpdate 应用可热更新的配置项：日志级别、时区、同步间隔。
// 交易所凭证、限流参数与存储配置变更需要重启才生效。
func (a *App) applyConfigUpdate(newCfg *config.Config) {
	applySystemConfig(newCfg)

	newInterval := time.Duration(newCfg.Sync.Interval) * time.Second
	// 调度器还没消费上一次变更时，丢弃旧值只保留最新的
	select {
	case <-a.intervalCh:
	default:
	}
	a.intervalCh <- newInterval

	logger.Info("🔄 配置热更新已应用（日志级别/时区/同步间隔）")
}

// GetStatus 实现 web.AppProvider
func (a *App) GetStatus() *web.SystemStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	report := a.aggregator.GetReport()
	status := &web.SystemStatus{
		Exchange:       a.exchange.GetName(),
		UptimeSeconds:  int64(time.Since(a.startTime).Seconds()),
		TotalTrades:    a.ledger.Len(),
		LastFetchTime:  a.ledger.LastFetchTime(),
		RateCounter:    a.limiter.Counter(),
		RateMaxCounter: a.limiter.MaxCounter(),
		SyncRunning:    a.syncRunning,
		LastSyncError:  a.lastError,
		RealizedPnL:    report.Summary.RealizedPnL,
		WinRate:        report.Summary.WinRate,
	}
	if a.lastResult != nil {
		status.LastSyncMode = string(a.lastResult.Mode)
		status.LastSyncTrades = a.lastResult.NewTrades
	}
	return status
}

// GetLedgerSnapshot 实现 web.AppProvider
func (a *App) GetLedgerSnapshot() *ledger.Snapshot {
	return a.ledger.GetSnapshot()
}

// GetCostBasisSnapshot 实现 web.AppProvider
func (a *App) GetCostBasisSnapshot() map[string]*costbasis.AssetLedger {
	return a.engine.GetSnapshot()
}

// GetAssetCostBasis 实现 web.AppProvider
func (a *App) GetAssetCostBasis(asset string) *costbasis.AssetLedger {
	return a.engine.GetAsset(asset)
}

// GetAnalyticsReport 实现 web.AppProvider
func (a *App) GetAnalyticsReport() *analytics.Report {
	return a.aggregator.GetReport()
}

// GetBalance 实现 web.AppProvider，调用前先预留速率预算
func (a *App) GetBalance(ctx context.Context) (map[string]float64, error) {
	if err := a.limiter.Reserve(ctx, exchange.CostBalance); err != nil {
		return nil, fmt.Errorf("预留速率预算失败: %w", err)
	}
	return a.exchange.FetchBalance(ctx)
}

// GetOpenOrders 实现 web.AppProvider，调用前先预留速率预算
func (a *App) GetOpenOrders(ctx context.Context) ([]*exchange.OpenOrder, error) {
	if err := a.limiter.Reserve(ctx, exchange.CostOpenOrders); err != nil {
		return nil, fmt.Errorf("预留速率预算失败: %w", err)
	}
	return a.exchange.FetchOpenOrders(ctx)
}

// TriggerSync 实现 web.AppProvider
func (a *App) TriggerSync(ctx context.Context, mode string) (*ledger.SyncResult, error) {
	return a.runSync(ctx, ledger.SyncMode(mode))
}

// QuerySyncHistory 实现 web.AppProvider
func (a *App) QuerySyncHistory(limit, offset int) ([]*storage.SyncRecord, error) {
	if a.storageSvc.GetStorage() == nil {
		return []*storage.SyncRecord{}, nil
	}
	return a.storageSvc.GetStorage().QuerySyncHistory(limit, offset)
}
