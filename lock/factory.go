package lock

import (
	"github.com/redis/go-redis/v9"
)

// Config 分布式锁配置
type Config struct {
	Enabled bool
	Prefix  string
	Redis   RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 根据配置创建分布式锁实例
// 未启用时返回 NopLock（单实例模式，零开销）
func NewDistributedLock(config *Config) (DistributedLock, error) {
	if !config.Enabled {
		return NewNopLock(), nil
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "tradelens:lock:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	return NewRedisLock(client, prefix), nil
}
