package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 释放与续期必须校验 token 后原子执行，防止删掉别的实例抢到的锁
const (
	releaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	extendScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// 抢锁失败后的重试间隔
const lockRetryInterval = 100 * time.Millisecond

// RedisLock 基于 SetNX 的分布式锁。
// 每次抢锁生成独立 token，held 记录本实例持有的 key→token 映射；
// 定时同步与 web 触发的同步可能并发进出，映射需要加锁保护。
type RedisLock struct {
	client *redis.Client
	prefix string

	mu   sync.Mutex
	held map[string]string
}

func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		held:   make(map[string]string),
	}
}

// newToken 生成本次抢锁的唯一凭证
func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock 非阻塞抢锁
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := newToken()

	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		r.remember(key, token)
	}
	return ok, nil
}

// Lock 阻塞抢锁，直到成功或 ctx 取消
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Unlock 释放自己持有的锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	token, ok := r.heldToken(key)
	if !ok {
		return fmt.Errorf("lock not held: %s", key)
	}

	result, err := r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Result()
	if err != nil {
		return fmt.Errorf("redis eval failed: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lock not held or expired: %s", key)
	}

	r.forget(key)
	return nil
}

// Extend 给仍持有的锁续期
func (r *RedisLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	token, ok := r.heldToken(key)
	if !ok {
		return fmt.Errorf("lock not held: %s", key)
	}

	result, err := r.client.Eval(ctx, extendScript, []string{r.prefix + key}, token, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("redis eval failed: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lock not held or expired: %s", key)
	}
	return nil
}

func (r *RedisLock) remember(key, token string) {
	r.mu.Lock()
	r.held[key] = token
	r.mu.Unlock()
}

func (r *RedisLock) heldToken(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.held[key]
	return token, ok
}

func (r *RedisLock) forget(key string) {
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

// Close 关闭 Redis 连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}

// Ping 检查 Redis 连通性
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
