package lock

import (
	"context"
	"time"
)

// DistributedLock 跨实例互斥。
// 同步周期是账本的唯一写入方，多副本部署时靠它保证
// 同一时刻只有一个实例在拉取交易历史。
type DistributedLock interface {
	// TryLock 非阻塞抢锁，false 表示其他实例正持有
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Lock 阻塞抢锁，直到成功或 ctx 取消
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// Unlock 释放自己持有的锁，不会误删别人的
	Unlock(ctx context.Context, key string) error

	// Extend 给仍持有的锁续期
	Extend(ctx context.Context, key string, ttl time.Duration) error

	Close() error
}

// NopLock 单实例部署时的空实现，抢锁永远成功
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) Unlock(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}
