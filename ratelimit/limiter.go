package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradelens/logger"
)

// Limiter 衰减计数器限流器
// 交易所为每个账户维护一个调用计数器：每次调用按成本累加，随时间按固定速率衰减，
// 超过上限即拒绝请求。本地镜像这套计数逻辑，在触顶前主动等待，避免被交易所封禁。
type Limiter struct {
	mu           sync.Mutex
	counter      float64   // 当前计数值（≥0）
	maxCounter   float64   // 计数器上限
	decayRate    float64   // 每秒衰减速率
	safetyMargin time.Duration
	lastDecay    time.Time // 上次衰减时间

	// onWait 预算耗尽触发等待时回调（用于指标上报）
	onWait func()

	// 测试钩子
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter 创建限流器
func NewLimiter(maxCounter, decayRate float64, safetyMargin time.Duration) *Limiter {
	l := &Limiter{
		maxCounter:   maxCounter,
		decayRate:    decayRate,
		safetyMargin: safetyMargin,
		now:          time.Now,
		sleep:        sleepContext,
	}
	l.lastDecay = l.now()
	return l
}

// SetOnWait 配置等待回调
func (l *Limiter) SetOnWait(fn func()) {
	l.onWait = fn
}

// sleepContext 可取消的睡眠
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decayLocked 按流逝时间衰减计数器（调用方必须持有 mu）
func (l *Limiter) decayLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastDecay).Seconds()
	if elapsed > 0 {
		l.counter -= elapsed * l.decayRate
		if l.counter < 0 {
			l.counter = 0
		}
	}
	l.lastDecay = now
}

// Reserve 预留调用预算，必要时阻塞等待衰减
// 返回 nil 后保证 counter ≤ maxCounter；ctx 取消时立即返回且不占用预算
func (l *Limiter) Reserve(ctx context.Context, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("调用成本不能为负: %f", cost)
	}
	// 单次成本超过上限永远无法放行，属于配置错误
	if cost > l.maxCounter {
		return fmt.Errorf("调用成本 %.1f 超过计数器上限 %.1f，请检查 rate_limit 配置", cost, l.maxCounter)
	}

	for {
		l.mu.Lock()
		l.decayLocked()

		if l.counter+cost <= l.maxCounter {
			l.counter += cost
			l.mu.Unlock()
			return nil
		}

		// 计算需要等待多久才能衰减出足够的预算
		deficit := l.counter + cost - l.maxCounter
		wait := time.Duration(math.Ceil(deficit/l.decayRate))*time.Second + l.safetyMargin
		l.mu.Unlock()

		logger.Debug("⏳ 调用预算不足（缺口 %.2f），等待 %v 后重试", deficit, wait)

		if l.onWait != nil {
			l.onWait()
		}

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Counter 返回当前计数值（先衰减再读取）
func (l *Limiter) Counter() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decayLocked()
	return l.counter
}

// MaxCounter 返回计数器上限
func (l *Limiter) MaxCounter() float64 {
	return l.maxCounter
}
