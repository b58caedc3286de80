package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradelens/exchange"
	"tradelens/lock"
	"tradelens/logger"
	"tradelens/ratelimit"
)

// SyncMode 同步模式
type SyncMode string

const (
	SyncModeAuto        SyncMode = "auto"        // 空账本走全量，否则增量
	SyncModeFull        SyncMode = "full"        // 全量回填
	SyncModeIncremental SyncMode = "incremental" // 增量追新
)

// ErrSyncInProgress 已有同步周期在执行
var ErrSyncInProgress = errors.New("同步正在进行中")

const syncLockKey = "trade-sync"

// SyncResult 单次同步周期的结果
type SyncResult struct {
	Mode      SyncMode      `json:"mode"`
	NewTrades int           `json:"newTrades"`
	Pages     int           `json:"pages"`
	Duration  time.Duration `json:"duration"`
	StartedAt int64         `json:"startedAt"`
}

// Syncer 交易历史同步器
// 每页请求前向限流器预约额度，网关出错时保留已入账的部分进度
type Syncer struct {
	exchange exchange.IExchange
	limiter  *ratelimit.Limiter
	ledger   *TradeLedger

	pageSize       int
	gatewayTimeout time.Duration

	dlock   lock.DistributedLock
	lockTTL time.Duration

	// onUpdate 同步完成且有新增记录时触发（重建成本基础、刷新分析等）
	onUpdate func(result *SyncResult)

	mu sync.Mutex // 同一实例同一时刻只允许一个同步周期
}

// NewSyncer 创建同步器
func NewSyncer(ex exchange.IExchange, limiter *ratelimit.Limiter, ledger *TradeLedger, pageSize int, gatewayTimeout time.Duration) *Syncer {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Syncer{
		exchange:       ex,
		limiter:        limiter,
		ledger:         ledger,
		pageSize:       pageSize,
		gatewayTimeout: gatewayTimeout,
		dlock:          lock.NewNopLock(),
		lockTTL:        60 * time.Second,
	}
}

// SetDistributedLock 配置分布式锁（多实例部署时防止重复同步）
func (s *Syncer) SetDistributedLock(dl lock.DistributedLock, ttl time.Duration) {
	if dl != nil {
		s.dlock = dl
	}
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// SetOnUpdate 配置账本更新回调
func (s *Syncer) SetOnUpdate(fn func(result *SyncResult)) {
	s.onUpdate = fn
}

// Sync 执行一次同步周期
// 出错时返回已取得的部分结果和错误，账本保留已合并的记录
func (s *Syncer) Sync(ctx context.Context, mode SyncMode) (*SyncResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	acquired, err := s.dlock.TryLock(ctx, syncLockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("获取分布式锁失败: %w", err)
	}
	if !acquired {
		logger.Warn("⚠️ 其他实例正在同步，跳过本轮")
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := s.dlock.Unlock(context.Background(), syncLockKey); err != nil {
			logger.Warn("⚠️ 释放分布式锁失败: %v", err)
		}
	}()

	if mode == SyncModeAuto || mode == "" {
		if s.ledger.Len() == 0 {
			mode = SyncModeFull
		} else {
			mode = SyncModeIncremental
		}
	}

	start := time.Now()
	result := &SyncResult{
		Mode:      mode,
		StartedAt: start.Unix(),
	}

	logger.Info("🔄 开始同步交易历史: exchange=%s mode=%s", s.exchange.GetName(), mode)

	var syncErr error
	switch mode {
	case SyncModeFull:
		syncErr = s.runFull(ctx, result)
	case SyncModeIncremental:
		syncErr = s.runIncremental(ctx, result)
	default:
		return nil, fmt.Errorf("未知的同步模式: %s", mode)
	}

	result.Duration = time.Since(start)

	if syncErr != nil {
		// 保留部分进度：已入账的记录持久化，但不更新 lastFetchTime
		if result.NewTrades > 0 {
			s.ledger.SetTotalCount(s.ledger.Len())
			if err := s.ledger.Save(); err != nil {
				logger.Error("❌ 持久化部分进度失败: %v", err)
			}
		}
		logger.Error("❌ 同步中断: pages=%d new=%d err=%v", result.Pages, result.NewTrades, syncErr)
		return result, syncErr
	}

	if result.NewTrades > 0 {
		s.ledger.MarkSynced(start.Unix())
		if err := s.ledger.Save(); err != nil {
			logger.Error("❌ 持久化账本失败: %v", err)
		}
	}

	logger.Info("✅ 同步完成: mode=%s pages=%d new=%d total=%d 耗时=%v",
		mode, result.Pages, result.NewTrades, s.ledger.Len(), result.Duration)

	if result.NewTrades > 0 && s.onUpdate != nil {
		s.onUpdate(result)
	}

	return result, nil
}

// fetchPage 预约额度后拉取一页成交记录
func (s *Syncer) fetchPage(ctx context.Context, offset int) ([]*exchange.Trade, error) {
	if err := s.limiter.Reserve(ctx, exchange.CostTradePage); err != nil {
		return nil, fmt.Errorf("预约调用额度失败: %w", err)
	}

	pageCtx := ctx
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}

	return s.exchange.FetchTradePage(pageCtx, offset, s.pageSize)
}

// runFull 全量回填：从偏移 0 逐页拉取直到短页
func (s *Syncer) runFull(ctx context.Context, result *SyncResult) error {
	offset := 0
	for {
		page, err := s.fetchPage(ctx, offset)
		if err != nil {
			return err
		}
		result.Pages++

		for _, t := range page {
			if s.ledger.Insert(t) {
				result.NewTrades++
			}
		}

		logger.Debug("📄 全量同步第 %d 页: offset=%d 获取=%d", result.Pages, offset, len(page))

		if len(page) < s.pageSize {
			return nil
		}
		offset += s.pageSize
	}
}

// runIncremental 增量同步：从最新一页开始拉取，遇到整页已入账即收敛
func (s *Syncer) runIncremental(ctx context.Context, result *SyncResult) error {
	offset := 0
	for {
		page, err := s.fetchPage(ctx, offset)
		if err != nil {
			return err
		}
		result.Pages++

		newInPage := 0
		for _, t := range page {
			if s.ledger.Insert(t) {
				newInPage++
			}
		}
		result.NewTrades += newInPage

		logger.Debug("📄 增量同步第 %d 页: offset=%d 获取=%d 新增=%d", result.Pages, offset, len(page), newInPage)

		// 收敛条件：本页无新增，或返回短页
		if newInPage == 0 || len(page) < s.pageSize {
			return nil
		}
		offset += s.pageSize
	}
}
