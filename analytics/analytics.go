package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tradelens/costbasis"
	"tradelens/logger"
)

// Summary 全局统计摘要
// recent* 为最近 N 笔的计数窗口，weekly* 为最近 7 天的时间窗口，两者独立计算
type Summary struct {
	TotalTrades   int     `json:"totalTrades"`
	RealizedPnL   float64 `json:"realizedPnL"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
	RecentPnL     float64 `json:"recentPnL"`
	RecentWinRate float64 `json:"recentWinRate"`
	WeeklyPnL     float64 `json:"weeklyPnL"`
	WeeklyWinRate float64 `json:"weeklyWinRate"`
}

// Report 分析报告（持久化与对外暴露的完整结构）
type Report struct {
	LastUpdate     int64                      `json:"lastUpdate"`
	Summary        *Summary                   `json:"summary"`
	RecentActivity []*costbasis.CompletedTrade `json:"recentActivity"`
}

// Aggregator 分析聚合器
type Aggregator struct {
	mu     sync.RWMutex
	report *Report
	path   string

	recentWindowSize int
	timeWindowDays   int

	now func() time.Time // 测试钩子
}

// NewAggregator 创建分析聚合器
func NewAggregator(path string, recentWindowSize, timeWindowDays int) *Aggregator {
	if recentWindowSize <= 0 {
		recentWindowSize = 50
	}
	if timeWindowDays <= 0 {
		timeWindowDays = 7
	}
	return &Aggregator{
		report:           emptyReport(),
		path:             path,
		recentWindowSize: recentWindowSize,
		timeWindowDays:   timeWindowDays,
		now:              time.Now,
	}
}

func emptyReport() *Report {
	return &Report{
		Summary:        &Summary{},
		RecentActivity: make([]*costbasis.CompletedTrade, 0),
	}
}

// Summarize 汇总全部资产的成本基础账本生成统计摘要
func (a *Aggregator) Summarize(ledgers map[string]*costbasis.AssetLedger) *Report {
	all := make([]*costbasis.CompletedTrade, 0)
	realizedPnL := 0.0
	for _, ledger := range ledgers {
		all = append(all, ledger.CompletedTrades...)
		realizedPnL += ledger.RealizedPnL
	}

	// 按卖出时间降序，最新的在前
	sort.Slice(all, func(i, j int) bool {
		return all[i].SellTime > all[j].SellTime
	})

	summary := &Summary{
		TotalTrades: len(all),
		RealizedPnL: realizedPnL,
	}
	for _, ct := range all {
		if ct.PnL >= 0 {
			summary.WinningTrades++
		} else {
			summary.LosingTrades++
		}
	}
	if len(all) > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(len(all)) * 100
	}

	// 计数窗口：最近 N 笔
	recent := all
	if len(recent) > a.recentWindowSize {
		recent = recent[:a.recentWindowSize]
	}
	summary.RecentPnL, summary.RecentWinRate = windowStats(recent)

	// 时间窗口：最近 N 天
	cutoff := a.now().Add(-time.Duration(a.timeWindowDays) * 24 * time.Hour).Unix()
	weekly := make([]*costbasis.CompletedTrade, 0)
	for _, ct := range all {
		if ct.SellTime >= cutoff {
			weekly = append(weekly, ct)
		}
	}
	summary.WeeklyPnL, summary.WeeklyWinRate = windowStats(weekly)

	report := &Report{
		LastUpdate:     a.now().Unix(),
		Summary:        summary,
		RecentActivity: recent,
	}

	a.mu.Lock()
	a.report = report
	a.mu.Unlock()

	logger.Info("📊 分析更新: 总计=%d 胜率=%.1f%% 已实现盈亏=%.2f 周盈亏=%.2f",
		summary.TotalTrades, summary.WinRate, summary.RealizedPnL, summary.WeeklyPnL)

	if err := a.Save(); err != nil {
		logger.Error("❌ 持久化分析报告失败: %v", err)
	}

	return report
}

// windowStats 计算窗口内的盈亏合计与胜率
func windowStats(trades []*costbasis.CompletedTrade) (pnl float64, winRate float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	wins := 0
	for _, ct := range trades {
		pnl += ct.PnL
		if ct.PnL >= 0 {
			wins++
		}
	}
	winRate = float64(wins) / float64(len(trades)) * 100
	return pnl, winRate
}

// GetReport 返回当前分析报告
func (a *Aggregator) GetReport() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.report
}

// Load 从文件加载上一次的分析报告（缺失或损坏时用空报告启动）
func (a *Aggregator) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Warn("⚠️ 读取分析报告失败，使用空报告启动: %v", err)
		return nil
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		logger.Warn("⚠️ 分析报告文件损坏，使用空报告启动: %v", err)
		return nil
	}
	if report.Summary == nil {
		report.Summary = &Summary{}
	}
	if report.RecentActivity == nil {
		report.RecentActivity = make([]*costbasis.CompletedTrade, 0)
	}

	a.report = &report
	return nil
}

// Save 保存分析报告到文件
func (a *Aggregator) Save() error {
	a.mu.RLock()
	data, err := json.MarshalIndent(a.report, "", "  ")
	a.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("序列化分析报告失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	tmpPath := a.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入分析报告临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return fmt.Errorf("替换分析报告文件失败: %w", err)
	}
	return nil
}
