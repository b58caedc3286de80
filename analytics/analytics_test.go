package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"tradelens/costbasis"
)

func tempReportPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "analytics.json")
}

func fixedNow() time.Time {
	return time.Unix(1700000000, 0)
}

func TestSummarizeBasics(t *testing.T) {
	a := NewAggregator(tempReportPath(t), 50, 7)
	a.now = fixedNow

	ledgers := map[string]*costbasis.AssetLedger{
		"BTC": {
			RealizedPnL: 1500,
			CompletedTrades: []*costbasis.CompletedTrade{
				{SellTime: fixedNow().Unix() - 100, PnL: 1000},
				{SellTime: fixedNow().Unix() - 200, PnL: 500},
			},
		},
		"ETH": {
			RealizedPnL: -300,
			CompletedTrades: []*costbasis.CompletedTrade{
				{SellTime: fixedNow().Unix() - 300, PnL: -300},
			},
		},
	}

	report := a.Summarize(ledgers)
	s := report.Summary

	if s.TotalTrades != 3 {
		t.Errorf("totalTrades 错误: %d", s.TotalTrades)
	}
	if s.RealizedPnL != 1200 {
		t.Errorf("realizedPnL 错误: %f", s.RealizedPnL)
	}
	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("胜负计数错误: win=%d loss=%d", s.WinningTrades, s.LosingTrades)
	}
	wantRate := 2.0 / 3.0 * 100
	if s.WinRate < wantRate-0.01 || s.WinRate > wantRate+0.01 {
		t.Errorf("winRate 错误: %f", s.WinRate)
	}
}

func TestZeroPnLCountsAsWin(t *testing.T) {
	a := NewAggregator(tempReportPath(t), 50, 7)
	a.now = fixedNow

	report := a.Summarize(map[string]*costbasis.AssetLedger{
		"XRP": {
			CompletedTrades: []*costbasis.CompletedTrade{
				{SellTime: fixedNow().Unix(), PnL: 0},
			},
		},
	})

	// pnl = 0（如无成本基础的卖出）归为盈利方
	if report.Summary.WinningTrades != 1 || report.Summary.LosingTrades != 0 {
		t.Errorf("pnl=0 应计为盈利: %+v", report.Summary)
	}
}

func TestCountWindowIndependentOfTimeWindow(t *testing.T) {
	// 计数窗口取最近 2 笔，时间窗口取最近 7 天，两者允许不一致
	a := NewAggregator(tempReportPath(t), 2, 7)
	a.now = fixedNow

	now := fixedNow().Unix()
	dayAgo := now - 24*3600
	monthAgo := now - 30*24*3600

	report := a.Summarize(map[string]*costbasis.AssetLedger{
		"BTC": {
			CompletedTrades: []*costbasis.CompletedTrade{
				{SellTime: now, PnL: 100},
				{SellTime: dayAgo, PnL: 200},
				{SellTime: dayAgo - 100, PnL: 400}, // 在 7 天窗口内但被计数窗口挤出
				{SellTime: monthAgo, PnL: -1000},   // 两个窗口都不含（计数窗口容量 2）
			},
		},
	})
	s := report.Summary

	// 计数窗口：最近 2 笔 = 100 + 200
	if s.RecentPnL != 300 {
		t.Errorf("recentPnL 错误: %f", s.RecentPnL)
	}
	if s.RecentWinRate != 100 {
		t.Errorf("recentWinRate 错误: %f", s.RecentWinRate)
	}

	// 时间窗口：7 天内 = 100 + 200 + 400
	if s.WeeklyPnL != 700 {
		t.Errorf("weeklyPnL 错误: %f", s.WeeklyPnL)
	}
	if s.WeeklyWinRate != 100 {
		t.Errorf("weeklyWinRate 错误: %f", s.WeeklyWinRate)
	}

	if len(report.RecentActivity) != 2 {
		t.Errorf("recentActivity 长度错误: %d", len(report.RecentActivity))
	}
	// 最新的在前
	if report.RecentActivity[0].SellTime != now {
		t.Errorf("recentActivity 排序错误: %+v", report.RecentActivity[0])
	}
}

func TestEmptyLedgers(t *testing.T) {
	a := NewAggregator(tempReportPath(t), 50, 7)
	a.now = fixedNow

	report := a.Summarize(map[string]*costbasis.AssetLedger{})
	if report.Summary.TotalTrades != 0 || report.Summary.WinRate != 0 {
		t.Errorf("空输入的摘要应全为零: %+v", report.Summary)
	}
	if report.Summary.RecentPnL != 0 || report.Summary.WeeklyPnL != 0 {
		t.Errorf("空输入的窗口应全为零: %+v", report.Summary)
	}
}

func TestReportSaveAndLoad(t *testing.T) {
	path := tempReportPath(t)
	a := NewAggregator(path, 50, 7)
	a.now = fixedNow

	a.Summarize(map[string]*costbasis.AssetLedger{
		"BTC": {
			RealizedPnL: 800,
			CompletedTrades: []*costbasis.CompletedTrade{
				{SellTime: fixedNow().Unix(), SellPrice: 50000, Amount: 0.1, AmountMatched: 0.1, PnL: 800, PnLPercent: 19},
			},
		},
	})

	reloaded := NewAggregator(path, 50, 7)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("加载分析报告失败: %v", err)
	}

	got := reloaded.GetReport()
	if got.LastUpdate != fixedNow().Unix() {
		t.Errorf("lastUpdate 错误: %d", got.LastUpdate)
	}
	if got.Summary.RealizedPnL != 800 {
		t.Errorf("realizedPnL 未恢复: %f", got.Summary.RealizedPnL)
	}
	if len(got.RecentActivity) != 1 || got.RecentActivity[0].PnL != 800 {
		t.Errorf("recentActivity 未恢复: %+v", got.RecentActivity)
	}
}
