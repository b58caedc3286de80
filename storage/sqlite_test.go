package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "tradelens.db"))
	if err != nil {
		t.Fatalf("初始化 SQLite 存储失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndQuerySyncHistory(t *testing.T) {
	s := newTestStorage(t)

	base := time.Unix(1700000000, 0)
	records := []*SyncRecord{
		{Exchange: "Kraken", Mode: "full", Pages: 3, NewTrades: 130, Total: 130, Success: true, Duration: 2500, StartedAt: base},
		{Exchange: "Kraken", Mode: "incremental", Pages: 1, NewTrades: 0, Total: 130, Success: true, Duration: 600, StartedAt: base.Add(5 * time.Minute)},
		{Exchange: "Kraken", Mode: "incremental", Pages: 2, NewTrades: 10, Total: 140, Success: false, Error: "网关瞬时错误", Duration: 1200, StartedAt: base.Add(10 * time.Minute)},
	}
	for _, r := range records {
		if err := s.SaveSyncRecord(r); err != nil {
			t.Fatalf("保存同步历史失败: %v", err)
		}
	}

	got, err := s.QuerySyncHistory(10, 0)
	if err != nil {
		t.Fatalf("查询同步历史失败: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("记录数错误: %d", len(got))
	}
	// 按开始时间降序
	if got[0].Mode != "incremental" || got[0].Success {
		t.Errorf("排序错误或字段丢失: %+v", got[0])
	}
	if got[0].Error != "网关瞬时错误" {
		t.Errorf("错误信息未保存: %q", got[0].Error)
	}
	if got[2].Mode != "full" || got[2].NewTrades != 130 {
		t.Errorf("最早的记录错误: %+v", got[2])
	}

	// 分页
	page, err := s.QuerySyncHistory(1, 1)
	if err != nil {
		t.Fatalf("分页查询失败: %v", err)
	}
	if len(page) != 1 || page[0].Pages != 1 {
		t.Errorf("分页结果错误: %+v", page)
	}
}

func TestSaveCompletedTradeDeduplicates(t *testing.T) {
	s := newTestStorage(t)

	record := &CompletedTradeRecord{
		Asset:         "BTC",
		SellTime:      time.Unix(1700000000, 0),
		SellPrice:     50000,
		Amount:        0.5,
		AmountMatched: 0.5,
		PnL:           1200,
		PnLPercent:    5.0,
	}

	// 每次重建都会重新归档同一批卖出，必须幂等
	for i := 0; i < 3; i++ {
		if err := s.SaveCompletedTrade(record); err != nil {
			t.Fatalf("归档失败: %v", err)
		}
	}

	got, err := s.QueryCompletedTrades("BTC", time.Unix(0, 0), time.Unix(1800000000, 0), 10, 0)
	if err != nil {
		t.Fatalf("查询归档失败: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("重复归档应去重: %d", len(got))
	}
	if got[0].PnL != 1200 || got[0].Asset != "BTC" {
		t.Errorf("归档字段错误: %+v", got[0])
	}
}

func TestGetPnLByAsset(t *testing.T) {
	s := newTestStorage(t)

	base := time.Unix(1700000000, 0)
	trades := []*CompletedTradeRecord{
		{Asset: "BTC", SellTime: base, SellPrice: 50000, Amount: 0.1, AmountMatched: 0.1, PnL: 1000},
		{Asset: "BTC", SellTime: base.Add(time.Hour), SellPrice: 48000, Amount: 0.1, AmountMatched: 0.1, PnL: -200},
		{Asset: "ETH", SellTime: base.Add(2 * time.Hour), SellPrice: 3000, Amount: 1.0, AmountMatched: 1.0, PnL: 300},
	}
	for _, ct := range trades {
		if err := s.SaveCompletedTrade(ct); err != nil {
			t.Fatalf("归档失败: %v", err)
		}
	}

	summaries, err := s.GetPnLByAsset(time.Unix(0, 0), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("资产数错误: %d", len(summaries))
	}
	// 按总盈亏降序：BTC 800 在前
	if summaries[0].Asset != "BTC" || summaries[0].TotalPnL != 800 {
		t.Errorf("BTC 汇总错误: %+v", summaries[0])
	}
	if summaries[0].WinCount != 1 || summaries[0].LossCount != 1 {
		t.Errorf("胜负计数错误: %+v", summaries[0])
	}
	if summaries[1].Asset != "ETH" || summaries[1].TotalPnL != 300 {
		t.Errorf("ETH 汇总错误: %+v", summaries[1])
	}
}

func TestSaveEvent(t *testing.T) {
	s := newTestStorage(t)

	err := s.SaveEvent("sync_started", map[string]interface{}{
		"exchange": "Kraken",
		"mode":     "full",
	})
	if err != nil {
		t.Fatalf("保存事件失败: %v", err)
	}
}
