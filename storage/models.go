package storage

import "time"

// SyncRecord 同步历史记录
type SyncRecord struct {
	ID        int64     `json:"id"`
	Exchange  string    `json:"exchange"`
	Mode      string    `json:"mode"`
	Pages     int       `json:"pages"`
	NewTrades int       `json:"new_trades"`
	Total     int       `json:"total"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CompletedTradeRecord 已完成卖出的归档记录
type CompletedTradeRecord struct {
	ID            int64     `json:"id"`
	Asset         string    `json:"asset"`
	SellTime      time.Time `json:"sell_time"`
	SellPrice     float64   `json:"sell_price"`
	Amount        float64   `json:"amount"`
	AmountMatched float64   `json:"amount_matched"`
	PnL           float64   `json:"pnl"`
	PnLPercent    float64   `json:"pnl_percent"`
	CreatedAt     time.Time `json:"created_at"`
}

// PnLSummary 按资产统计的归档盈亏汇总
type PnLSummary struct {
	Asset       string  `json:"asset"`
	TradeCount  int     `json:"trade_count"`
	TotalPnL    float64 `json:"total_pnl"`
	WinCount    int     `json:"win_count"`
	LossCount   int     `json:"loss_count"`
}
