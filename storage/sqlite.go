package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"tradelens/utils"
)

// SQLiteStorage SQLite 存储实现
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage 创建 SQLite 存储
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 并发限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// createTables 创建表
func createTables(db *sql.DB) error {
	// 同步历史表
	syncHistorySQL := `
	CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange TEXT,
		mode TEXT,
		pages INTEGER,
		new_trades INTEGER,
		total INTEGER,
		success INTEGER NOT NULL,
		error TEXT,
		duration_ms BIGINT,
		started_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sync_history_started_at ON sync_history(started_at);`

	// 已完成卖出归档表
	completedTradesSQL := `
	CREATE TABLE IF NOT EXISTS completed_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		sell_time TIMESTAMP NOT NULL,
		sell_price DECIMAL(20,8),
		amount DECIMAL(20,8),
		amount_matched DECIMAL(20,8),
		pnl DECIMAL(20,8),
		pnl_percent DECIMAL(10,4),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(asset, sell_time, sell_price, amount)
	);
	CREATE INDEX IF NOT EXISTS idx_completed_trades_asset ON completed_trades(asset);
	CREATE INDEX IF NOT EXISTS idx_completed_trades_sell_time ON completed_trades(sell_time);`

	// 事件表
	eventsSQL := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT,
		data TEXT,
		created_at TIMESTAMP
	);`

	for _, sqlStmt := range []string{syncHistorySQL, completedTradesSQL, eventsSQL} {
		if _, err := db.Exec(sqlStmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSyncRecord 保存同步历史
func (s *SQLiteStorage) SaveSyncRecord(record *SyncRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_history (exchange, mode, pages, new_trades, total, success, error, duration_ms, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Exchange, record.Mode, record.Pages, record.NewTrades, record.Total,
		boolToInt(record.Success), record.Error, record.Duration,
		utils.ToUTC(record.StartedAt), utils.NowUTC())
	if err != nil {
		return fmt.Errorf("保存同步历史失败: %w", err)
	}
	return nil
}

// SaveCompletedTrade 归档已完成卖出（重复记录静默跳过）
func (s *SQLiteStorage) SaveCompletedTrade(record *CompletedTradeRecord) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO completed_trades (asset, sell_time, sell_price, amount, amount_matched, pnl, pnl_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Asset, utils.ToUTC(record.SellTime), record.SellPrice, record.Amount,
		record.AmountMatched, record.PnL, record.PnLPercent, utils.NowUTC())
	if err != nil {
		return fmt.Errorf("归档已完成卖出失败: %w", err)
	}
	return nil
}

// SaveEvent 保存事件
func (s *SQLiteStorage) SaveEvent(eventType string, data map[string]interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件数据失败: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (event_type, data, created_at)
		VALUES (?, ?, ?)`,
		eventType, string(jsonData), utils.NowUTC())
	if err != nil {
		return fmt.Errorf("保存事件失败: %w", err)
	}
	return nil
}

// QuerySyncHistory 查询同步历史（按开始时间降序）
func (s *SQLiteStorage) QuerySyncHistory(limit, offset int) ([]*SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, exchange, mode, pages, new_trades, total, success, error, duration_ms, started_at, created_at
		FROM sync_history
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("查询同步历史失败: %w", err)
	}
	defer rows.Close()

	records := make([]*SyncRecord, 0)
	for rows.Next() {
		record := &SyncRecord{}
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&record.ID, &record.Exchange, &record.Mode, &record.Pages,
			&record.NewTrades, &record.Total, &success, &errMsg,
			&record.Duration, &record.StartedAt, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描同步历史失败: %w", err)
		}
		record.Success = success != 0
		record.Error = errMsg.String
		records = append(records, record)
	}
	return records, rows.Err()
}

// QueryCompletedTrades 查询归档的已完成卖出
func (s *SQLiteStorage) QueryCompletedTrades(asset string, startTime, endTime time.Time, limit, offset int) ([]*CompletedTradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, asset, sell_time, sell_price, amount, amount_matched, pnl, pnl_percent, created_at
		FROM completed_trades
		WHERE sell_time >= ? AND sell_time <= ?`
	args := []interface{}{utils.ToUTC(startTime), utils.ToUTC(endTime)}
	if asset != "" {
		query += " AND asset = ?"
		args = append(args, asset)
	}
	query += " ORDER BY sell_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询归档卖出记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]*CompletedTradeRecord, 0)
	for rows.Next() {
		record := &CompletedTradeRecord{}
		if err := rows.Scan(&record.ID, &record.Asset, &record.SellTime, &record.SellPrice,
			&record.Amount, &record.AmountMatched, &record.PnL, &record.PnLPercent, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描归档卖出记录失败: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetPnLByAsset 按资产统计归档盈亏
func (s *SQLiteStorage) GetPnLByAsset(startTime, endTime time.Time) ([]*PnLSummary, error) {
	rows, err := s.db.Query(`
		SELECT asset,
			COUNT(*) as trade_count,
			COALESCE(SUM(pnl), 0) as total_pnl,
			COALESCE(SUM(CASE WHEN pnl >= 0 THEN 1 ELSE 0 END), 0) as win_count,
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0) as loss_count
		FROM completed_trades
		WHERE sell_time >= ? AND sell_time <= ?
		GROUP BY asset
		ORDER BY total_pnl DESC`,
		utils.ToUTC(startTime), utils.ToUTC(endTime))
	if err != nil {
		return nil, fmt.Errorf("统计归档盈亏失败: %w", err)
	}
	defer rows.Close()

	summaries := make([]*PnLSummary, 0)
	for rows.Next() {
		summary := &PnLSummary{}
		if err := rows.Scan(&summary.Asset, &summary.TradeCount, &summary.TotalPnL,
			&summary.WinCount, &summary.LossCount); err != nil {
			return nil, fmt.Errorf("扫描盈亏汇总失败: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Close 关闭数据库连接
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
