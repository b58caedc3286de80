package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tradelens/exchange"
	"tradelens/logger"
)

// TradeLedger 交易账本
// id→成交记录的映射，只增不删不改；由 Syncer 独占写入，读取方通过快照访问
type TradeLedger struct {
	mu            sync.RWMutex
	trades        map[string]*exchange.Trade
	totalCount    int
	lastFetchTime int64
	path          string
}

// storedTrade 持久化的成交记录（id 作为外层键，不重复存储）
type storedTrade struct {
	Pair  string  `json:"pair"`
	Type  string  `json:"type"`
	Price float64 `json:"price"`
	Vol   float64 `json:"vol"`
	Cost  float64 `json:"cost"`
	Time  int64   `json:"time"`
}

// ledgerFile 账本文件结构
type ledgerFile struct {
	Trades        map[string]storedTrade `json:"trades"`
	LastFetchTime int64                  `json:"lastFetchTime"`
	TotalCount    int                    `json:"totalCount"`
}

// NewTradeLedger 创建交易账本
func NewTradeLedger(path string) *TradeLedger {
	return &TradeLedger{
		trades: make(map[string]*exchange.Trade),
		path:   path,
	}
}

// Load 从文件加载账本
// 文件不存在或损坏时使用空账本启动，不阻塞进程
func (l *TradeLedger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("ℹ️ 账本文件不存在，使用空账本启动: %s", l.path)
			return nil
		}
		logger.Warn("⚠️ 读取账本文件失败，使用空账本启动: %v", err)
		return nil
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warn("⚠️ 账本文件损坏，使用空账本启动: %v", err)
		return nil
	}

	l.trades = make(map[string]*exchange.Trade, len(file.Trades))
	for id, st := range file.Trades {
		l.trades[id] = &exchange.Trade{
			ID:     id,
			Pair:   st.Pair,
			Side:   st.Type,
			Price:  st.Price,
			Volume: st.Vol,
			Cost:   st.Cost,
			Time:   st.Time,
		}
	}
	l.totalCount = file.TotalCount
	l.lastFetchTime = file.LastFetchTime

	logger.Info("✅ 账本加载完成: %d 条成交记录", len(l.trades))
	return nil
}

// Save 保存账本到文件（先写临时文件再改名，避免写一半损坏）
func (l *TradeLedger) Save() error {
	l.mu.RLock()
	file := ledgerFile{
		Trades:        make(map[string]storedTrade, len(l.trades)),
		LastFetchTime: l.lastFetchTime,
		TotalCount:    l.totalCount,
	}
	for id, t := range l.trades {
		file.Trades[id] = storedTrade{
			Pair:  t.Pair,
			Type:  t.Side,
			Price: t.Price,
			Vol:   t.Volume,
			Cost:  t.Cost,
			Time:  t.Time,
		}
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化账本失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入账本临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("替换账本文件失败: %w", err)
	}

	return nil
}

// Has 判断成交记录是否已入账
func (l *TradeLedger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.trades[id]
	return ok
}

// Insert 插入成交记录（已存在时返回 false，记录不可变）
func (l *TradeLedger) Insert(t *exchange.Trade) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.trades[t.ID]; ok {
		return false
	}
	l.trades[t.ID] = t
	return true
}

// Len 返回账本中的成交记录数量
func (l *TradeLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// TotalCount 返回最近一次同步完成时记录的总数
func (l *TradeLedger) TotalCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalCount
}

// LastFetchTime 返回最近一次成功同步的时间（unix 秒）
func (l *TradeLedger) LastFetchTime() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastFetchTime
}

// SetTotalCount 更新记录总数（部分进度持久化时使用，不触碰 lastFetchTime）
func (l *TradeLedger) SetTotalCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalCount = n
}

// MarkSynced 同步成功后更新总数与同步时间
func (l *TradeLedger) MarkSynced(fetchTime int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalCount = len(l.trades)
	l.lastFetchTime = fetchTime
}

// TradesAscending 返回按时间升序排列的全部成交记录副本
// 时间相同的按ID升序兜底，保证重放顺序确定
func (l *TradeLedger) TradesAscending() []*exchange.Trade {
	l.mu.RLock()
	trades := make([]*exchange.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		copied := *t
		trades = append(trades, &copied)
	}
	l.mu.RUnlock()

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Time != trades[j].Time {
			return trades[i].Time < trades[j].Time
		}
		return trades[i].ID < trades[j].ID
	})
	return trades
}

// Snapshot 账本快照（供 Web 层读取）
type Snapshot struct {
	TotalCount    int               `json:"totalCount"`
	LastFetchTime int64             `json:"lastFetchTime"`
	Trades        []*exchange.Trade `json:"trades"`
}

// GetSnapshot 返回账本快照（成交记录按时间升序）
func (l *TradeLedger) GetSnapshot() *Snapshot {
	trades := l.TradesAscending()

	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Snapshot{
		TotalCount:    l.totalCount,
		LastFetchTime: l.lastFetchTime,
		Trades:        trades,
	}
}
