package costbasis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tradelens/exchange"
	"tradelens/logger"
)

// Lot 持仓批次（一次买入形成的未消耗数量）
type Lot struct {
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Remaining float64 `json:"remaining"`
	Time      int64   `json:"time"`
}

// CompletedTrade 已完成的卖出记录
type CompletedTrade struct {
	SellTime      int64   `json:"sellTime"`
	SellPrice     float64 `json:"sellPrice"`
	Amount        float64 `json:"amount"`
	AmountMatched float64 `json:"amountMatched"`
	PnL           float64 `json:"pnl"`
	PnLPercent    float64 `json:"pnlPercent"`
}

// AssetLedger 单资产成本基础账本
// 每次重建整体替换，重建之间除资产键外无任何延续状态
type AssetLedger struct {
	Lots            []*Lot            `json:"lots"`
	TotalInvested   float64           `json:"totalInvested"`
	TotalReturned   float64           `json:"totalReturned"`
	RealizedPnL     float64           `json:"realizedPnL"`
	CompletedTrades []*CompletedTrade `json:"completedTrades"`
}

// Engine FIFO 成本基础引擎
// 账本每次有新增成交后整体重放重建，保证结果确定且幂等
type Engine struct {
	mu      sync.RWMutex
	ledgers map[string]*AssetLedger
	path    string
}

// NewEngine 创建成本基础引擎
func NewEngine(path string) *Engine {
	return &Engine{
		ledgers: make(map[string]*AssetLedger),
		path:    path,
	}
}

// quoteSuffixes 计价货币后缀，按长度优先匹配
var quoteSuffixes = []string{"USDT", "USDC", "ZUSD", "ZEUR", "XBT", "USD", "EUR", "BTC", "ETH"}

// AssetFromPair 从交易对推导基础资产键
// 例如 BTCUSDT→BTC、XXBTZUSD→XXBT，无法识别时用交易对本身兜底
func AssetFromPair(pair string) string {
	upper := strings.ToUpper(pair)
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return upper[:len(upper)-len(q)]
		}
	}
	return upper
}

// Rebuild 重放全部成交记录重建各资产的成本基础
// trades 必须按时间升序；单资产重放出错时保留该资产上一次的好账本
func (e *Engine) Rebuild(trades []*exchange.Trade) {
	grouped := make(map[string][]*exchange.Trade)
	for _, t := range trades {
		asset := AssetFromPair(t.Pair)
		grouped[asset] = append(grouped[asset], t)
	}

	rebuilt := make(map[string]*AssetLedger, len(grouped))
	e.mu.RLock()
	previous := e.ledgers
	e.mu.RUnlock()

	for asset, assetTrades := range grouped {
		ledger, err := replayAsset(assetTrades)
		if err != nil {
			logger.Error("❌ 资产 %s 重放失败，保留上一次账本: %v", asset, err)
			if old, ok := previous[asset]; ok {
				rebuilt[asset] = old
			}
			continue
		}
		rebuilt[asset] = ledger
	}

	e.mu.Lock()
	e.ledgers = rebuilt
	e.mu.Unlock()

	logger.Info("✅ 成本基础重建完成: %d 个资产, %d 条成交", len(rebuilt), len(trades))

	if err := e.Save(); err != nil {
		logger.Error("❌ 持久化成本基础失败: %v", err)
	}
}

// replayAsset 按 FIFO 重放单资产的成交序列
func replayAsset(trades []*exchange.Trade) (*AssetLedger, error) {
	ledger := &AssetLedger{
		Lots:            make([]*Lot, 0),
		CompletedTrades: make([]*CompletedTrade, 0),
	}

	for _, t := range trades {
		switch t.Side {
		case exchange.SideBuy:
			ledger.Lots = append(ledger.Lots, &Lot{
				Price:     t.Price,
				Amount:    t.Volume,
				Remaining: t.Volume,
				Time:      t.Time,
			})
			ledger.TotalInvested += t.Cost

		case exchange.SideSell:
			if t.Volume <= 0 {
				return nil, fmt.Errorf("卖出数量非法: id=%s vol=%f", t.ID, t.Volume)
			}

			// 从最旧的批次开始消耗
			toMatch := t.Volume
			amountMatched := 0.0
			costBasisUsed := 0.0
			for len(ledger.Lots) > 0 && toMatch > 0 {
				lot := ledger.Lots[0]
				consumed := lot.Remaining
				if consumed > toMatch {
					consumed = toMatch
				}
				lot.Remaining -= consumed
				toMatch -= consumed
				amountMatched += consumed
				costBasisUsed += consumed * lot.Price

				if lot.Remaining < 0 {
					return nil, fmt.Errorf("批次剩余数量为负: id=%s remaining=%f", t.ID, lot.Remaining)
				}
				if lot.Remaining == 0 {
					ledger.Lots = ledger.Lots[1:]
				}
			}

			ct := &CompletedTrade{
				SellTime:      t.Time,
				SellPrice:     t.Price,
				Amount:        t.Volume,
				AmountMatched: amountMatched,
			}

			if amountMatched > 0 {
				// 仅把匹配到持仓的那部分卖出所得计入盈亏
				matchedSaleValue := t.Cost * (amountMatched / t.Volume)
				ct.PnL = matchedSaleValue - costBasisUsed
				if costBasisUsed > 0 {
					ct.PnLPercent = ct.PnL / costBasisUsed * 100
				}
				ledger.RealizedPnL += ct.PnL
			}
			// 无成本基础的卖出（空投、奖励等）盈亏记 0，不计入 realizedPnL
			ledger.TotalReturned += t.Cost
			ledger.CompletedTrades = append(ledger.CompletedTrades, ct)

		default:
			return nil, fmt.Errorf("未知的成交方向: id=%s type=%s", t.ID, t.Side)
		}
	}

	return ledger, nil
}

// Load 从文件加载成本基础（文件缺失或损坏时用空结构启动）
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("ℹ️ 成本基础文件不存在，使用空结构启动: %s", e.path)
			return nil
		}
		logger.Warn("⚠️ 读取成本基础文件失败，使用空结构启动: %v", err)
		return nil
	}

	ledgers := make(map[string]*AssetLedger)
	if err := json.Unmarshal(data, &ledgers); err != nil {
		logger.Warn("⚠️ 成本基础文件损坏，使用空结构启动: %v", err)
		return nil
	}

	e.ledgers = ledgers
	logger.Info("✅ 成本基础加载完成: %d 个资产", len(ledgers))
	return nil
}

// Save 保存成本基础到文件
func (e *Engine) Save() error {
	e.mu.RLock()
	data, err := json.MarshalIndent(e.ledgers, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("序列化成本基础失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	tmpPath := e.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入成本基础临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("替换成本基础文件失败: %w", err)
	}
	return nil
}

// GetSnapshot 返回全部资产账本的深拷贝快照
func (e *Engine) GetSnapshot() map[string]*AssetLedger {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := make(map[string]*AssetLedger, len(e.ledgers))
	for asset, ledger := range e.ledgers {
		snapshot[asset] = copyLedger(ledger)
	}
	return snapshot
}

// GetAsset 返回单个资产账本的深拷贝（不存在时返回 nil）
func (e *Engine) GetAsset(asset string) *AssetLedger {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ledger, ok := e.ledgers[strings.ToUpper(asset)]
	if !ok {
		return nil
	}
	return copyLedger(ledger)
}

func copyLedger(src *AssetLedger) *AssetLedger {
	dst := &AssetLedger{
		Lots:            make([]*Lot, len(src.Lots)),
		TotalInvested:   src.TotalInvested,
		TotalReturned:   src.TotalReturned,
		RealizedPnL:     src.RealizedPnL,
		CompletedTrades: make([]*CompletedTrade, len(src.CompletedTrades)),
	}
	for i, lot := range src.Lots {
		copied := *lot
		dst.Lots[i] = &copied
	}
	for i, ct := range src.CompletedTrades {
		copied := *ct
		dst.CompletedTrades[i] = &copied
	}
	return dst
}
