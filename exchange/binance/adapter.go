package binance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
)

// AccountTrade 账户成交记录（为避免循环导入，在这里定义需要的类型）
type AccountTrade struct {
	ID     string
	Pair   string
	Side   string // buy / sell
	Price  float64
	Volume float64
	Cost   float64 // 计价币种名义金额
	Time   int64   // unix 秒
}

// BinanceAdapter 币安现货适配器
// Binance 的成交历史按交易对查询且以 fromId 翻页，这里转换为
// 账户级的 offset 分页：按配置的交易对各取最近若干条，合并后按时间降序切窗
type BinanceAdapter struct {
	client     *binance.Client
	pairs      []string
	useTestnet bool
}

// maxFetchPerPair 单交易对单次最多拉取条数（接口上限 1000）
const maxFetchPerPair = 1000

// NewBinanceAdapter 创建币安适配器
func NewBinanceAdapter(cfg map[string]string, pairs []string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("Binance 适配器需要配置交易对列表")
	}

	// 设置测试网模式（必须在创建客户端之前设置）
	useTestnet := cfg["testnet"] == "true"
	binance.UseTestnet = useTestnet

	return &BinanceAdapter{
		client:     binance.NewClient(apiKey, secretKey),
		pairs:      pairs,
		useTestnet: useTestnet,
	}, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// FetchTradePage 获取一页成交记录（时间降序）
func (b *BinanceAdapter) FetchTradePage(ctx context.Context, offset, pageSize int) ([]*AccountTrade, error) {
	// 每个交易对都需要覆盖到 offset+pageSize 深度，合并后才能正确切窗
	perPairLimit := offset + pageSize
	if perPairLimit > maxFetchPerPair {
		perPairLimit = maxFetchPerPair
	}

	var merged []*AccountTrade
	for _, pair := range b.pairs {
		trades, err := b.client.NewListTradesService().
			Symbol(pair).
			Limit(perPairLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取 %s 成交历史失败: %w", pair, err)
		}

		for _, t := range trades {
			entry, err := convertTrade(pair, t)
			if err != nil {
				return nil, err
			}
			merged = append(merged, entry)
		}
	}

	// 合并后按时间降序（同时间按ID兜底，保证确定性）
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Time != merged[j].Time {
			return merged[i].Time > merged[j].Time
		}
		return merged[i].ID > merged[j].ID
	})

	if offset >= len(merged) {
		return nil, nil
	}
	end := offset + pageSize
	if end > len(merged) {
		end = len(merged)
	}
	return merged[offset:end], nil
}

// convertTrade 转换单条成交记录
func convertTrade(pair string, t *binance.TradeV3) (*AccountTrade, error) {
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交 %d 价格失败: %w", t.ID, err)
	}
	qty, err := strconv.ParseFloat(t.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交 %d 数量失败: %w", t.ID, err)
	}
	quoteQty, err := strconv.ParseFloat(t.QuoteQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交 %d 金额失败: %w", t.ID, err)
	}

	side := "sell"
	if t.IsBuyer {
		side = "buy"
	}

	return &AccountTrade{
		// 成交ID在交易对内唯一，拼上交易对保证账户级唯一
		ID:     fmt.Sprintf("%s-%d", pair, t.ID),
		Pair:   pair,
		Side:   side,
		Price:  price,
		Volume: qty,
		Cost:   quoteQty,
		Time:   t.Time / 1000, // 毫秒转秒
	}, nil
}

// FetchBalance 获取账户余额
func (b *BinanceAdapter) FetchBalance(ctx context.Context) (map[string]float64, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	balances := make(map[string]float64)
	for _, bal := range account.Balances {
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			continue
		}
		locked, err := strconv.ParseFloat(bal.Locked, 64)
		if err != nil {
			continue
		}
		if free+locked > 0 {
			balances[bal.Asset] = free + locked
		}
	}
	return balances, nil
}

// OpenOrderEntry 未完成订单条目
type OpenOrderEntry struct {
	ID        string
	Pair      string
	Side      string
	Price     float64
	Volume    float64
	CreatedAt int64
}

// FetchOpenOrders 获取未完成订单
func (b *BinanceAdapter) FetchOpenOrders(ctx context.Context) ([]*OpenOrderEntry, error) {
	var result []*OpenOrderEntry
	for _, pair := range b.pairs {
		orders, err := b.client.NewListOpenOrdersService().Symbol(pair).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取 %s 挂单失败: %w", pair, err)
		}
		for _, o := range orders {
			price, _ := strconv.ParseFloat(o.Price, 64)
			qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
			result = append(result, &OpenOrderEntry{
				ID:        strconv.FormatInt(o.OrderID, 10),
				Pair:      o.Symbol,
				Side:      strings.ToLower(string(o.Side)),
				Price:     price,
				Volume:    qty,
				CreatedAt: o.Time / 1000,
			})
		}
	}
	return result, nil
}
