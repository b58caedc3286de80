package exchange

import "context"

// 成交方向
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// 各类调用的预算成本（单位：计数器点数）
// 成交历史分页最重（每页2点），余额/挂单查询各1点，下单撤单不计点
const (
	CostTradePage  = 2.0
	CostBalance    = 1.0
	CostOpenOrders = 1.0
)

// Trade 成交记录
// 唯一ID由交易所分配；入账后不可变
type Trade struct {
	ID     string  `json:"id"`
	Pair   string  `json:"pair"`
	Side   string  `json:"type"` // buy / sell
	Price  float64 `json:"price"`
	Volume float64 `json:"vol"`
	Cost   float64 `json:"cost"` // 计价币种名义金额
	Time   int64   `json:"time"` // unix 秒
}

// OpenOrder 未完成订单
type OpenOrder struct {
	ID        string  `json:"id"`
	Pair      string  `json:"pair"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"vol"`
	CreatedAt int64   `json:"created_at"`
}

// IExchange 交易所网关接口
// FetchTradePage 返回严格按时间降序排列的一页成交记录；
// offset 为从最新一笔起算的偏移量，页不足 pageSize 条表示已到历史末尾
type IExchange interface {
	GetName() string
	FetchTradePage(ctx context.Context, offset, pageSize int) ([]*Trade, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	FetchOpenOrders(ctx context.Context) ([]*OpenOrder, error)
}
