package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"tradelens/exchange/binance"
)

// binanceWrapper 将币安适配器适配为 IExchange 接口，并完成错误分类
type binanceWrapper struct {
	adapter *binance.BinanceAdapter
}

func (w *binanceWrapper) GetName() string {
	return w.adapter.GetName()
}

// classifyBinanceErr 将客户端错误映射为网关错误分类
func classifyBinanceErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1001, -1003, -1016:
			// 断连、限流、服务下线属于临时故障
			return Transient(apiErr)
		}
		return &APIError{
			Exchange: "Binance",
			Code:     strconv.FormatInt(apiErr.Code, 10),
			Message:  apiErr.Message,
		}
	}

	return Transient(err)
}

func (w *binanceWrapper) FetchTradePage(ctx context.Context, offset, pageSize int) ([]*Trade, error) {
	start := time.Now()
	entries, err := w.adapter.FetchTradePage(ctx, offset, pageSize)
	recordCall(w.GetName(), "MyTrades", start, err)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	trades := make([]*Trade, 0, len(entries))
	for _, e := range entries {
		trades = append(trades, &Trade{
			ID:     e.ID,
			Pair:   e.Pair,
			Side:   e.Side,
			Price:  e.Price,
			Volume: e.Volume,
			Cost:   e.Cost,
			Time:   e.Time,
		})
	}
	return trades, nil
}

func (w *binanceWrapper) FetchBalance(ctx context.Context) (map[string]float64, error) {
	start := time.Now()
	balances, err := w.adapter.FetchBalance(ctx)
	recordCall(w.GetName(), "Account", start, err)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}
	return balances, nil
}

func (w *binanceWrapper) FetchOpenOrders(ctx context.Context) ([]*OpenOrder, error) {
	start := time.Now()
	entries, err := w.adapter.FetchOpenOrders(ctx)
	recordCall(w.GetName(), "OpenOrders", start, err)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	orders := make([]*OpenOrder, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, &OpenOrder{
			ID:        e.ID,
			Pair:      e.Pair,
			Side:      e.Side,
			Price:     e.Price,
			Volume:    e.Volume,
			CreatedAt: e.CreatedAt,
		})
	}
	return orders, nil
}
