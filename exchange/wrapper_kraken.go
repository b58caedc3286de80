package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"tradelens/exchange/kraken"
	"tradelens/metrics"
)

// krakenWrapper 将 Kraken 客户端适配为 IExchange 接口，并完成错误分类
type krakenWrapper struct {
	client *kraken.KrakenClient
}

func (w *krakenWrapper) GetName() string {
	return "Kraken"
}

// classifyKrakenErr 将客户端错误映射为网关错误分类
// Kraken 的业务错误以错误码前缀区分：EAPI/EAuth/EPermission 等属于配置或
// 认证问题，重试无意义；EService/EGeneral:Temporary 属于临时故障
func classifyKrakenErr(err error) error {
	if err == nil {
		return nil
	}

	var remoteErr *kraken.RemoteError
	if errors.As(err, &remoteErr) {
		if remoteErr.Retryable() {
			return Transient(remoteErr)
		}
		return &APIError{
			Exchange: "Kraken",
			Code:     firstErrorCode(remoteErr.Errors),
			Message:  remoteErr.Error(),
		}
	}

	// 网络层错误（连接失败、超时、HTTP 非200）一律视为瞬时错误
	return Transient(err)
}

// firstErrorCode 提取第一条错误的代码部分（如 "EAPI:Invalid nonce" → "EAPI"）
func firstErrorCode(msgs []string) string {
	if len(msgs) == 0 {
		return "unknown"
	}
	if idx := strings.Index(msgs[0], ":"); idx > 0 {
		return msgs[0][:idx]
	}
	return msgs[0]
}

// recordCall 上报一次 API 调用指标
func recordCall(exchange, endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.GetPrometheusMetrics().RecordAPICall(exchange, endpoint, status, time.Since(start))
}

func (w *krakenWrapper) FetchTradePage(ctx context.Context, offset, pageSize int) ([]*Trade, error) {
	// Kraken 的 TradesHistory 固定每页 50 条，pageSize 由配置对齐
	start := time.Now()
	entries, _, err := w.client.GetTradesHistory(ctx, offset)
	recordCall("Kraken", "TradesHistory", start, err)
	if err != nil {
		return nil, classifyKrakenErr(err)
	}

	trades := make([]*Trade, 0, len(entries))
	for _, e := range entries {
		trades = append(trades, &Trade{
			ID:     e.ID,
			Pair:   e.Pair,
			Side:   e.Type,
			Price:  e.Price,
			Volume: e.Volume,
			Cost:   e.Cost,
			Time:   e.Time,
		})
	}
	return trades, nil
}

func (w *krakenWrapper) FetchBalance(ctx context.Context) (map[string]float64, error) {
	start := time.Now()
	balances, err := w.client.GetBalance(ctx)
	recordCall("Kraken", "Balance", start, err)
	if err != nil {
		return nil, classifyKrakenErr(err)
	}
	return balances, nil
}

func (w *krakenWrapper) FetchOpenOrders(ctx context.Context) ([]*OpenOrder, error) {
	start := time.Now()
	entries, err := w.client.GetOpenOrders(ctx)
	recordCall("Kraken", "OpenOrders", start, err)
	if err != nil {
		return nil, classifyKrakenErr(err)
	}

	orders := make([]*OpenOrder, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, &OpenOrder{
			ID:        e.ID,
			Pair:      e.Pair,
			Side:      e.Type,
			Price:     e.Price,
			Volume:    e.Volume,
			CreatedAt: e.OpenTm,
		})
	}
	return orders, nil
}
