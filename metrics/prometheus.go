package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API 调用指标
	apiCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_api_call_total",
			Help: "Total number of exchange API calls",
		},
		[]string{"exchange", "endpoint", "status"},
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelens_api_call_duration_seconds",
			Help:    "Exchange API call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"exchange", "endpoint"},
	)

	// 调用额度指标
	rateBudgetCounter = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_rate_budget_counter",
			Help: "Current value of the decaying rate budget counter",
		},
	)

	rateBudgetMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_rate_budget_max",
			Help: "Maximum value of the rate budget counter",
		},
	)

	rateBudgetWaitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradelens_rate_budget_wait_total",
			Help: "Total number of waits caused by an exhausted rate budget",
		},
	)

	// 同步指标
	syncRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_sync_run_total",
			Help: "Total number of sync cycles",
		},
		[]string{"exchange", "mode", "result"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelens_sync_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"exchange", "mode"},
	)

	syncNewTrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_sync_new_trades_total",
			Help: "Total number of new trades discovered by sync",
		},
		[]string{"exchange"},
	)

	ledgerSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_ledger_size",
			Help: "Number of trades in the local ledger",
		},
	)

	// 盈亏指标
	realizedPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_realized_pnl",
			Help: "Global realized profit and loss",
		},
	)

	assetRealizedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradelens_asset_realized_pnl",
			Help: "Per-asset realized profit and loss",
		},
		[]string{"asset"},
	)

	winRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_win_rate",
			Help: "Win rate percentage (0-100)",
		},
	)

	completedTradeTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_completed_trade_total",
			Help: "Total number of completed sell trades",
		},
	)

	// WebSocket 指标
	wsClientCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradelens_ws_client_count",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

var (
	instance *PrometheusMetrics
	once     sync.Once
)

// GetPrometheusMetrics 获取全局指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// RecordAPICall 记录一次交易所 API 调用
func (pm *PrometheusMetrics) RecordAPICall(exchange, endpoint, status string, duration time.Duration) {
	apiCallTotal.WithLabelValues(exchange, endpoint, status).Inc()
	apiCallDuration.WithLabelValues(exchange, endpoint).Observe(duration.Seconds())
}

// SetRateBudget 更新调用额度计数器读数
func (pm *PrometheusMetrics) SetRateBudget(counter, max float64) {
	rateBudgetCounter.Set(counter)
	rateBudgetMax.Set(max)
}

// RecordRateBudgetWait 记录一次额度耗尽等待
func (pm *PrometheusMetrics) RecordRateBudgetWait() {
	rateBudgetWaitTotal.Inc()
}

// RecordSyncRun 记录一次同步周期
func (pm *PrometheusMetrics) RecordSyncRun(exchange, mode, result string, duration time.Duration) {
	syncRunTotal.WithLabelValues(exchange, mode, result).Inc()
	syncDuration.WithLabelValues(exchange, mode).Observe(duration.Seconds())
}

// RecordNewTrades 记录同步发现的新成交数量
func (pm *PrometheusMetrics) RecordNewTrades(exchange string, count int) {
	syncNewTrades.WithLabelValues(exchange).Add(float64(count))
}

// SetLedgerSize 更新账本记录数
func (pm *PrometheusMetrics) SetLedgerSize(size int) {
	ledgerSize.Set(float64(size))
}

// SetRealizedPnL 更新全局已实现盈亏
func (pm *PrometheusMetrics) SetRealizedPnL(pnl float64) {
	realizedPnL.Set(pnl)
}

// SetAssetRealizedPnL 更新单资产已实现盈亏
func (pm *PrometheusMetrics) SetAssetRealizedPnL(asset string, pnl float64) {
	assetRealizedPnL.WithLabelValues(asset).Set(pnl)
}

// SetWinRate 更新胜率
func (pm *PrometheusMetrics) SetWinRate(rate float64) {
	winRate.Set(rate)
}

// SetCompletedTradeTotal 更新已完成卖出总数
func (pm *PrometheusMetrics) SetCompletedTradeTotal(count int) {
	completedTradeTotal.Set(float64(count))
}

// SetWebSocketClientCount 更新 WebSocket 连接数
func (pm *PrometheusMetrics) SetWebSocketClientCount(count int) {
	wsClientCount.Set(float64(count))
}
