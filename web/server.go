package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradelens/analytics"
	"tradelens/costbasis"
	"tradelens/exchange"
	"tradelens/ledger"
	"tradelens/storage"
)

// SystemStatus 系统状态
type SystemStatus struct {
	Exchange        string  `json:"exchange"`
	UptimeSeconds   int64   `json:"uptimeSeconds"`
	TotalTrades     int     `json:"totalTrades"`
	LastFetchTime   int64   `json:"lastFetchTime"`
	RateCounter     float64 `json:"rateCounter"`
	RateMaxCounter  float64 `json:"rateMaxCounter"`
	SyncRunning     bool    `json:"syncRunning"`
	LastSyncMode    string  `json:"lastSyncMode,omitempty"`
	LastSyncTrades  int     `json:"lastSyncTrades"`
	LastSyncError   string  `json:"lastSyncError,omitempty"`
	RealizedPnL     float64 `json:"realizedPnL"`
	WinRate         float64 `json:"winRate"`
}

// AppProvider 应用数据提供者（由主程序注入，web 层不依赖具体实现）
type AppProvider interface {
	GetStatus() *SystemStatus
	GetLedgerSnapshot() *ledger.Snapshot
	GetCostBasisSnapshot() map[string]*costbasis.AssetLedger
	GetAssetCostBasis(asset string) *costbasis.AssetLedger
	GetAnalyticsReport() *analytics.Report
	GetBalance(ctx context.Context) (map[string]float64, error)
	GetOpenOrders(ctx context.Context) ([]*exchange.OpenOrder, error)
	TriggerSync(ctx context.Context, mode string) (*ledger.SyncResult, error)
	QuerySyncHistory(limit, offset int) ([]*storage.SyncRecord, error)
}

var provider AppProvider

// SetProvider 注入应用数据提供者
func SetProvider(p AppProvider) {
	provider = p
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/status", getStatusHandler)
		api.GET("/ledger", getLedgerHandler)
		api.GET("/costbasis", getCostBasisHandler)
		api.GET("/costbasis/:asset", getAssetCostBasisHandler)
		api.GET("/analytics", getAnalyticsHandler)
		api.GET("/balance", getBalanceHandler)
		api.GET("/orders", getOpenOrdersHandler)
		api.GET("/sync/history", getSyncHistoryHandler)
		api.POST("/sync", triggerSyncHandler)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", handleWebSocket)
}

// 获取系统状态
func getStatusHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  provider.GetStatus(),
	})
}

// 获取交易账本快照
func getLedgerHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	snapshot := provider.GetLedgerSnapshot()

	// limit 限制返回的记录条数（最新的在前）
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit 参数非法"})
			return
		}
		if limit < len(snapshot.Trades) {
			snapshot.Trades = snapshot.Trades[len(snapshot.Trades)-limit:]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"ledger":  snapshot,
	})
}

// 获取全部资产的成本基础
func getCostBasisHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"costBasis": provider.GetCostBasisSnapshot(),
	})
}

// 获取单个资产的成本基础
func getAssetCostBasisHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	asset := c.Param("asset")
	ledgerData := provider.GetAssetCostBasis(asset)
	if ledgerData == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "资产不存在: " + asset})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"asset":     asset,
		"costBasis": ledgerData,
	})
}

// 获取分析报告
func getAnalyticsHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"analytics": provider.GetAnalyticsReport(),
	})
}

// 查询账户余额（实时请求交易所，受速率预算约束）
func getBalanceHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	balance, err := provider.GetBalance(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": balance,
	})
}

// 查询未完成订单（实时请求交易所，受速率预算约束）
func getOpenOrdersHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	orders, err := provider.GetOpenOrders(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

// 查询同步历史
func getSyncHistoryHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := provider.QuerySyncHistory(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": records,
	})
}

// 手动触发一次同步
func triggerSyncHandler(c *gin.Context) {
	if provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "服务未就绪"})
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	// body 可以为空，默认 auto 模式
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	result, err := provider.TriggerSync(ctx, req.Mode)
	if err != nil {
		if err == ledger.ErrSyncInProgress {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "result": result})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}
