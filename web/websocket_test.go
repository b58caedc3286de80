package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradelens/analytics"
	"tradelens/costbasis"
	"tradelens/exchange"
	"tradelens/ledger"
	"tradelens/storage"
)

// fakeProvider 测试用数据提供者
type fakeProvider struct{}

func (f *fakeProvider) GetStatus() *SystemStatus {
	return &SystemStatus{Exchange: "Kraken", TotalTrades: 3}
}

func (f *fakeProvider) GetLedgerSnapshot() *ledger.Snapshot {
	return &ledger.Snapshot{}
}

func (f *fakeProvider) GetCostBasisSnapshot() map[string]*costbasis.AssetLedger {
	return map[string]*costbasis.AssetLedger{}
}

func (f *fakeProvider) GetAssetCostBasis(asset string) *costbasis.AssetLedger {
	return nil
}

func (f *fakeProvider) GetAnalyticsReport() *analytics.Report {
	return &analytics.Report{}
}

func (f *fakeProvider) GetBalance(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"ZUSD": 100}, nil
}

func (f *fakeProvider) GetOpenOrders(ctx context.Context) ([]*exchange.OpenOrder, error) {
	return nil, nil
}

func (f *fakeProvider) TriggerSync(ctx context.Context, mode string) (*ledger.SyncResult, error) {
	return &ledger.SyncResult{}, nil
}

func (f *fakeProvider) QuerySyncHistory(limit, offset int) ([]*storage.SyncRecord, error) {
	return nil, nil
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) *wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取 WebSocket 消息失败: %v", err)
	}
	frame := &wsFrame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		t.Fatalf("消息不是合法 JSON: %v", err)
	}
	return frame
}

func TestWebSocketInitialStatusThenBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetProvider(&fakeProvider{})
	defer SetProvider(nil)

	r := gin.New()
	SetupRoutes(r)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket 连接失败: %v", err)
	}
	defer conn.Close()

	// 连接建立后的第一帧必须是当前状态
	first := readFrame(t, conn)
	if first.Type != "status" {
		t.Fatalf("首帧类型应为 status, got %s", first.Type)
	}
	var status SystemStatus
	if err := json.Unmarshal(first.Data, &status); err != nil {
		t.Fatalf("解析状态失败: %v", err)
	}
	if status.Exchange != "Kraken" || status.TotalTrades != 3 {
		t.Fatalf("状态内容不符: %+v", status)
	}

	// 等待中心完成注册后再广播
	time.Sleep(100 * time.Millisecond)
	Broadcast("update", map[string]interface{}{"newTrades": 5})

	second := readFrame(t, conn)
	if second.Type != "update" {
		t.Fatalf("广播帧类型应为 update, got %s", second.Type)
	}
}
