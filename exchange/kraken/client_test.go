package kraken

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Kraken 官方文档给出的签名测试向量
const (
	testSecret   = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	testNonce    = "1616492376594"
	testPostData = "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	testPath     = "/0/private/AddOrder"
	testExpected = "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
)

func TestSignRequest(t *testing.T) {
	c := NewKrakenClient("api-key", testSecret, 5*time.Second)

	sig := c.signRequest(testPath, testNonce, testPostData)
	if sig != testExpected {
		t.Errorf("签名错误:\n期望 %s\n实际 %s", testExpected, sig)
	}
}

func TestNextNonceMonotonic(t *testing.T) {
	c := NewKrakenClient("api-key", testSecret, 5*time.Second)

	var prev int64
	for i := 0; i < 100; i++ {
		nonce, err := strconv.ParseInt(c.nextNonce(), 10, 64)
		if err != nil {
			t.Fatalf("nonce 不是数字: %v", err)
		}
		if nonce <= prev {
			t.Fatalf("nonce 必须严格递增: %d → %d", prev, nonce)
		}
		prev = nonce
	}
}

func TestNextNonceConcurrent(t *testing.T) {
	c := NewKrakenClient("api-key", testSecret, 5*time.Second)

	// 定时同步与 web 请求会并发取 nonce，重复或回退会触发交易所拒单
	const workers = 8
	const perWorker = 200

	results := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				nonce, err := strconv.ParseInt(c.nextNonce(), 10, 64)
				if err != nil {
					t.Errorf("nonce 不是数字: %v", err)
					return
				}
				results <- nonce
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers*perWorker)
	for nonce := range results {
		if seen[nonce] {
			t.Fatalf("nonce 重复: %d", nonce)
		}
		seen[nonce] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("nonce 数量不符: got %d, want %d", len(seen), workers*perWorker)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *KrakenClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewKrakenClient("api-key", testSecret, 5*time.Second)
	c.baseURL = server.URL
	return c
}

func TestGetTradesHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/TradesHistory" {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		if r.Header.Get("API-Key") != "api-key" {
			t.Error("缺少 API-Key 请求头")
		}
		if r.Header.Get("API-Sign") == "" {
			t.Error("缺少 API-Sign 请求头")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("ofs") != "50" {
			t.Errorf("ofs 参数错误: %s", r.PostForm.Get("ofs"))
		}
		if r.PostForm.Get("nonce") == "" {
			t.Error("缺少 nonce 参数")
		}

		w.Write([]byte(`{
			"error": [],
			"result": {
				"trades": {
					"TID1": {"ordertxid":"OID1","pair":"XXBTZUSD","time":1688888888.123,"type":"buy","ordertype":"limit","price":"30000.0","cost":"3000.0","fee":"4.8","vol":"0.1"},
					"TID2": {"ordertxid":"OID2","pair":"XXBTZUSD","time":1688888999.456,"type":"sell","ordertype":"market","price":"31000.0","cost":"1550.0","fee":"2.5","vol":"0.05"}
				},
				"count": 2
			}
		}`))
	})

	trades, count, err := c.GetTradesHistory(context.Background(), 50)
	if err != nil {
		t.Fatalf("获取成交历史失败: %v", err)
	}
	if count != 2 || len(trades) != 2 {
		t.Fatalf("条数错误: count=%d len=%d", count, len(trades))
	}

	// 时间降序：TID2 在前
	if trades[0].ID != "TID2" || trades[1].ID != "TID1" {
		t.Errorf("排序错误: %s, %s", trades[0].ID, trades[1].ID)
	}
	first := trades[0]
	if first.Type != "sell" || first.Price != 31000.0 || first.Volume != 0.05 || first.Cost != 1550.0 {
		t.Errorf("字段解析错误: %+v", first)
	}
	if first.Time != 1688888999 {
		t.Errorf("时间解析错误: %d", first.Time)
	}
}

func TestGetTradesHistoryAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": ["EAPI:Invalid nonce"], "result": null}`))
	})

	_, _, err := c.GetTradesHistory(context.Background(), 0)
	if err == nil {
		t.Fatal("业务错误应当返回失败")
	}

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("应返回 RemoteError: %v", err)
	}
	if remoteErr.Retryable() {
		t.Error("EAPI 错误不应标记为可重试")
	}
}

func TestRemoteErrorRetryable(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"EService:Unavailable", true},
		{"EService:Busy", true},
		{"EGeneral:Temporary lockout", true},
		{"EAPI:Rate limit exceeded", true},
		{"EAPI:Invalid key", false},
		{"EOrder:Insufficient funds", false},
		{"EGeneral:Invalid arguments", false},
	}
	for _, tc := range cases {
		err := &RemoteError{Errors: []string{tc.msg}}
		if got := err.Retryable(); got != tc.want {
			t.Errorf("Retryable(%q) = %v, 期望 %v", tc.msg, got, tc.want)
		}
	}
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/Balance" {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		w.Write([]byte(`{"error": [], "result": {"ZUSD": "1250.50", "XXBT": "0.75"}}`))
	})

	balances, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("获取余额失败: %v", err)
	}
	if balances["ZUSD"] != 1250.50 || balances["XXBT"] != 0.75 {
		t.Errorf("余额解析错误: %+v", balances)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, _, err := c.GetTradesHistory(context.Background(), 0)
	if err == nil {
		t.Fatal("HTTP 错误应当返回失败")
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		t.Error("HTTP 层错误不应归类为业务错误")
	}
}
