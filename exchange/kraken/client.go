package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	KrakenBaseURL = "https://api.kraken.com" // Kraken 现货 API
)

// KrakenClient 结构体
type KrakenClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter // 原始请求间隔平滑（预算控制在上层）
	nonceMu    sync.Mutex    // 保护 nonceBase：定时同步与 web 请求可能并发调用
	nonceBase  int64
}

// NewKrakenClient 创建 Kraken 客户端实例
func NewKrakenClient(apiKey, secretKey string, timeout time.Duration) *KrakenClient {
	return &KrakenClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   KrakenBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// 私有接口之间至少间隔 500ms，避免短时突发
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// RemoteError Kraken 返回的业务错误（error 数组非空）
type RemoteError struct {
	Errors []string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("kraken api error: %s", strings.Join(e.Errors, ", "))
}

// Retryable 判断错误是否为临时性错误（服务不可用、限流等）
func (e *RemoteError) Retryable() bool {
	for _, msg := range e.Errors {
		if strings.HasPrefix(msg, "EService:") ||
			strings.HasPrefix(msg, "EGeneral:Temporary") ||
			strings.Contains(msg, "Rate limit") {
			return true
		}
	}
	return false
}

// signRequest 对请求进行签名
func (c *KrakenClient) signRequest(path, nonce, postData string) string {
	// Kraken 签名算法：
	// 1. SHA256(nonce + postData)
	// 2. HMAC-SHA512(path + sha256Hash, base64DecodedSecret)
	// 3. Base64 编码结果
	sha := sha256.New()
	sha.Write([]byte(nonce + postData))
	shaSum := sha.Sum(nil)

	secretDecoded, err := base64.StdEncoding.DecodeString(c.secretKey)
	if err != nil {
		return ""
	}

	h := hmac.New(sha512.New, secretDecoded)
	h.Write([]byte(path))
	h.Write(shaSum)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// nextNonce 生成严格递增的 nonce（毫秒时间戳，同毫秒内自增）
func (c *KrakenClient) nextNonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce := time.Now().UnixMilli()
	if nonce <= c.nonceBase {
		nonce = c.nonceBase + 1
	}
	c.nonceBase = nonce
	return strconv.FormatInt(nonce, 10)
}

// sendPrivate 发送私有接口请求
func (c *KrakenClient) sendPrivate(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	nonce := c.nextNonce()

	values := url.Values{}
	values.Set("nonce", nonce)
	for k, v := range params {
		values.Set(k, v)
	}
	postData := values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", c.signRequest(path, nonce, postData))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body error: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error! Status: %s, Body: %s", resp.Status, string(respBody))
	}

	var baseResp struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &baseResp); err != nil {
		return nil, fmt.Errorf("unmarshal response error: %w", err)
	}
	if len(baseResp.Error) > 0 {
		return nil, &RemoteError{Errors: baseResp.Error}
	}

	return baseResp.Result, nil
}

// TradeEntry 成交历史条目
type TradeEntry struct {
	ID        string  // 成交ID（result.trades 的键）
	OrderTxID string  // 关联订单ID
	Pair      string  // 交易对
	Type      string  // buy / sell
	Price     float64 // 成交价
	Cost      float64 // 计价币种名义金额
	Fee       float64 // 手续费
	Volume    float64 // 成交量
	Time      int64   // unix 秒
}

// rawTradeEntry 接口返回的原始成交条目（数值为字符串）
type rawTradeEntry struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Time      float64 `json:"time"`
	Type      string  `json:"type"`
	OrderType string  `json:"ordertype"`
	Price     string  `json:"price"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
	Vol       string  `json:"vol"`
}

// GetTradesHistory 获取成交历史（按时间降序，每页固定 50 条）
// ofs 为从最新一笔起算的偏移量
func (c *KrakenClient) GetTradesHistory(ctx context.Context, ofs int) ([]*TradeEntry, int, error) {
	result, err := c.sendPrivate(ctx, "/0/private/TradesHistory", map[string]string{
		"ofs": strconv.Itoa(ofs),
	})
	if err != nil {
		return nil, 0, err
	}

	var resp struct {
		Trades map[string]rawTradeEntry `json:"trades"`
		Count  int                      `json:"count"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, 0, fmt.Errorf("unmarshal trades history error: %w", err)
	}

	trades := make([]*TradeEntry, 0, len(resp.Trades))
	for id, raw := range resp.Trades {
		entry, err := parseTradeEntry(id, raw)
		if err != nil {
			return nil, 0, err
		}
		trades = append(trades, entry)
	}

	// map 无序，恢复接口约定的时间降序
	sortTradesDescending(trades)

	return trades, resp.Count, nil
}

// parseTradeEntry 解析单条成交记录
func parseTradeEntry(id string, raw rawTradeEntry) (*TradeEntry, error) {
	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade %s price error: %w", id, err)
	}
	cost, err := strconv.ParseFloat(raw.Cost, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade %s cost error: %w", id, err)
	}
	fee, err := strconv.ParseFloat(raw.Fee, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade %s fee error: %w", id, err)
	}
	vol, err := strconv.ParseFloat(raw.Vol, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade %s vol error: %w", id, err)
	}

	return &TradeEntry{
		ID:        id,
		OrderTxID: raw.OrderTxID,
		Pair:      raw.Pair,
		Type:      raw.Type,
		Price:     price,
		Cost:      cost,
		Fee:       fee,
		Volume:    vol,
		Time:      int64(raw.Time),
	}, nil
}

// sortTradesDescending 按时间降序排序（时间相同时按ID兜底，保证确定性）
func sortTradesDescending(trades []*TradeEntry) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Time != trades[j].Time {
			return trades[i].Time > trades[j].Time
		}
		return trades[i].ID > trades[j].ID
	})
}

// GetBalance 获取账户余额
func (c *KrakenClient) GetBalance(ctx context.Context) (map[string]float64, error) {
	result, err := c.sendPrivate(ctx, "/0/private/Balance", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal balance error: %w", err)
	}

	balances := make(map[string]float64, len(raw))
	for asset, amountStr := range raw {
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s error: %w", asset, err)
		}
		balances[asset] = amount
	}
	return balances, nil
}

// OpenOrderEntry 未完成订单条目
type OpenOrderEntry struct {
	ID     string
	Pair   string
	Type   string // buy / sell
	Price  float64
	Volume float64
	OpenTm int64
}

// GetOpenOrders 获取未完成订单
func (c *KrakenClient) GetOpenOrders(ctx context.Context) ([]*OpenOrderEntry, error) {
	result, err := c.sendPrivate(ctx, "/0/private/OpenOrders", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Open map[string]struct {
			OpenTm float64 `json:"opentm"`
			Vol    string  `json:"vol"`
			Descr  struct {
				Pair  string `json:"pair"`
				Type  string `json:"type"`
				Price string `json:"price"`
			} `json:"descr"`
		} `json:"open"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal open orders error: %w", err)
	}

	orders := make([]*OpenOrderEntry, 0, len(resp.Open))
	for id, raw := range resp.Open {
		price, _ := strconv.ParseFloat(raw.Descr.Price, 64)
		vol, _ := strconv.ParseFloat(raw.Vol, 64)
		orders = append(orders, &OpenOrderEntry{
			ID:     id,
			Pair:   raw.Descr.Pair,
			Type:   raw.Descr.Type,
			Price:  price,
			Volume: vol,
			OpenTm: int64(raw.OpenTm),
		})
	}
	return orders, nil
}
