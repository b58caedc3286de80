package costbasis

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tradelens/exchange"
)

func tempEnginePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cost_basis.json")
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFIFOMatching(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	// 两个批次 [1.0 @ 10000, 1.0 @ 20000]，卖出 1.5 总价 37500
	e.Rebuild([]*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 1.0, Cost: 10000, Time: 100},
		{ID: "B2", Pair: "BTCUSDT", Side: "buy", Price: 20000, Volume: 1.0, Cost: 20000, Time: 200},
		{ID: "S1", Pair: "BTCUSDT", Side: "sell", Price: 25000, Volume: 1.5, Cost: 37500, Time: 300},
	})

	ledger := e.GetAsset("BTC")
	if ledger == nil {
		t.Fatal("BTC 账本不存在")
	}

	if len(ledger.CompletedTrades) != 1 {
		t.Fatalf("已完成卖出数错误: %d", len(ledger.CompletedTrades))
	}
	ct := ledger.CompletedTrades[0]
	if !almostEqual(ct.AmountMatched, 1.5) {
		t.Errorf("amountMatched 错误: %f", ct.AmountMatched)
	}
	// costBasisUsed = 1×10000 + 0.5×20000 = 20000，pnl = 37500 − 20000 = 17500
	if !almostEqual(ct.PnL, 17500) {
		t.Errorf("pnl 错误: %f", ct.PnL)
	}
	if !almostEqual(ledger.RealizedPnL, 17500) {
		t.Errorf("realizedPnL 错误: %f", ledger.RealizedPnL)
	}

	// 剩余批次 [0.5 @ 20000]
	if len(ledger.Lots) != 1 {
		t.Fatalf("剩余批次数错误: %d", len(ledger.Lots))
	}
	if !almostEqual(ledger.Lots[0].Remaining, 0.5) || !almostEqual(ledger.Lots[0].Price, 20000) {
		t.Errorf("剩余批次错误: %+v", ledger.Lots[0])
	}
}

func TestSellWithoutCostBasis(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	// 没有任何买入批次（空投、奖励入账）直接卖出
	e.Rebuild([]*exchange.Trade{
		{ID: "S1", Pair: "XRPUSDT", Side: "sell", Price: 250, Volume: 2.0, Cost: 500, Time: 100},
	})

	ledger := e.GetAsset("XRP")
	if ledger == nil {
		t.Fatal("XRP 账本不存在")
	}

	if len(ledger.CompletedTrades) != 1 {
		t.Fatalf("无成本基础的卖出也应记录: %d", len(ledger.CompletedTrades))
	}
	ct := ledger.CompletedTrades[0]
	if ct.AmountMatched != 0 || ct.PnL != 0 || ct.PnLPercent != 0 {
		t.Errorf("无成本基础卖出字段错误: %+v", ct)
	}
	if ledger.RealizedPnL != 0 {
		t.Errorf("无成本基础卖出不应计入 realizedPnL: %f", ledger.RealizedPnL)
	}
	if !almostEqual(ledger.TotalReturned, 500) {
		t.Errorf("totalReturned 错误: %f", ledger.TotalReturned)
	}
}

func TestPartialCostBasis(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	// 持仓 1.0，卖出 2.0：只有一半有成本基础
	e.Rebuild([]*exchange.Trade{
		{ID: "B1", Pair: "ETHUSDT", Side: "buy", Price: 2000, Volume: 1.0, Cost: 2000, Time: 100},
		{ID: "S1", Pair: "ETHUSDT", Side: "sell", Price: 3000, Volume: 2.0, Cost: 6000, Time: 200},
	})

	ledger := e.GetAsset("ETH")
	ct := ledger.CompletedTrades[0]
	if !almostEqual(ct.AmountMatched, 1.0) {
		t.Errorf("amountMatched 错误: %f", ct.AmountMatched)
	}
	// matchedSaleValue = 6000 × (1.0/2.0) = 3000，pnl = 3000 − 2000 = 1000
	if !almostEqual(ct.PnL, 1000) {
		t.Errorf("按比例分摊的 pnl 错误: %f", ct.PnL)
	}
	if !almostEqual(ledger.RealizedPnL, 1000) {
		t.Errorf("realizedPnL 错误: %f", ledger.RealizedPnL)
	}
	if len(ledger.Lots) != 0 {
		t.Errorf("批次应已耗尽: %d", len(ledger.Lots))
	}
}

func TestConservation(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	trades := []*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 2.0, Cost: 20000, Time: 100},
		{ID: "S1", Pair: "BTCUSDT", Side: "sell", Price: 12000, Volume: 0.7, Cost: 8400, Time: 200},
		{ID: "B2", Pair: "BTCUSDT", Side: "buy", Price: 11000, Volume: 1.5, Cost: 16500, Time: 300},
		{ID: "S2", Pair: "BTCUSDT", Side: "sell", Price: 13000, Volume: 2.2, Cost: 28600, Time: 400},
	}
	e.Rebuild(trades)

	ledger := e.GetAsset("BTC")

	buyTotal := 2.0 + 1.5
	remaining := 0.0
	for _, lot := range ledger.Lots {
		remaining += lot.Remaining
	}
	matched := 0.0
	for _, ct := range ledger.CompletedTrades {
		matched += ct.AmountMatched
	}

	// 守恒：剩余持仓 + 已匹配卖出 = 总买入
	if !almostEqual(remaining+matched, buyTotal) {
		t.Errorf("数量不守恒: remaining=%f matched=%f buys=%f", remaining, matched, buyTotal)
	}
}

func TestRebuildIdempotent(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	trades := []*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 1.0, Cost: 10000, Time: 100},
		{ID: "S1", Pair: "BTCUSDT", Side: "sell", Price: 12000, Volume: 0.4, Cost: 4800, Time: 200},
	}

	e.Rebuild(trades)
	first := e.GetSnapshot()

	e.Rebuild(trades)
	second := e.GetSnapshot()

	if !reflect.DeepEqual(first, second) {
		t.Error("相同输入的重建结果应当一致")
	}
}

func TestInvariantViolationKeepsPreviousLedger(t *testing.T) {
	e := NewEngine(tempEnginePath(t))

	// 先建立一份正常的账本
	e.Rebuild([]*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 1.0, Cost: 10000, Time: 100},
	})
	good := e.GetAsset("BTC")
	if good == nil || !almostEqual(good.TotalInvested, 10000) {
		t.Fatalf("初始账本错误: %+v", good)
	}

	// 再用带非法方向的序列重建：该资产保留上一次的好账本
	e.Rebuild([]*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 1.0, Cost: 10000, Time: 100},
		{ID: "X1", Pair: "BTCUSDT", Side: "margin", Price: 10000, Volume: 1.0, Cost: 10000, Time: 200},
		{ID: "B2", Pair: "ETHUSDT", Side: "buy", Price: 2000, Volume: 1.0, Cost: 2000, Time: 300},
	})

	btc := e.GetAsset("BTC")
	if btc == nil {
		t.Fatal("重放失败时应保留 BTC 的旧账本")
	}
	if !reflect.DeepEqual(btc, good) {
		t.Errorf("BTC 账本不应被污染: %+v", btc)
	}

	// 其他资产不受影响，正常重建
	if eth := e.GetAsset("ETH"); eth == nil || !almostEqual(eth.TotalInvested, 2000) {
		t.Errorf("ETH 账本应正常重建: %+v", eth)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := tempEnginePath(t)
	e := NewEngine(path)

	e.Rebuild([]*exchange.Trade{
		{ID: "B1", Pair: "BTCUSDT", Side: "buy", Price: 10000, Volume: 1.0, Cost: 10000, Time: 100},
		{ID: "S1", Pair: "BTCUSDT", Side: "sell", Price: 12000, Volume: 0.5, Cost: 6000, Time: 200},
	})

	reloaded := NewEngine(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("加载成本基础失败: %v", err)
	}

	if !reflect.DeepEqual(e.GetSnapshot(), reloaded.GetSnapshot()) {
		t.Error("持久化往返后数据不一致")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := tempEnginePath(t)
	if err := os.WriteFile(path, []byte("oops"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(path)
	if err := e.Load(); err != nil {
		t.Fatalf("文件损坏时 Load 不应失败: %v", err)
	}
	if len(e.GetSnapshot()) != 0 {
		t.Error("损坏文件应退回空结构")
	}
}

func TestAssetFromPair(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC",
		"ETHUSDC":  "ETH",
		"XXBTZUSD": "XXBT",
		"ADAEUR":   "ADA",
		"SOLBTC":   "SOL",
		"WEIRD":    "WEIRD",
	}
	for pair, want := range cases {
		if got := AssetFromPair(pair); got != want {
			t.Errorf("AssetFromPair(%s) = %s, 期望 %s", pair, got, want)
		}
	}
}
