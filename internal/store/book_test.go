package store

import (
	"testing"
	"time"

	"position-sync-go/broker"
	"position-sync-go/position"
)

var acct = broker.Account{BrokerID: "9100", AccountID: "1234567", Type: broker.AccountStock}
var futAcct = broker.Account{BrokerID: "F100", AccountID: "7654321", Type: broker.AccountFutures}

func stockDeal(code string, action broker.Action, qty int64, cond broker.StockCond, dayTrade bool) broker.Deal {
	return broker.Deal{
		Account:  acct,
		Code:     code,
		Action:   action,
		Quantity: qty,
		Cond:     cond,
		DayTrade: dayTrade,
		Ts:       time.Now(),
	}
}

func TestApplyStockDealCreatesAndRemoves(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondCash, false)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := b.StockPositions(key)
	if len(got) != 1 || got[0].Quantity != 100 || got[0].Direction != broker.ActionBuy {
		t.Fatalf("unexpected positions %+v", got)
	}

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 100, broker.CondCash, false)); err != nil {
		t.Fatalf("apply close: %v", err)
	}
	if got := b.StockPositions(key); len(got) != 0 {
		t.Fatalf("position should be removed at zero, got %+v", got)
	}
}

func TestDayTradeRoutesToPairedPosition(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)

	// 资买 100 建仓
	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondMarginTrading, false)); err != nil {
		t.Fatalf("margin buy: %v", err)
	}
	// 当沖券卖 100，应结算掉资买部位而非建立券卖部位
	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 100, broker.CondShortSelling, true)); err != nil {
		t.Fatalf("daytrade short sell: %v", err)
	}

	if got := b.StockPositions(key); len(got) != 0 {
		t.Fatalf("expected flat after daytrade offset, got %+v", got)
	}
}

func TestDayTradePreservesYdOffset(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	b.ReplaceStock(key, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 500, YdQuantity: 500, Cond: broker.CondMarginTrading},
	})

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondMarginTrading, false)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 100, broker.CondShortSelling, true)); err != nil {
		t.Fatalf("daytrade sell: %v", err)
	}

	p, ok := b.StockPosition(key, position.StockKey{Code: "2330", Cond: broker.CondMarginTrading})
	if !ok {
		t.Fatalf("position missing")
	}
	if p.Quantity != 500 || p.YdOffsetQuantity != 0 {
		t.Fatalf("expected qty=500 offset=0, got qty=%d offset=%d", p.Quantity, p.YdOffsetQuantity)
	}
}

func TestUnderflowLeavesBookUntouched(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondCash, false)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	before := b.LastDealTime(key)

	err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 200, broker.CondCash, false))
	if err == nil {
		t.Fatalf("expected underflow error")
	}
	got := b.StockPositions(key)
	if len(got) != 1 || got[0].Quantity != 100 {
		t.Fatalf("book mutated by rejected deal: %+v", got)
	}
	if !b.LastDealTime(key).Equal(before) {
		t.Fatalf("last deal time updated by rejected deal")
	}
}

func TestAccountsDoNotLeak(t *testing.T) {
	b := NewBook(nil)
	other := broker.Account{BrokerID: "9100", AccountID: "9999999", Type: broker.AccountStock}

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondCash, false)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := b.StockPositions(position.KeyFor(other)); len(got) != 0 {
		t.Fatalf("positions leaked across accounts: %+v", got)
	}
}

func TestFuturesDealFlipAndRemove(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(futAcct)
	deal := broker.Deal{Account: futAcct, Code: "TXFG6", Action: broker.ActionBuy, Quantity: 3, Ts: time.Now()}
	if err := b.ApplyFuturesDeal(deal); err != nil {
		t.Fatalf("buy: %v", err)
	}

	deal.Action = broker.ActionSell
	deal.Quantity = 5
	if err := b.ApplyFuturesDeal(deal); err != nil {
		t.Fatalf("sell: %v", err)
	}
	got := b.FuturesPositions(key)
	if len(got) != 1 || got[0].Direction != broker.ActionSell || got[0].Quantity != 2 {
		t.Fatalf("expected Sell 2, got %+v", got)
	}

	deal.Action = broker.ActionBuy
	deal.Quantity = 2
	if err := b.ApplyFuturesDeal(deal); err != nil {
		t.Fatalf("cover: %v", err)
	}
	if got := b.FuturesPositions(key); len(got) != 0 {
		t.Fatalf("expected flat, got %+v", got)
	}
}

func TestLastDealTimeUsesLocalClock(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	if !b.LastDealTime(key).IsZero() {
		t.Fatalf("expected zero last deal time before any deal")
	}

	local := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	b.SetNow(func() time.Time { return local })

	// 回报时间戳来自券商侧时钟，不能作为本地新鲜度依据
	d := stockDeal("2330", broker.ActionBuy, 10, broker.CondCash, false)
	d.Ts = local.Add(-2 * time.Hour)
	if err := b.ApplyStockDeal(d); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := b.LastDealTime(key); !got.Equal(local) {
		t.Fatalf("expected local apply time %s, got %s", local, got)
	}
}

func TestApplySeqAdvancesOnlyOnAppliedDeals(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	if got := b.ApplySeq(key); got != 0 {
		t.Fatalf("expected seq 0 for unknown account, got %d", got)
	}

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionBuy, 100, broker.CondCash, false)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := b.ApplySeq(key); got != 1 {
		t.Fatalf("expected seq 1 after first deal, got %d", got)
	}

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 200, broker.CondCash, false)); err == nil {
		t.Fatalf("expected underflow error")
	}
	if got := b.ApplySeq(key); got != 1 {
		t.Fatalf("rejected deal must not advance seq, got %d", got)
	}

	if err := b.ApplyStockDeal(stockDeal("2330", broker.ActionSell, 50, broker.CondCash, false)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got := b.ApplySeq(key); got != 2 {
		t.Fatalf("expected seq 2, got %d", got)
	}
}

func TestDiffAndCorrections(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	b.ReplaceStock(key, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 100, YdQuantity: 100, Cond: broker.CondCash},
		{Code: "2603", Direction: broker.ActionBuy, Quantity: 50, YdQuantity: 0, Cond: broker.CondCash},
	})

	remote := []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 80, YdQuantity: 100, Cond: broker.CondCash},  // mismatch
		{Code: "2454", Direction: broker.ActionBuy, Quantity: 30, YdQuantity: 30, Cond: broker.CondCash},   // missing locally
	}
	corr := DiffStock(b.StockPositions(key), remote)
	if len(corr) != 3 {
		t.Fatalf("expected 3 corrections, got %+v", corr)
	}

	b.ApplyStockCorrections(key, corr)
	got := b.StockPositions(key)
	if len(got) != 2 {
		t.Fatalf("expected 2 positions after corrections, got %+v", got)
	}
	if got[0].Code != "2330" || got[0].Quantity != 80 {
		t.Fatalf("replace not applied: %+v", got[0])
	}
	if got[1].Code != "2454" || got[1].Quantity != 30 {
		t.Fatalf("insert not applied: %+v", got[1])
	}
}

func TestDiffStockNoChanges(t *testing.T) {
	local := []position.StockPosition{
		{Code: "2330", Cond: broker.CondCash, Direction: broker.ActionBuy, Quantity: 100, YdQuantity: 100},
	}
	remote := []broker.RemotePosition{
		{Code: "2330", Cond: broker.CondCash, Direction: broker.ActionBuy, Quantity: 100, YdQuantity: 100},
	}
	if corr := DiffStock(local, remote); len(corr) != 0 {
		t.Fatalf("clean entry produced corrections: %+v", corr)
	}
}

func TestRebuildYdOffsetsFromTrades(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	// 快照已含当日成交：昨日 1000，资卖 400 后现量 600
	b.ReplaceStock(key, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 600, YdQuantity: 1000, Cond: broker.CondMarginTrading},
	})

	trades := []broker.ExecutedTrade{
		{Account: acct, Code: "2330", Action: broker.ActionSell, Quantity: 400, Cond: broker.CondMarginTrading, Ts: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	b.RebuildYdOffsets(key, trades)

	p, ok := b.StockPosition(key, position.StockKey{Code: "2330", Cond: broker.CondMarginTrading})
	if !ok {
		t.Fatalf("position missing")
	}
	if p.Quantity != 600 {
		t.Fatalf("rebuild must not touch quantity, got %d", p.Quantity)
	}
	if p.YdOffsetQuantity != 400 {
		t.Fatalf("expected rebuilt offset 400, got %d", p.YdOffsetQuantity)
	}
}

func TestRebuildIgnoresDayTradeTrades(t *testing.T) {
	b := NewBook(nil)
	key := position.KeyFor(acct)
	b.ReplaceStock(key, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 1000, YdQuantity: 1000, Cond: broker.CondMarginTrading},
	})

	// 当日先资买 100 再当沖券卖 100：净量不变，yd_offset 应为 0
	trades := []broker.ExecutedTrade{
		{Account: acct, Code: "2330", Action: broker.ActionBuy, Quantity: 100, Cond: broker.CondMarginTrading, Ts: time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)},
		{Account: acct, Code: "2330", Action: broker.ActionSell, Quantity: 100, Cond: broker.CondShortSelling, DayTrade: true, Ts: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)},
	}
	b.RebuildYdOffsets(key, trades)

	p, _ := b.StockPosition(key, position.StockKey{Code: "2330", Cond: broker.CondMarginTrading})
	if p.YdOffsetQuantity != 0 {
		t.Fatalf("daytrade replay touched yd_offset: %d", p.YdOffsetQuantity)
	}
	if p.Quantity != 1000 {
		t.Fatalf("rebuild must not touch quantity, got %d", p.Quantity)
	}
}
