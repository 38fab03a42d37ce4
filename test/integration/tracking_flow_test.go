package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"position-sync-go/broker"
	"position-sync-go/infrastructure/logger"
	"position-sync-go/tracker"
)

var stockAcct = broker.Account{BrokerID: "9100", AccountID: "1234567", Type: broker.AccountStock}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "console",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

// TestPositionTrackingFlow 测试完整的部位跟踪流程：
// 盘中启动重建 -> 成交推送 -> 本地读 -> 验证读 -> 对账收敛 -> 强制重同步。
func TestPositionTrackingFlow(t *testing.T) {
	bridge := NewMockBridge(stockAcct)
	defer bridge.Reset()

	log := newLogger(t)

	// 1. 盘中重启场景：昨日库存 1000，今日已卖 400
	bridge.SetPositions(stockAcct, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 600, YdQuantity: 1000, Cond: broker.CondCash},
	})
	bridge.SetTrades(stockAcct, []broker.ExecutedTrade{
		{Account: stockAcct, Code: "2330", Action: broker.ActionSell, Quantity: 400, Cond: broker.CondCash, Ts: time.Now().Add(-time.Hour)},
	})

	tr, err := tracker.New(bridge, tracker.Config{
		SyncThreshold: 200 * time.Millisecond,
		QueryTimeout:  time.Second,
	}, log.Logger, nil)
	require.NoError(t, err)

	res, err := tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)
	require.Len(t, res.Stocks, 1)
	require.Equal(t, int64(600), res.Stocks[0].Quantity)
	require.Equal(t, int64(1000), res.Stocks[0].YdQuantity)
	require.Equal(t, int64(400), res.Stocks[0].YdOffsetQuantity, "重启后应重建昨日抵销量")

	// 首次验证读排的异步对账跑完后再比对查询计数
	require.Eventually(t, func() bool {
		return tr.Reconciler().GetStatistics().TotalRuns >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// 2. 成交推送即时生效，回调收到事件
	var cbMu sync.Mutex
	var received []broker.Deal
	tr.SetOrderCallback(func(state broker.OrderState, deal broker.Deal) {
		cbMu.Lock()
		received = append(received, deal)
		cbMu.Unlock()
	})

	bridge.PushDeal(broker.StateStockDeal, broker.Deal{
		Account: stockAcct, Code: "2330", Action: broker.ActionBuy,
		Quantity: 200, Price: 585, Cond: broker.CondCash, Ts: time.Now(),
	})

	before := bridge.PositionQueryCount()
	res, err = tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)
	require.Equal(t, before, bridge.PositionQueryCount(), "新鲜读不应触发远端查询")
	require.Equal(t, int64(800), res.Stocks[0].Quantity)
	require.Equal(t, int64(400), res.Stocks[0].YdOffsetQuantity, "买入不动昨日抵销量")

	cbMu.Lock()
	require.Len(t, received, 1)
	cbMu.Unlock()

	// 3. 超过阈值的读触发远端验证
	bridge.SetPositions(stockAcct, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 800, YdQuantity: 1000, Cond: broker.CondCash},
	})
	time.Sleep(250 * time.Millisecond)

	res, err = tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)
	require.Greater(t, bridge.PositionQueryCount(), before, "过期读应触发远端查询")
	require.Equal(t, int64(800), res.Stocks[0].Quantity)
	require.Equal(t, int64(400), res.Stocks[0].YdOffsetQuantity, "验证读沿用本地抵销量")

	// 4. 强制重同步只动指定帐户
	bridge.SetPositions(stockAcct, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 750, YdQuantity: 1000, Cond: broker.CondCash},
	})
	require.NoError(t, tr.SyncFromAPI(context.Background(), &stockAcct))

	res, err = tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)
	require.Equal(t, int64(750), res.Stocks[0].Quantity)
}

// TestVerifyFallbackFlow 远端不可用时验证读退回本地状态
func TestVerifyFallbackFlow(t *testing.T) {
	bridge := NewMockBridge(stockAcct)
	defer bridge.Reset()

	log := newLogger(t)

	tr, err := tracker.New(bridge, tracker.Config{
		SyncThreshold: 50 * time.Millisecond,
		QueryTimeout:  200 * time.Millisecond,
	}, log.Logger, nil)
	require.NoError(t, err)

	bridge.PushDeal(broker.StateStockDeal, broker.Deal{
		Account: stockAcct, Code: "2603", Action: broker.ActionBuy,
		Quantity: 300, Price: 120, Cond: broker.CondCash, Ts: time.Now(),
	})

	bridge.SetFailPositions(true)
	time.Sleep(80 * time.Millisecond)

	res, err := tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err, "远端失败不应让读失败")
	require.Len(t, res.Stocks, 1)
	require.Equal(t, int64(300), res.Stocks[0].Quantity)
}

// TestReconcileConvergenceFlow 验证读排异步对账，漂移最终被修正
func TestReconcileConvergenceFlow(t *testing.T) {
	bridge := NewMockBridge(stockAcct)
	defer bridge.Reset()

	log := newLogger(t)

	tr, err := tracker.New(bridge, tracker.Config{
		SyncThreshold: 50 * time.Millisecond,
		QueryTimeout:  time.Second,
	}, log.Logger, nil)
	require.NoError(t, err)

	bridge.PushDeal(broker.StateStockDeal, broker.Deal{
		Account: stockAcct, Code: "2330", Action: broker.ActionBuy,
		Quantity: 100, Price: 585, Cond: broker.CondCash, Ts: time.Now(),
	})

	// 远端多出一笔本地没收到的成交
	bridge.SetPositions(stockAcct, []broker.RemotePosition{
		{Code: "2330", Direction: broker.ActionBuy, Quantity: 150, YdQuantity: 0, Cond: broker.CondCash},
	})
	time.Sleep(80 * time.Millisecond)

	_, err = tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.Reconciler().GetStatistics().TotalCorrections > 0
	}, 2*time.Second, 20*time.Millisecond, "对账应修正漂移")

	// 阈值内的本地读反映修正后的部位簿
	bridge.PushDeal(broker.StateStockDeal, broker.Deal{
		Account: stockAcct, Code: "2330", Action: broker.ActionBuy,
		Quantity: 50, Price: 585, Cond: broker.CondCash, Ts: time.Now(),
	})
	res, err := tr.ListPositions(context.Background(), &stockAcct)
	require.NoError(t, err)
	require.Equal(t, int64(200), res.Stocks[0].Quantity)
}
