// Package position 定义部位值类型与台股冲销规则的纯计算。
package position

import (
	"position-sync-go/broker"
)

// AccountKey 以 broker_id + account_id 区隔所有状态，
// 不同帐户的部位永不混用。
type AccountKey string

// KeyFor 由帐户生成 AccountKey。
func KeyFor(a broker.Account) AccountKey {
	return AccountKey(a.BrokerID + a.AccountID)
}

// StockKey 股票部位在帐户内的唯一键。
type StockKey struct {
	Code string
	Cond broker.StockCond
}

// StockPosition 股票部位。Quantity 恒 > 0，方向由 Direction 表示。
// YdQuantity 为昨日库存，载入后不再变动；YdOffsetQuantity 为
// 今日已抵销昨日库存的累计量，只增不减，重新载入时归零。
type StockPosition struct {
	Code             string
	Cond             broker.StockCond
	Direction        broker.Action
	Quantity         int64
	YdQuantity       int64
	YdOffsetQuantity int64
}

// Key 返回部位键。
func (p StockPosition) Key() StockKey {
	return StockKey{Code: p.Code, Cond: p.Cond}
}

// YesterdayRemaining 昨日库存尚未抵销的部分。
func (p StockPosition) YesterdayRemaining() int64 {
	return p.YdQuantity - p.YdOffsetQuantity
}

// TodayRemaining 今日新增且尚未冲销的部分。
func (p StockPosition) TodayRemaining() int64 {
	return p.Quantity - p.YesterdayRemaining()
}

// FuturesPosition 期货/选择权部位，无昨日库存概念。
type FuturesPosition struct {
	Code      string
	Direction broker.Action
	Quantity  int64
}
