package broker

import "time"

// Action 买卖方向。
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

// Valid 检查方向是否为已知值。
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Opposite 返回相反方向。
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// StockCond 股票交易类别：现股、融资、融券。
type StockCond string

const (
	CondCash          StockCond = "Cash"
	CondMarginTrading StockCond = "MarginTrading"
	CondShortSelling  StockCond = "ShortSelling"
)

// Valid 检查交易类别是否为已知值。
func (c StockCond) Valid() bool {
	switch c {
	case CondCash, CondMarginTrading, CondShortSelling:
		return true
	}
	return false
}

// OrderState 区分股票成交与期货/选择权成交回报。
type OrderState string

const (
	StateStockDeal   OrderState = "StockDeal"
	StateFuturesDeal OrderState = "FuturesDeal"
)

// AccountType 帐户类别。
type AccountType string

const (
	AccountStock   AccountType = "Stock"
	AccountFutures AccountType = "Futures"
)

// Account 券商帐户身份（broker_id + account_id）。
type Account struct {
	BrokerID  string      `json:"broker_id"`
	AccountID string      `json:"account_id"`
	Type      AccountType `json:"account_type"`
}

// Deal 已解析的成交事件。股票成交带 Cond；期货成交忽略该栏位。
type Deal struct {
	Account  Account   `json:"account"`
	Code     string    `json:"code"`
	Action   Action    `json:"action"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"`
	Cond     StockCond `json:"order_cond,omitempty"`
	DayTrade bool      `json:"daytrade,omitempty"`
	Ts       time.Time `json:"ts"`
}

// RemotePosition 远端回传的部位快照条目。
// 期货条目的 Cond 为空、YdQuantity 为 0。
type RemotePosition struct {
	Code       string    `json:"code"`
	Direction  Action    `json:"direction"`
	Quantity   int64     `json:"quantity"`
	YdQuantity int64     `json:"yd_quantity"`
	Cond       StockCond `json:"cond,omitempty"`
}

// ExecutedTrade 当日已成交明细，仅在启动重建 yd_offset 时使用。
type ExecutedTrade struct {
	Account  Account   `json:"account"`
	Code     string    `json:"code"`
	Action   Action    `json:"action"`
	Quantity int64     `json:"quantity"`
	Cond     StockCond `json:"order_cond,omitempty"`
	DayTrade bool      `json:"daytrade,omitempty"`
	Ts       time.Time `json:"ts"`
}

// Unit 数量单位。实时跟踪以张/口为准，该参数仅为接口兼容保留。
type Unit string

const (
	UnitCommon Unit = "Common"
	UnitShare  Unit = "Share"
)

// DealHandler 成交回报处理函数。
type DealHandler func(state OrderState, deal Deal)
