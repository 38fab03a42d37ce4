package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// dealFrame 对应 bridge 推送的成交事件包装。
type dealFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type dealPayload struct {
	BrokerID  string  `json:"broker_id"`
	AccountID string  `json:"account_id"`
	Code      string  `json:"code"`
	Action    string  `json:"action"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
	OrderCond string  `json:"order_cond"`
	DayTrade  bool    `json:"daytrade"`
	TsMs      int64   `json:"ts"`
}

// ParseDealFrame 解析 ws 原始消息，返回成交类别与事件。
// event 非成交类型时返回 ok=false。
func ParseDealFrame(raw []byte) (state OrderState, deal Deal, ok bool, err error) {
	var frame dealFrame
	if err = json.Unmarshal(raw, &frame); err != nil {
		return "", Deal{}, false, fmt.Errorf("parse frame: %w", err)
	}
	switch frame.Event {
	case "stock_deal":
		state = StateStockDeal
	case "futures_deal":
		state = StateFuturesDeal
	default:
		return "", Deal{}, false, nil
	}

	var p dealPayload
	if err = json.Unmarshal(frame.Data, &p); err != nil {
		return "", Deal{}, false, fmt.Errorf("parse deal payload: %w", err)
	}

	deal = Deal{
		Account:  Account{BrokerID: p.BrokerID, AccountID: p.AccountID},
		Code:     p.Code,
		Action:   Action(p.Action),
		Quantity: p.Quantity,
		Price:    p.Price,
		DayTrade: p.DayTrade,
		Ts:       time.UnixMilli(p.TsMs),
	}
	if state == StateStockDeal {
		deal.Account.Type = AccountStock
		if p.OrderCond == "" {
			deal.Cond = CondCash
		} else {
			deal.Cond = StockCond(p.OrderCond)
		}
	} else {
		deal.Account.Type = AccountFutures
	}
	return state, deal, true, nil
}
