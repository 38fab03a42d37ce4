package position

import (
	"errors"

	"position-sync-go/broker"
)

// ErrQuantityUnderflow 冲销量超过现有部位，属于内部缺陷或异常回报，
// 调用方应拒绝该笔事件并保持部位不变。
var ErrQuantityUnderflow = errors.New("position: deal quantity exceeds held quantity")

// DayTradeTarget 返回当沖成交应结算到的部位交易类别。
// 台股认定的当沖配对只有三种：
//
//	资买部位 + 券卖成交（先资买后券卖）
//	券卖部位 + 资买成交（先券卖后资买回补）
//	现股部位 + 反向现股成交
//
// 其余组合返回 ok=false，调用方按一般规则处理并记录异常，
// 不推断新的配对规则。
func DayTradeTarget(cond broker.StockCond, action broker.Action) (broker.StockCond, bool) {
	switch {
	case cond == broker.CondShortSelling && action == broker.ActionSell:
		return broker.CondMarginTrading, true
	case cond == broker.CondMarginTrading && action == broker.ActionBuy:
		return broker.CondShortSelling, true
	case cond == broker.CondCash:
		return broker.CondCash, true
	}
	return "", false
}

// OpenStock 以一笔开仓成交建立新部位。盘中新开仓位没有昨日库存。
func OpenStock(code string, cond broker.StockCond, action broker.Action, qty int64) StockPosition {
	return StockPosition{
		Code:      code,
		Cond:      cond,
		Direction: action,
		Quantity:  qty,
	}
}

// ApplyStockDeal 将一笔成交套用到既有部位，返回更新后的部位。
// 冲销规则：
//
//	同向成交只增加 Quantity，不动 YdOffsetQuantity。
//	当沖反向成交只冲今日部位，YdOffsetQuantity 不变。
//	一般反向成交先抵昨日库存：YdOffsetQuantity 增加
//	min(成交量, 昨日剩余)，超出部分冲今日部位。
//
// YdQuantity 载入后不变。Quantity 减至 0 表示部位应移除。
func ApplyStockDeal(p StockPosition, action broker.Action, qty int64, dayTrade bool) (StockPosition, error) {
	if action == p.Direction {
		p.Quantity += qty
		return p, nil
	}
	if qty > p.Quantity {
		return p, ErrQuantityUnderflow
	}
	if !dayTrade {
		off := qty
		if remaining := p.YesterdayRemaining(); off > remaining {
			off = remaining
		}
		p.YdOffsetQuantity += off
	}
	p.Quantity -= qty
	return p, nil
}

// ApplyFuturesDeal 期货部位的净额更新。反向量超过现有部位时翻转方向，
// 使存储量始终等于已套用成交的带号和的绝对值。
func ApplyFuturesDeal(p FuturesPosition, action broker.Action, qty int64) FuturesPosition {
	if action == p.Direction {
		p.Quantity += qty
		return p
	}
	if qty >= p.Quantity {
		p.Direction = action
		p.Quantity = qty - p.Quantity
		return p
	}
	p.Quantity -= qty
	return p
}
