package store

import (
	"sort"

	"position-sync-go/broker"
	"position-sync-go/position"
)

// RebuildYdOffsets 盘中重启时重建 yd_offset_quantity。
// 远端快照的 quantity 已含当日成交，直接重放会重复计量；
// 这里以 quantity = yd_quantity 为基准建影子部位，按时间序重放
// 当日成交，只把得到的 yd_offset 写回实际部位，quantity 不动。
func (b *Book) RebuildYdOffsets(key position.AccountKey, trades []broker.ExecutedTrade) {
	st := b.account(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	shadow := make(map[position.StockKey]position.StockPosition, len(st.stocks))
	for k, p := range st.stocks {
		shadow[k] = position.StockPosition{
			Code:       p.Code,
			Cond:       p.Cond,
			Direction:  p.Direction,
			Quantity:   p.YdQuantity,
			YdQuantity: p.YdQuantity,
		}
	}

	sorted := make([]broker.ExecutedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	skipped := 0
	for _, tr := range sorted {
		if tr.Quantity <= 0 || tr.Code == "" {
			skipped++
			continue
		}
		targetCond := tr.Cond
		dayTrade := tr.DayTrade
		if dayTrade {
			paired, ok := position.DayTradeTarget(tr.Cond, tr.Action)
			if !ok {
				dayTrade = false
			} else if sp, exists := shadow[position.StockKey{Code: tr.Code, Cond: paired}]; exists && sp.Quantity > 0 {
				targetCond = paired
			}
		}
		k := position.StockKey{Code: tr.Code, Cond: targetCond}
		p, exists := shadow[k]
		if !exists {
			shadow[k] = position.OpenStock(tr.Code, targetCond, tr.Action, tr.Quantity)
			continue
		}
		next, err := position.ApplyStockDeal(p, tr.Action, tr.Quantity, dayTrade)
		if err != nil {
			// 重放冲销量超过影子部位：记录后跳过，数量漂移交给对账
			skipped++
			continue
		}
		// 量归零也保留影子条目，yd_offset 仍需回写
		shadow[k] = next
	}

	for k, p := range st.stocks {
		sp, ok := shadow[k]
		if !ok {
			continue
		}
		off := sp.YdOffsetQuantity
		if off > p.YdQuantity {
			off = p.YdQuantity
		}
		p.YdOffsetQuantity = off
		st.stocks[k] = p
	}

	b.emit("yd_offsets_rebuilt", map[string]interface{}{
		"account": string(key),
		"trades":  len(sorted),
		"skipped": skipped,
	})
}
