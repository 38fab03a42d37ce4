package store

import (
	"position-sync-go/broker"
	"position-sync-go/position"
)

// Op 对账修正类型。
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

// StockCorrection 单条股票部位修正。
type StockCorrection struct {
	Op  Op
	Pos position.StockPosition
}

// FuturesCorrection 单条期货部位修正。
type FuturesCorrection struct {
	Op  Op
	Pos position.FuturesPosition
}

// DiffStock 比对远端快照与本地部位，产出修正集。
// 数量与方向都一致的条目不产生修正。
func DiffStock(local []position.StockPosition, remote []broker.RemotePosition) []StockCorrection {
	localByKey := make(map[position.StockKey]position.StockPosition, len(local))
	for _, p := range local {
		localByKey[p.Key()] = p
	}

	var out []StockCorrection
	seen := make(map[position.StockKey]bool, len(remote))
	for _, r := range remote {
		if r.Quantity <= 0 {
			continue
		}
		k := position.StockKey{Code: r.Code, Cond: r.Cond}
		seen[k] = true
		p, ok := localByKey[k]
		rp := position.StockPosition{
			Code:       r.Code,
			Cond:       r.Cond,
			Direction:  r.Direction,
			Quantity:   r.Quantity,
			YdQuantity: r.YdQuantity,
		}
		if !ok {
			out = append(out, StockCorrection{Op: OpInsert, Pos: rp})
			continue
		}
		if p.Quantity != r.Quantity || p.Direction != r.Direction {
			out = append(out, StockCorrection{Op: OpReplace, Pos: rp})
		}
	}
	for k, p := range localByKey {
		if !seen[k] {
			out = append(out, StockCorrection{Op: OpRemove, Pos: p})
		}
	}
	return out
}

// DiffFutures 期货部位的结构化比对。
func DiffFutures(local []position.FuturesPosition, remote []broker.RemotePosition) []FuturesCorrection {
	localByCode := make(map[string]position.FuturesPosition, len(local))
	for _, p := range local {
		localByCode[p.Code] = p
	}

	var out []FuturesCorrection
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if r.Quantity <= 0 {
			continue
		}
		seen[r.Code] = true
		rp := position.FuturesPosition{Code: r.Code, Direction: r.Direction, Quantity: r.Quantity}
		p, ok := localByCode[r.Code]
		if !ok {
			out = append(out, FuturesCorrection{Op: OpInsert, Pos: rp})
			continue
		}
		if p.Quantity != r.Quantity || p.Direction != r.Direction {
			out = append(out, FuturesCorrection{Op: OpReplace, Pos: rp})
		}
	}
	for code, p := range localByCode {
		if !seen[code] {
			out = append(out, FuturesCorrection{Op: OpRemove, Pos: p})
		}
	}
	return out
}

// ApplyStockCorrections 逐条套用修正，只动差异条目。
// replace 保留本地 yd_offset（收敛到远端 yd 上限），insert 以远端 yd 起算。
func (b *Book) ApplyStockCorrections(key position.AccountKey, corrections []StockCorrection) {
	if len(corrections) == 0 {
		return
	}
	st := b.account(key)
	st.mu.Lock()
	for _, c := range corrections {
		k := c.Pos.Key()
		switch c.Op {
		case OpInsert:
			st.stocks[k] = c.Pos
		case OpReplace:
			p, ok := st.stocks[k]
			if !ok {
				st.stocks[k] = c.Pos
				break
			}
			p.Quantity = c.Pos.Quantity
			p.Direction = c.Pos.Direction
			p.YdQuantity = c.Pos.YdQuantity
			if p.YdOffsetQuantity > p.YdQuantity {
				p.YdOffsetQuantity = p.YdQuantity
			}
			st.stocks[k] = p
		case OpRemove:
			delete(st.stocks, k)
		}
	}
	st.mu.Unlock()
	b.emit("corrections_applied", map[string]interface{}{
		"account": string(key),
		"kind":    "stock",
		"count":   len(corrections),
	})
}

// ApplyFuturesCorrections 期货版本。
func (b *Book) ApplyFuturesCorrections(key position.AccountKey, corrections []FuturesCorrection) {
	if len(corrections) == 0 {
		return
	}
	st := b.account(key)
	st.mu.Lock()
	for _, c := range corrections {
		switch c.Op {
		case OpInsert, OpReplace:
			st.futures[c.Pos.Code] = c.Pos
		case OpRemove:
			delete(st.futures, c.Pos.Code)
		}
	}
	st.mu.Unlock()
	b.emit("corrections_applied", map[string]interface{}{
		"account": string(key),
		"kind":    "futures",
		"count":   len(corrections),
	})
}
