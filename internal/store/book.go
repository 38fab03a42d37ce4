// Package store 维护帐户侧部位状态，按 AccountKey 分区。
// 同一帐户的读写在该帐户的锁内进行，跨帐户操作互不竞争。
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"position-sync-go/broker"
	"position-sync-go/position"
)

// EventSink 结构化事件出口，由上层接到日志。
type EventSink func(string, map[string]interface{})

// Book 按帐户分区的部位簿。
type Book struct {
	mu       sync.RWMutex
	accounts map[position.AccountKey]*accountState
	sink     EventSink
	now      func() time.Time
}

type accountState struct {
	mu       sync.Mutex
	stocks   map[position.StockKey]position.StockPosition
	futures  map[string]position.FuturesPosition
	lastDeal atomic.Int64 // unix nanos，持锁写入，可无锁读取
	applySeq atomic.Int64 // 已套用成交的单调计数，持锁写入
}

func NewBook(sink EventSink) *Book {
	return &Book{
		accounts: make(map[position.AccountKey]*accountState),
		sink:     sink,
		now:      time.Now,
	}
}

// SetNow 注入时间源，上层用统一时钟盖戳成交时间。
func (b *Book) SetNow(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *Book) account(key position.AccountKey) *accountState {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if ok {
		return st
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.accounts[key]; ok {
		return st
	}
	st = &accountState{
		stocks:  make(map[position.StockKey]position.StockPosition),
		futures: make(map[string]position.FuturesPosition),
	}
	b.accounts[key] = st
	return st
}

// LastDealTime 帐户最近一笔成交的本地套用时间，无成交时为零值。
// 盖戳用 Book 的时间源而非回报里的券商时间戳，券商时钟偏移
// 不影响新鲜度判定。读取不取部位锁。
func (b *Book) LastDealTime(key position.AccountKey) time.Time {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	nanos := st.lastDeal.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// ApplySeq 帐户已套用成交的单调序号。写入在事件套用的临界区内完成，
// 与事件套用保持线性一致：远端查询前后各读一次，序号变动即证明
// 查询窗口内有成交落地。
func (b *Book) ApplySeq(key position.AccountKey) int64 {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return st.applySeq.Load()
}

// ApplyStockDeal 将一笔股票成交套用到部位簿。
// 当沖成交先路由到配对部位；量减至 0 的部位即刻移除。
func (b *Book) ApplyStockDeal(deal broker.Deal) error {
	key := position.KeyFor(deal.Account)
	st := b.account(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	targetCond := deal.Cond
	dayTrade := deal.DayTrade
	if dayTrade {
		paired, ok := position.DayTradeTarget(deal.Cond, deal.Action)
		if !ok {
			// 未认定的当沖组合：按一般规则处理，不推断新配对
			b.emit("daytrade_pair_unknown", map[string]interface{}{
				"account": string(key),
				"code":    deal.Code,
				"cond":    string(deal.Cond),
				"action":  string(deal.Action),
			})
			dayTrade = false
		} else if _, exists := st.stocks[position.StockKey{Code: deal.Code, Cond: paired}]; exists {
			targetCond = paired
		}
	}

	k := position.StockKey{Code: deal.Code, Cond: targetCond}
	pos, exists := st.stocks[k]
	if !exists {
		pos = position.OpenStock(deal.Code, targetCond, deal.Action, deal.Quantity)
	} else {
		var err error
		pos, err = position.ApplyStockDeal(pos, deal.Action, deal.Quantity, dayTrade)
		if err != nil {
			return fmt.Errorf("apply stock deal %s %s x %d: %w", deal.Code, deal.Action, deal.Quantity, err)
		}
	}

	if pos.Quantity == 0 {
		delete(st.stocks, k)
		b.emit("position_removed", map[string]interface{}{
			"account": string(key),
			"code":    deal.Code,
			"cond":    string(targetCond),
		})
	} else {
		st.stocks[k] = pos
	}
	b.stampLocked(st)

	b.emit("deal_applied", map[string]interface{}{
		"account":   string(key),
		"code":      deal.Code,
		"cond":      string(targetCond),
		"action":    string(deal.Action),
		"quantity":  deal.Quantity,
		"daytrade":  dayTrade,
		"after_qty": pos.Quantity,
		"yd_offset": pos.YdOffsetQuantity,
	})
	return nil
}

// ApplyFuturesDeal 将一笔期货成交套用到部位簿。
func (b *Book) ApplyFuturesDeal(deal broker.Deal) error {
	key := position.KeyFor(deal.Account)
	st := b.account(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	pos, exists := st.futures[deal.Code]
	if !exists {
		pos = position.FuturesPosition{Code: deal.Code, Direction: deal.Action, Quantity: deal.Quantity}
	} else {
		pos = position.ApplyFuturesDeal(pos, deal.Action, deal.Quantity)
	}

	if pos.Quantity == 0 {
		delete(st.futures, deal.Code)
		b.emit("position_removed", map[string]interface{}{
			"account": string(key),
			"code":    deal.Code,
		})
	} else {
		st.futures[deal.Code] = pos
	}
	b.stampLocked(st)

	b.emit("deal_applied", map[string]interface{}{
		"account":   string(key),
		"code":      deal.Code,
		"action":    string(deal.Action),
		"quantity":  deal.Quantity,
		"after_qty": pos.Quantity,
	})
	return nil
}

func (b *Book) stampLocked(st *accountState) {
	st.lastDeal.Store(b.now().UnixNano())
	st.applySeq.Add(1)
}

// StockPositions 返回帐户股票部位的拷贝，按 (code, cond) 排序。
func (b *Book) StockPositions(key position.AccountKey) []position.StockPosition {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	out := make([]position.StockPosition, 0, len(st.stocks))
	for _, p := range st.stocks {
		out = append(out, p)
	}
	st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Cond < out[j].Cond
	})
	return out
}

// FuturesPositions 返回帐户期货部位的拷贝，按 code 排序。
func (b *Book) FuturesPositions(key position.AccountKey) []position.FuturesPosition {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	out := make([]position.FuturesPosition, 0, len(st.futures))
	for _, p := range st.futures {
		out = append(out, p)
	}
	st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// StockPosition 查询单一部位。
func (b *Book) StockPosition(key position.AccountKey, k position.StockKey) (position.StockPosition, bool) {
	b.mu.RLock()
	st, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return position.StockPosition{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.stocks[k]
	return p, ok
}

// ReplaceStock 以远端快照整批覆盖帐户股票部位（初始载入与强制重同步）。
// yd_offset 归零，由当日成交重建或后续成交累计。
func (b *Book) ReplaceStock(key position.AccountKey, remote []broker.RemotePosition) {
	st := b.account(key)
	st.mu.Lock()
	st.stocks = make(map[position.StockKey]position.StockPosition, len(remote))
	for _, r := range remote {
		if r.Quantity <= 0 {
			continue
		}
		p := position.StockPosition{
			Code:       r.Code,
			Cond:       r.Cond,
			Direction:  r.Direction,
			Quantity:   r.Quantity,
			YdQuantity: r.YdQuantity,
		}
		st.stocks[p.Key()] = p
	}
	count := len(st.stocks)
	st.mu.Unlock()
	b.emit("account_replaced", map[string]interface{}{
		"account": string(key),
		"kind":    "stock",
		"count":   count,
	})
}

// ReplaceFutures 以远端快照整批覆盖帐户期货部位。
func (b *Book) ReplaceFutures(key position.AccountKey, remote []broker.RemotePosition) {
	st := b.account(key)
	st.mu.Lock()
	st.futures = make(map[string]position.FuturesPosition, len(remote))
	for _, r := range remote {
		if r.Quantity <= 0 {
			continue
		}
		st.futures[r.Code] = position.FuturesPosition{
			Code:      r.Code,
			Direction: r.Direction,
			Quantity:  r.Quantity,
		}
	}
	count := len(st.futures)
	st.mu.Unlock()
	b.emit("account_replaced", map[string]interface{}{
		"account": string(key),
		"kind":    "futures",
		"count":   count,
	})
}

func (b *Book) emit(event string, fields map[string]interface{}) {
	if b == nil || b.sink == nil {
		return
	}
	b.sink(event, fields)
}
