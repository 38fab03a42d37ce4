package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"position-sync-go/broker"
	"position-sync-go/metrics"
	"position-sync-go/position"
)

// Positions 查询结果。股票帐户填 Stocks，期货帐户填 Futures。
type Positions struct {
	Stocks  []position.StockPosition
	Futures []position.FuturesPosition
}

// QueryOption 查询选项。
type QueryOption func(*queryOpts)

type queryOpts struct {
	unit    broker.Unit
	timeout time.Duration
}

// WithUnit 接口兼容参数，不影响内存内计算。
func WithUnit(u broker.Unit) QueryOption {
	return func(o *queryOpts) { o.unit = u }
}

// WithTimeout 覆盖本次查询的远端超时。
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOpts) { o.timeout = d }
}

// ListPositions 查询部位。account 为 nil 时用预设帐户：
// 先股票帐户，无股票部位时退到期货帐户。
func (t *Tracker) ListPositions(ctx context.Context, account *broker.Account, opts ...QueryOption) (Positions, error) {
	if account != nil {
		return t.listAccount(ctx, *account, opts...)
	}

	t.mu.RLock()
	stock, futures := t.defaultStock, t.defaultFutures
	t.mu.RUnlock()

	if stock != nil {
		res, err := t.listAccount(ctx, *stock, opts...)
		if err != nil {
			return res, err
		}
		if len(res.Stocks) > 0 {
			return res, nil
		}
	}
	if futures != nil {
		return t.listAccount(ctx, *futures, opts...)
	}
	return Positions{}, nil
}

// ListStockPositions 查询股票部位。account 为 nil 时用预设股票帐户。
func (t *Tracker) ListStockPositions(ctx context.Context, account *broker.Account, opts ...QueryOption) ([]position.StockPosition, error) {
	if account == nil {
		t.mu.RLock()
		account = t.defaultStock
		t.mu.RUnlock()
		if account == nil {
			return nil, nil
		}
	}
	res, err := t.listAccount(ctx, *account, opts...)
	return res.Stocks, err
}

// ListFuturesPositions 查询期货部位。account 为 nil 时用预设期货帐户。
func (t *Tracker) ListFuturesPositions(ctx context.Context, account *broker.Account, opts ...QueryOption) ([]position.FuturesPosition, error) {
	if account == nil {
		t.mu.RLock()
		account = t.defaultFutures
		t.mu.RUnlock()
		if account == nil {
			return nil, nil
		}
	}
	res, err := t.listAccount(ctx, *account, opts...)
	return res.Futures, err
}

func (t *Tracker) listAccount(ctx context.Context, account broker.Account, opts ...QueryOption) (Positions, error) {
	var o queryOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = t.timeout()
	}

	key := position.KeyFor(account)
	if !t.verifyNeeded(key) {
		metrics.ObserveSyncRead("local")
		return t.localSnapshot(account, key), nil
	}

	// 验证模式：远端查询期间若有新成交，以本地为准；
	// 无论结果如何都排一次异步对账。竞态判定用套用序号，
	// 不依赖券商时间戳，查询窗口内的成交必然改变序号。
	metrics.ObserveSyncRead("verify")
	metrics.RemoteQueries.Inc()
	seqStart := t.book.ApplySeq(key)
	qctx, cancel := context.WithTimeout(ctx, o.timeout)
	remote, err := t.session.ListPositions(qctx, account)
	cancel()
	t.rec.Trigger(account)

	if err != nil {
		metrics.RemoteQueryErrors.Inc()
		metrics.ObserveSyncRead("fallback")
		t.log.Warn("verify query failed, serving local state",
			zap.String("account", string(key)),
			zap.Error(err))
		return t.localSnapshot(account, key), nil
	}
	if t.book.ApplySeq(key) != seqStart {
		// 查询窗口内有成交落地，本地状态可证明更新
		metrics.ObserveSyncRead("race_local")
		return t.localSnapshot(account, key), nil
	}
	return t.remoteView(account, key, remote), nil
}

// verifyNeeded 新鲜度判定：阈值为 0 时永远走本地；
// 否则距最近成交超过阈值才验证。
func (t *Tracker) verifyNeeded(key position.AccountKey) bool {
	threshold := t.threshold()
	if threshold == 0 {
		return false
	}
	last := t.book.LastDealTime(key)
	if last.IsZero() {
		return true
	}
	return t.clock.Now().Sub(last) >= threshold
}

func (t *Tracker) localSnapshot(account broker.Account, key position.AccountKey) Positions {
	if account.Type == broker.AccountFutures {
		return Positions{Futures: t.book.FuturesPositions(key)}
	}
	return Positions{Stocks: t.book.StockPositions(key)}
}

// remoteView 以远端快照为显示结果；yd_offset 远端不提供，
// 沿用本地值并收敛到 yd 上限。不回写部位簿，修正交给对账。
func (t *Tracker) remoteView(account broker.Account, key position.AccountKey, remote []broker.RemotePosition) Positions {
	if account.Type == broker.AccountFutures {
		out := make([]position.FuturesPosition, 0, len(remote))
		for _, r := range remote {
			if r.Quantity <= 0 {
				continue
			}
			out = append(out, position.FuturesPosition{
				Code:      r.Code,
				Direction: r.Direction,
				Quantity:  r.Quantity,
			})
		}
		return Positions{Futures: out}
	}

	out := make([]position.StockPosition, 0, len(remote))
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
		if local, ok := t.book.StockPosition(key, p.Key()); ok {
			p.YdOffsetQuantity = local.YdOffsetQuantity
			if p.YdOffsetQuantity > p.YdQuantity {
				p.YdOffsetQuantity = p.YdQuantity
			}
		}
		out = append(out, p)
	}
	return Positions{Stocks: out}
}
