// Package tracker 将成交事件流维护成帐户部位的实时视图，
// 并按 smart sync 策略决定读路径走本地还是远端验证。
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"position-sync-go/broker"
	"position-sync-go/internal/store"
	"position-sync-go/metrics"
	"position-sync-go/position"
)

var (
	// ErrUnknownAccount 成交回报的帐户不在启动时枚举的帐户内。
	ErrUnknownAccount = errors.New("tracker: deal for unknown account")
	// ErrInvalidDeal 成交回报缺字段或字段非法。
	ErrInvalidDeal = errors.New("tracker: malformed deal event")
)

// Config 跟踪器配置。
type Config struct {
	// SyncThreshold 距最近成交超过该时长的读触发远端验证；0 关闭验证模式。
	SyncThreshold time.Duration
	// QueryTimeout 远端快照查询的超时上限。
	QueryTimeout time.Duration
	// ReconcileInterval 周期对账间隔；0 表示只按读触发对账。
	ReconcileInterval time.Duration
}

const defaultQueryTimeout = 5 * time.Second

// Tracker 部位跟踪器。
type Tracker struct {
	session broker.Session
	book    *store.Book
	log     *zap.Logger
	clock   Clock

	syncThreshold atomic.Int64 // nanos
	queryTimeout  atomic.Int64 // nanos

	mu             sync.RWMutex
	accounts       map[position.AccountKey]broker.Account
	defaultStock   *broker.Account
	defaultFutures *broker.Account

	cbMu     sync.RWMutex
	callback broker.DealHandler

	rec *Reconciler
}

// New 建立跟踪器并完成初始载入：枚举帐户、拉取部位快照、
// 重放当日成交重建 yd_offset，最后注册成交回报处理函数。
// 帐户枚举失败视为硬错误；单一帐户载入失败记录告警后继续。
func New(session broker.Session, cfg Config, log *zap.Logger, sink store.EventSink) (*Tracker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}

	t := &Tracker{
		session:  session,
		book:     store.NewBook(sink),
		log:      log,
		clock:    realClock{},
		accounts: make(map[position.AccountKey]broker.Account),
	}
	t.syncThreshold.Store(int64(cfg.SyncThreshold))
	t.queryTimeout.Store(int64(cfg.QueryTimeout))
	// 部位簿用跟踪器的时钟盖戳成交，新鲜度判定不受券商时钟偏移影响
	t.book.SetNow(func() time.Time { return t.clock.Now() })
	t.rec = newReconciler(t, cfg.ReconcileInterval)

	accounts, err := session.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		account := account
		key := position.KeyFor(account)
		t.accounts[key] = account
		switch account.Type {
		case broker.AccountStock:
			if t.defaultStock == nil {
				t.defaultStock = &account
			}
		case broker.AccountFutures:
			if t.defaultFutures == nil {
				t.defaultFutures = &account
			}
		}
		if err := t.loadAccount(account); err != nil {
			log.Warn("initial position load failed",
				zap.String("account", string(key)),
				zap.Error(err))
		}
	}

	session.SetDealHandler(t.OnDealEvent)
	return t, nil
}

func (t *Tracker) loadAccount(account broker.Account) error {
	key := position.KeyFor(account)
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout())
	defer cancel()

	remote, err := t.session.ListPositions(ctx, account)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	switch account.Type {
	case broker.AccountFutures:
		t.book.ReplaceFutures(key, remote)
	default:
		t.book.ReplaceStock(key, remote)
		// 盘中重启：重放当日已成交明细，重建昨日抵销量
		trades, err := t.session.ListTrades(ctx, account)
		if err != nil {
			t.log.Warn("trade replay skipped",
				zap.String("account", string(key)),
				zap.Error(err))
		} else if len(trades) > 0 {
			t.book.RebuildYdOffsets(key, trades)
		}
	}
	t.updatePositionGauge(key)
	return nil
}

// Reconciler 返回后台对账器，供调用方启动周期对账。
func (t *Tracker) Reconciler() *Reconciler { return t.rec }

// SetOrderCallback 注册用户观察者，至多一个，重复注册即替换。
func (t *Tracker) SetOrderCallback(fn broker.DealHandler) {
	t.cbMu.Lock()
	t.callback = fn
	t.cbMu.Unlock()
}

// UpdateSyncThreshold 热更新验证阈值（配置热加载路径）。
func (t *Tracker) UpdateSyncThreshold(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.syncThreshold.Store(int64(d))
}

// UpdateQueryTimeout 热更新远端查询超时。
func (t *Tracker) UpdateQueryTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultQueryTimeout
	}
	t.queryTimeout.Store(int64(d))
}

func (t *Tracker) threshold() time.Duration { return time.Duration(t.syncThreshold.Load()) }
func (t *Tracker) timeout() time.Duration   { return time.Duration(t.queryTimeout.Load()) }

// OnDealEvent 成交回报入口。异常事件拒绝后记录，不影响后续事件。
func (t *Tracker) OnDealEvent(state broker.OrderState, deal broker.Deal) {
	if err := t.apply(state, deal); err != nil {
		metrics.DealsRejected.Inc()
		t.log.Warn("deal rejected",
			zap.String("state", string(state)),
			zap.String("code", deal.Code),
			zap.String("action", string(deal.Action)),
			zap.Int64("quantity", deal.Quantity),
			zap.Error(err))
		return
	}
	t.dispatch(state, deal)
}

func (t *Tracker) apply(state broker.OrderState, deal broker.Deal) error {
	if deal.Code == "" || deal.Quantity <= 0 || !deal.Action.Valid() {
		return ErrInvalidDeal
	}
	key := position.KeyFor(deal.Account)
	t.mu.RLock()
	_, known := t.accounts[key]
	t.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, key)
	}

	switch state {
	case broker.StateStockDeal:
		if !deal.Cond.Valid() {
			return fmt.Errorf("%w: cond %q", ErrInvalidDeal, deal.Cond)
		}
		if err := t.book.ApplyStockDeal(deal); err != nil {
			return err
		}
		metrics.ObserveDealApplied("stock")
	case broker.StateFuturesDeal:
		if err := t.book.ApplyFuturesDeal(deal); err != nil {
			return err
		}
		metrics.ObserveDealApplied("futures")
	default:
		return fmt.Errorf("%w: state %q", ErrInvalidDeal, state)
	}
	t.updatePositionGauge(key)
	return nil
}

// dispatch 在恢复边界内调用用户回调：回调 panic 记录后吞掉，
// 不影响已提交的部位更新，也不中断后续事件派发。
func (t *Tracker) dispatch(state broker.OrderState, deal broker.Deal) {
	t.cbMu.RLock()
	fn := t.callback
	t.cbMu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackPanics.Inc()
			t.log.Error("order callback panicked",
				zap.Any("panic", r),
				zap.String("code", deal.Code))
		}
	}()
	fn(state, deal)
}

// SyncFromAPI 强制重同步：绕过阈值，清空目标帐户的部位集并从远端重载，
// 再重放当日成交重建昨日抵销量（整批覆盖会把 yd_offset 归零，不重放
// 就会丢掉今日已抵销的量）。account 为 nil 时作用于全部帐户。
// 快照与成交明细都取成功后才替换，任一失败不动本地状态。
func (t *Tracker) SyncFromAPI(ctx context.Context, account *broker.Account) error {
	var targets []broker.Account
	if account != nil {
		targets = []broker.Account{*account}
	} else {
		t.mu.RLock()
		for _, a := range t.accounts {
			targets = append(targets, a)
		}
		t.mu.RUnlock()
	}

	var errs []error
	for _, target := range targets {
		key := position.KeyFor(target)
		qctx, cancel := context.WithTimeout(ctx, t.timeout())
		remote, err := t.session.ListPositions(qctx, target)
		if err != nil {
			cancel()
			errs = append(errs, fmt.Errorf("sync %s: %w", key, err))
			continue
		}
		var trades []broker.ExecutedTrade
		if target.Type != broker.AccountFutures {
			trades, err = t.session.ListTrades(qctx, target)
			if err != nil {
				cancel()
				errs = append(errs, fmt.Errorf("sync %s: list trades: %w", key, err))
				continue
			}
		}
		cancel()

		switch target.Type {
		case broker.AccountFutures:
			t.book.ReplaceFutures(key, remote)
		default:
			t.book.ReplaceStock(key, remote)
			if len(trades) > 0 {
				t.book.RebuildYdOffsets(key, trades)
			}
		}
		t.updatePositionGauge(key)
		t.log.Info("forced resync completed",
			zap.String("account", string(key)),
			zap.Int("positions", len(remote)))
	}
	return errors.Join(errs...)
}

func (t *Tracker) updatePositionGauge(key position.AccountKey) {
	count := len(t.book.StockPositions(key)) + len(t.book.FuturesPositions(key))
	metrics.UpdateOpenPositions(string(key), count)
}
