package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"position-sync-go/broker"
	"position-sync-go/internal/store"
	"position-sync-go/metrics"
	"position-sync-go/position"
)

// Reconciler 后台对账器：拉取远端快照、与部位簿做结构化比对、
// 逐条修正差异。同一帐户至多一个对账在途，后到的触发被合并。
type Reconciler struct {
	t        *Tracker
	interval time.Duration

	mu       sync.Mutex
	inflight map[position.AccountKey]bool

	stopChan chan struct{}
	doneChan chan struct{}

	statsMu           sync.RWMutex
	totalRuns         int64
	totalCorrections  int64
	lastReconcileTime time.Time
}

func newReconciler(t *Tracker, interval time.Duration) *Reconciler {
	return &Reconciler{
		t:        t,
		interval: interval,
		inflight: make(map[position.AccountKey]bool),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Trigger 排一次帐户异步对账。已有对账在途时合并，返回 false。
func (r *Reconciler) Trigger(account broker.Account) bool {
	key := position.KeyFor(account)
	r.mu.Lock()
	if r.inflight[key] {
		r.mu.Unlock()
		return false
	}
	r.inflight[key] = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()
		if err := r.Reconcile(context.Background(), account); err != nil {
			r.t.log.Warn("reconcile failed",
				zap.String("account", string(key)),
				zap.Error(err))
		}
	}()
	return true
}

// Reconcile 执行一次对账。远端失败时原样返回，部位簿不受影响。
// 拉取期间有成交落地则跳过修正：该快照相对本地已过期，
// 套用会回滚刚落地的成交，残差留给下次触发。
func (r *Reconciler) Reconcile(ctx context.Context, account broker.Account) error {
	key := position.KeyFor(account)
	metrics.ReconcileRuns.Inc()

	seqStart := r.t.book.ApplySeq(key)
	qctx, cancel := context.WithTimeout(ctx, r.t.timeout())
	remote, err := r.t.session.ListPositions(qctx, account)
	cancel()
	if err != nil {
		metrics.ReconcileFailures.Inc()
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	if r.t.book.ApplySeq(key) != seqStart {
		r.statsMu.Lock()
		r.totalRuns++
		r.lastReconcileTime = r.t.clock.Now()
		r.statsMu.Unlock()
		r.t.log.Info("reconcile skipped, deals landed during fetch",
			zap.String("account", string(key)))
		return nil
	}

	var corrections int
	switch account.Type {
	case broker.AccountFutures:
		corr := store.DiffFutures(r.t.book.FuturesPositions(key), remote)
		r.t.book.ApplyFuturesCorrections(key, corr)
		for _, c := range corr {
			metrics.ReconcileCorrections.WithLabelValues(string(c.Op)).Inc()
		}
		corrections = len(corr)
	default:
		corr := store.DiffStock(r.t.book.StockPositions(key), remote)
		r.t.book.ApplyStockCorrections(key, corr)
		for _, c := range corr {
			metrics.ReconcileCorrections.WithLabelValues(string(c.Op)).Inc()
		}
		corrections = len(corr)
	}

	r.statsMu.Lock()
	r.totalRuns++
	r.totalCorrections += int64(corrections)
	r.lastReconcileTime = r.t.clock.Now()
	r.statsMu.Unlock()

	if corrections > 0 {
		r.t.updatePositionGauge(key)
		r.t.log.Info("position drift corrected",
			zap.String("account", string(key)),
			zap.Int("corrections", corrections))
	}
	return nil
}

// Start 启动周期对账循环；interval 为 0 时直接返回。
func (r *Reconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		close(r.doneChan)
		return
	}
	go r.loop(ctx)
}

// Stop 停止周期循环并等待退出。
func (r *Reconciler) Stop() {
	close(r.stopChan)
	<-r.doneChan
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.t.mu.RLock()
			accounts := make([]broker.Account, 0, len(r.t.accounts))
			for _, a := range r.t.accounts {
				accounts = append(accounts, a)
			}
			r.t.mu.RUnlock()
			for _, a := range accounts {
				r.Trigger(a)
			}
		}
	}
}

// Stats 对账统计信息。
type Stats struct {
	TotalRuns         int64
	TotalCorrections  int64
	LastReconcileTime time.Time
}

// GetStatistics 返回对账统计。
func (r *Reconciler) GetStatistics() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return Stats{
		TotalRuns:         r.totalRuns,
		TotalCorrections:  r.totalCorrections,
		LastReconcileTime: r.lastReconcileTime,
	}
}
