// Package metrics provides Prometheus metrics for the position tracker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DealsApplied 已套用的成交事件数，按 stock/futures 区分。
	DealsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_deals_applied_total",
		Help: "Deal events applied to the position book",
	}, []string{"kind"})

	// DealsRejected 被拒绝的异常成交事件数。
	DealsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_deals_rejected_total",
		Help: "Deal events rejected as malformed or inconsistent",
	})

	// CallbackPanics 用户回调抛出的异常数。
	CallbackPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_callback_panics_total",
		Help: "Panics recovered at the observer callback boundary",
	})

	// SyncReads 读路径决策计数：local / verify / fallback / race_local。
	SyncReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_sync_reads_total",
		Help: "list_positions reads by sync policy decision",
	}, []string{"mode"})

	// RemoteQueries 远端快照查询数与失败数。
	RemoteQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_remote_queries_total",
		Help: "Remote position snapshot queries issued",
	})
	RemoteQueryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_remote_query_errors_total",
		Help: "Remote position snapshot queries that failed or timed out",
	})

	// ReconcileRuns 对账执行数、失败数与修正条数。
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_reconcile_runs_total",
		Help: "Reconciliation passes executed",
	})
	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_reconcile_failures_total",
		Help: "Reconciliation passes aborted by remote failure",
	})
	ReconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_reconcile_corrections_total",
		Help: "Position corrections applied by the reconciler",
	}, []string{"op"})

	// OpenPositions 帐户当前持仓条目数。
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "possync_open_positions",
		Help: "Open position entries per account",
	}, []string{"account"})
)

// ObserveDealApplied 记录一笔已套用成交。
func ObserveDealApplied(kind string) {
	DealsApplied.WithLabelValues(kind).Inc()
}

// ObserveSyncRead 记录一次读路径决策。
func ObserveSyncRead(mode string) {
	SyncReads.WithLabelValues(mode).Inc()
}

// UpdateOpenPositions 更新帐户持仓条目数。
func UpdateOpenPositions(account string, count int) {
	OpenPositions.WithLabelValues(account).Set(float64(count))
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
