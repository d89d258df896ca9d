package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wexec_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	ShardsOwnedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wexec_shards_owned_total",
			Help: "Number of shards currently owned by this node",
		},
	)

	ShardAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wexec_shard_assignments_total",
			Help: "Total number of shard assign/revoke operations by kind",
		},
		[]string{"kind"}, // "assign" | "revoke"
	)

	// Raft metrics (the shard map is still Raft-replicated)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wexec_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wexec_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wexec_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wexec_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wexec_raft_apply_duration_seconds",
			Help:    "Duration of Raft Apply calls for shard-map commands",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC Service metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wexec_rpc_requests_total",
			Help: "Total number of RPC requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wexec_rpc_request_duration_seconds",
			Help:    "RPC request handling latency by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Active Worker Cache metrics
	ActiveWorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wexec_active_workers_total",
			Help: "Number of workers currently resident in the active worker cache, by status",
		},
		[]string{"status"},
	)

	ActiveWorkerEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_active_worker_evictions_total",
			Help: "Total number of workers evicted from the active worker cache",
		},
	)

	// Oplog / Durability Wrapper metrics
	OplogAppendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wexec_oplog_append_duration_seconds",
			Help:    "Duration of oplog entry appends by wrapped function kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	OplogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wexec_oplog_entries_total",
			Help: "Total number of oplog entries appended by wrapped function kind",
		},
		[]string{"kind"},
	)

	ReplayedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_replayed_entries_total",
			Help: "Total number of oplog entries consumed during replay (not recomputed)",
		},
	)

	ReplayDivergenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wexec_replay_divergence_total",
			Help: "Total number of detected replay divergences by wrapped function kind",
		},
		[]string{"kind"},
	)

	// Promise Coordination metrics
	PromisesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_promises_created_total",
			Help: "Total number of promises created",
		},
	)

	PromisesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_promises_completed_total",
			Help: "Total number of promises completed",
		},
	)

	WorkerSuspendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_worker_suspended_total",
			Help: "Total number of times a worker suspended awaiting a promise",
		},
	)

	WorkerResumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_worker_resumed_total",
			Help: "Total number of times a suspended worker was reactivated by promise completion",
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wexec_reconciliation_duration_seconds",
			Help:    "Duration of a reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	ShardsRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wexec_shards_revoked_total",
			Help: "Total number of shards revoked from nodes detected down",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ShardsOwnedTotal)
	prometheus.MustRegister(ShardAssignmentsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(ActiveWorkersTotal)
	prometheus.MustRegister(ActiveWorkerEvictionsTotal)
	prometheus.MustRegister(OplogAppendDuration)
	prometheus.MustRegister(OplogEntriesTotal)
	prometheus.MustRegister(ReplayedEntriesTotal)
	prometheus.MustRegister(ReplayDivergenceTotal)
	prometheus.MustRegister(PromisesCreatedTotal)
	prometheus.MustRegister(PromisesCompletedTotal)
	prometheus.MustRegister(WorkerSuspendedTotal)
	prometheus.MustRegister(WorkerResumedTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ShardsRevokedTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall time for observing into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time into histogram for labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
