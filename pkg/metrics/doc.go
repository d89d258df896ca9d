/*
Package metrics provides Prometheus metrics collection and exposition for
the worker execution engine.

Metrics are registered at package init via MustRegister and exposed over
HTTP for scraping. The catalog below groups the series by the subsystem
that updates them.

# Metrics Catalog

Cluster:

wexec_nodes_total{role,status}: Gauge. Nodes by role (manager/worker/hybrid)
and status (ready/down/unknown).

Shards:

wexec_shards_owned_total: Gauge. Shards currently owned by this node.
wexec_shard_assignments_total{kind}: Counter. assign/revoke operations.
wexec_shards_revoked_total: Counter. Shards revoked by the reconciler from
nodes detected down.

Raft (the shard map is Raft-replicated):

wexec_raft_is_leader: Gauge, 1 if this node is the Raft leader.
wexec_raft_peers_total, wexec_raft_log_index, wexec_raft_applied_index: Gauges.
wexec_raft_apply_duration_seconds: Histogram of shard-map Apply calls.

RPC Service:

wexec_rpc_requests_total{method,outcome}: Counter.
wexec_rpc_request_duration_seconds{method}: Histogram.

Active Worker Cache:

wexec_active_workers_total{status}: Gauge, resident workers by status.
wexec_active_worker_evictions_total: Counter.

Durability Wrapper / oplog:

wexec_oplog_append_duration_seconds{kind}: Histogram, by WrappedFunctionKind.
wexec_oplog_entries_total{kind}: Counter.
wexec_replayed_entries_total: Counter, entries consumed during replay
(recorded instead of recomputing the host call).
wexec_replay_divergence_total{kind}: Counter, replay results that disagreed
with the recorded entry.

Promise Coordination:

wexec_promises_created_total, wexec_promises_completed_total: Counters.
wexec_worker_suspended_total, wexec_worker_resumed_total: Counters.

Reconciler:

wexec_reconciliation_duration_seconds: Histogram.
wexec_reconciliation_cycles_total: Counter.

# Usage

	timer := metrics.NewTimer()
	entry, err := store.Append(workerID, types.OplogEntry{Kind: types.OplogKindHostCall, WrappedFunctionKind: kind, Payload: payload})
	timer.ObserveDurationVec(metrics.OplogAppendDuration, string(kind))
	metrics.OplogEntriesTotal.WithLabelValues(string(kind)).Inc()

# Integration Points

  - pkg/cluster: node and Raft gauges, via Collector's ClusterView
  - pkg/shard: owned-shard gauge, via Collector's ShardView
  - pkg/activeworker: active-worker gauges, via Collector's ActiveWorkerView
  - pkg/durability: oplog append/replay/divergence series
  - pkg/promise: promise created/completed counters
  - pkg/workerruntime: worker suspended/resumed counters
  - pkg/reconciler: reconciliation cycle series and shards-revoked counter

wexec_shard_assignments_total, wexec_active_worker_evictions_total,
wexec_raft_apply_duration_seconds, wexec_rpc_requests_total and
wexec_rpc_request_duration_seconds are registered and exposed, but no
package in this module updates them.
*/
package metrics
