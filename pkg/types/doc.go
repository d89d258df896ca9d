/*
Package types defines the core data structures used throughout the worker
execution engine.

This package contains the domain model shared by every other package:
worker and promise identifiers, worker metadata and status, oplog entry
shapes, and the node topology of the cluster that hosts workers. These types
are used for state management, RPC translation, and durability bookkeeping.

# Core Types

Identifiers:
  - TemplateId: UUID identifying a compiled worker template
  - WorkerId: (TemplateId, worker name) pair identifying a durable worker
  - VersionedWorkerId: WorkerId pinned to a template version
  - PromiseId: (WorkerId, oplog index) pair identifying a durable promise
  - ShardId: partition index of the worker-id space

Worker Lifecycle:
  - WorkerMetadata: durable per-worker record (identity, args, status, retry count)
  - WorkerStatus: Running, Idle, Suspended, Interrupted, Retrying, Failed, Exited
  - InterruptKind: Suspend, Interrupt, Restart

Durability:
  - OplogEntry: one immutable, 1-indexed record of a worker's journal
  - WrappedFunctionKind: ReadLocal, WriteLocal, ReadRemote, WriteRemote
  - Promise / PromiseState: durably-completable one-shot values

Invocation:
  - CallingConvention: Component, Stdio, StdioEventloop
  - InvocationKey: opaque handle for a pending invoke-and-await result
  - Value / ValueKind: typed arguments and results for the Component convention

Cluster Topology:
  - Node, NodeRole, NodeStatus: cluster membership and liveness
  - LogEvent / LogEventKind: connect_worker stream entries

All types are designed to be JSON-serializable for persistence in the oplog
and metadata stores, and self-documenting with clear field names.
*/
package types
