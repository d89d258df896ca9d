// Package types defines the core data structures shared across the worker
// execution engine: identifiers, worker metadata, oplog entries, promises,
// and the node topology of the cluster hosting them.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TemplateId identifies a compiled worker template (module). Templates are
// versioned and immutable; the template registry itself is an external
// collaborator (see pkg/template for the minimal in-process stub).
type TemplateId uuid.UUID

func (t TemplateId) String() string {
	return uuid.UUID(t).String()
}

// WorkerId identifies a single durable worker instance.
type WorkerId struct {
	TemplateId TemplateId
	WorkerName string
}

func (w WorkerId) String() string {
	return fmt.Sprintf("%s/%s", w.TemplateId, w.WorkerName)
}

// VersionedWorkerId pins a WorkerId to the template version it was created
// against, used when a template is upgraded and in-flight workers must keep
// replaying against the version they started with.
type VersionedWorkerId struct {
	WorkerId        WorkerId
	TemplateVersion int32
}

// PromiseId identifies a single durable promise: the oplog index at which a
// worker created it, scoped to that worker.
type PromiseId struct {
	WorkerId   WorkerId
	OplogIndex int64
}

func (p PromiseId) String() string {
	return fmt.Sprintf("%s#%d", p.WorkerId, p.OplogIndex)
}

// ShardId is a non-negative partition index of the worker-id space.
type ShardId uint32

// WorkerStatus is the finite set of states a worker's runtime can be in.
// See pkg/workerruntime for the transition table.
type WorkerStatus string

const (
	WorkerStatusRunning     WorkerStatus = "running"
	WorkerStatusIdle        WorkerStatus = "idle"
	WorkerStatusSuspended   WorkerStatus = "suspended"
	WorkerStatusInterrupted WorkerStatus = "interrupted"
	WorkerStatusRetrying    WorkerStatus = "retrying"
	WorkerStatusFailed      WorkerStatus = "failed"
	WorkerStatusExited      WorkerStatus = "exited"
)

// Terminal reports whether no further status transition is possible except
// an explicit delete.
func (s WorkerStatus) Terminal() bool {
	return s == WorkerStatusFailed || s == WorkerStatusExited
}

// WorkerMetadata is the durable, per-worker record. It is created once, on
// first instantiation, and mutated only by that worker's single-writer
// runtime thereafter.
type WorkerMetadata struct {
	WorkerId        WorkerId
	TemplateVersion int32
	AccountId       string
	Args            []string
	Env             map[string]string
	Status          WorkerStatus
	RetryCount      int
	OplogLength     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastError       string
}

// WrappedFunctionKind classifies a host call for the Durability Wrapper
// (pkg/durability). The distinction drives what gets persisted and what
// gets recomputed on replay.
type WrappedFunctionKind string

const (
	ReadLocal   WrappedFunctionKind = "read-local"
	WriteLocal  WrappedFunctionKind = "write-local"
	ReadRemote  WrappedFunctionKind = "read-remote"
	WriteRemote WrappedFunctionKind = "write-remote"
)

// OplogEntryKind distinguishes a host-call record from the invocation
// boundary markers that recovery needs to resume mid-invocation.
type OplogEntryKind string

const (
	OplogKindHostCall        OplogEntryKind = "host-call"
	OplogKindInvocationStart OplogEntryKind = "invocation-start"
	OplogKindInvocationEnd   OplogEntryKind = "invocation-end"
)

// OplogEntry is a single, immutable, 1-indexed record in a worker's journal.
type OplogEntry struct {
	Index               int64
	Kind                OplogEntryKind
	WrappedFunctionKind WrappedFunctionKind
	FunctionName        string
	Payload             []byte
	RecordedAt          time.Time
}

// PromiseState is the lifecycle of a durable promise.
type PromiseState string

const (
	PromisePending   PromiseState = "pending"
	PromiseCompleted PromiseState = "completed"
)

// Promise is a named, durably-completable one-shot value a worker awaits.
type Promise struct {
	Id    PromiseId
	State PromiseState
	Value []byte
}

// CallingConvention is the wire-level shape of arguments and results for an
// invocation.
type CallingConvention string

const (
	CallingConventionComponent      CallingConvention = "component"
	CallingConventionStdio          CallingConvention = "stdio"
	CallingConventionStdioEventloop CallingConvention = "stdio-eventloop"
)

// InvocationKey is the opaque handle binding a caller to a pending
// invoke-and-await result.
type InvocationKey string

// ValueKind tags the active field of a Value.
type ValueKind string

const (
	ValueKindI32   ValueKind = "i32"
	ValueKindI64   ValueKind = "i64"
	ValueKindF64   ValueKind = "f64"
	ValueKindStr   ValueKind = "string"
	ValueKindBool  ValueKind = "bool"
	ValueKindBytes ValueKind = "bytes"
)

// Value is a single typed argument or result value for the Component
// calling convention. Only the primitive shapes the worker runtime's host
// surface needs are modeled; richer WIT value shapes are out of scope.
type Value struct {
	Kind  ValueKind
	I32   int32
	I64   int64
	F64   float64
	Str   string
	Bool  bool
	Bytes []byte
}

// NodeRole distinguishes a cluster-management node from a pure execution
// node; a node can hold both roles (hybrid mode).
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleWorker  NodeRole = "worker"
	NodeRoleHybrid  NodeRole = "hybrid"
)

// NodeStatus is the liveness state of a cluster node as seen by its peers.
type NodeStatus string

const (
	NodeStatusReady   NodeStatus = "ready"
	NodeStatusDown    NodeStatus = "down"
	NodeStatusUnknown NodeStatus = "unknown"
)

// Node represents one member of the execution cluster.
type Node struct {
	ID            string
	Role          NodeRole
	Address       string
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// LogEventKind distinguishes the three shapes of event the log stream
// (connect_worker) can emit.
type LogEventKind string

const (
	LogEventStdout LogEventKind = "stdout"
	LogEventStderr LogEventKind = "stderr"
	LogEventLog    LogEventKind = "log"
)

// LogEvent is one entry of a worker's connect_worker stream.
type LogEvent struct {
	WorkerId  WorkerId
	Kind      LogEventKind
	Level     string
	Context   map[string]string
	Message   string
	Timestamp time.Time
}

// InterruptKind distinguishes the three ways a worker's execution can pause
// cooperatively at a host-call boundary.
type InterruptKind string

const (
	InterruptSuspend InterruptKind = "suspend"
	InterruptPause   InterruptKind = "interrupt"
	InterruptRestart InterruptKind = "restart"
)
