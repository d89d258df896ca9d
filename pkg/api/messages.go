package api

import (
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/types"
)

// ErrorPayload is the wire shape of engineerr.EngineError. Every response
// struct below embeds a *ErrorPayload instead of using Go's error interface
// directly, since the jsonCodec only marshals exported struct fields.
type ErrorPayload struct {
	Kind          engineerr.Kind     `json:"kind"`
	Message       string             `json:"message,omitempty"`
	ShardId       types.ShardId      `json:"shardId,omitempty"`
	OwnedShards   []types.ShardId    `json:"ownedShards,omitempty"`
	InterruptKind types.InterruptKind `json:"interruptKind,omitempty"`
}

// toErrorPayload translates an engine-layer error into its wire form. A nil
// error yields a nil payload (no error on the response); an error that is
// not an *engineerr.EngineError becomes KindUnknown with its message kept.
func toErrorPayload(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	ee, ok := engineerr.As(err)
	if !ok {
		return &ErrorPayload{Kind: engineerr.KindUnknown, Message: err.Error()}
	}
	return &ErrorPayload{
		Kind:          ee.Kind,
		Message:       ee.Message,
		ShardId:       ee.ShardId,
		OwnedShards:   ee.OwnedShards,
		InterruptKind: ee.InterruptKind,
	}
}

// fromErrorPayload reconstructs an *engineerr.EngineError from its wire
// form, the inverse of toErrorPayload. Nothing in this module calls it;
// pkg/client converts payloads with its own helper.
func fromErrorPayload(p *ErrorPayload) *engineerr.EngineError {
	if p == nil {
		return nil
	}
	return &engineerr.EngineError{
		Kind:          p.Kind,
		Message:       p.Message,
		ShardId:       p.ShardId,
		OwnedShards:   p.OwnedShards,
		InterruptKind: p.InterruptKind,
	}
}

// CreateWorkerRequest is create_worker's payload (spec.md §6).
type CreateWorkerRequest struct {
	WorkerId        types.WorkerId
	TemplateVersion int32
	Args            []string
	Env             map[string]string
	AccountId       string
}

type CreateWorkerResponse struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type GetInvocationKeyRequest struct {
	WorkerId types.WorkerId
}

type GetInvocationKeyResponse struct {
	InvocationKey types.InvocationKey `json:"invocationKey,omitempty"`
	Error         *ErrorPayload       `json:"error,omitempty"`
}

type InvokeWorkerRequest struct {
	WorkerId     types.WorkerId
	FunctionName string
	Args         []types.Value
	Convention   types.CallingConvention
}

type InvokeWorkerResponse struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type InvokeAndAwaitWorkerRequest struct {
	WorkerId      types.WorkerId
	InvocationKey types.InvocationKey
	FunctionName  string
	Args          []types.Value
	Convention    types.CallingConvention
}

type InvokeAndAwaitWorkerResponse struct {
	Results []types.Value `json:"results,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// ConnectWorkerRequest is the single message sent to open the connect_worker
// server stream; each subsequent LogEventMessage on the stream carries one
// types.LogEvent until the client cancels or the worker is deleted.
type ConnectWorkerRequest struct {
	WorkerId types.WorkerId
}

type LogEventMessage struct {
	Event types.LogEvent `json:"event,omitempty"`
	Error *ErrorPayload  `json:"error,omitempty"`
}

type DeleteWorkerRequest struct {
	WorkerId types.WorkerId
}

type DeleteWorkerResponse struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type CompletePromiseRequest struct {
	PromiseId types.PromiseId
	Value     []byte
}

type CompletePromiseResponse struct {
	Completed bool          `json:"completed"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

type InterruptWorkerRequest struct {
	WorkerId           types.WorkerId
	RecoverImmediately bool
}

type InterruptWorkerResponse struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type ResumeWorkerRequest struct {
	WorkerId types.WorkerId
}

type ResumeWorkerResponse struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type GetWorkerMetadataRequest struct {
	WorkerId types.WorkerId
}

type GetWorkerMetadataResponse struct {
	Metadata types.WorkerMetadata `json:"metadata,omitempty"`
	Error    *ErrorPayload        `json:"error,omitempty"`
}

// GetShardMapRequest has no fields; GetShardMap always returns this node's
// full view of shard ownership, which is identical on every node once Raft
// has replicated the latest assign/revoke command. The Routing Client
// (pkg/client) polls this to refresh its cached shard map.
type GetShardMapRequest struct{}

type GetShardMapResponse struct {
	TotalShards uint32 `json:"totalShards"`
	// Owners maps a shard id directly to its owning node's dial address
	// (not the bare node id), so the Routing Client can use this response
	// without a second lookup.
	Owners map[types.ShardId]string `json:"owners,omitempty"`
}

// AssignShardsRequest/RevokeShardsRequest carry cluster-membership shard
// assignments — these are applied directly against shard.Service/
// cluster.Manager rather than pkg/engine, so they have no EngineError
// mapping and report a plain message on failure.
type AssignShardsRequest struct {
	NodeId   string
	ShardIds []types.ShardId
}

type AssignShardsResponse struct {
	Error string `json:"error,omitempty"`
}

type RevokeShardsRequest struct {
	NodeId   string
	ShardIds []types.ShardId
}

type RevokeShardsResponse struct {
	Error string `json:"error,omitempty"`
}
