// Package engineerr defines the error envelope every RPC response carries:
// either a successful payload or one of a fixed set of EngineError kinds.
// Kinds distinguish retriable routing/transport failures (handled by
// pkg/client's retry combinator) from non-retriable ones surfaced straight
// to the caller.
package engineerr

import (
	"errors"
	"fmt"

	"github.com/cuemby/wexec/pkg/types"
)

// Kind is one of the error kinds from the RPC error envelope.
type Kind string

const (
	KindInvalidRequest            Kind = "invalid_request"
	KindWorkerNotFound             Kind = "worker_not_found"
	KindPreviousInvocationFailed   Kind = "previous_invocation_failed"
	KindPreviousInvocationExited   Kind = "previous_invocation_exited"
	KindInvalidShardId             Kind = "invalid_shard_id"
	KindRuntimeError               Kind = "runtime_error"
	KindValueMismatch              Kind = "value_mismatch"
	KindInterrupted                Kind = "interrupted"
	KindUnknown                    Kind = "unknown"
)

// EngineError is the typed error every RPC handler returns instead of a bare
// error, so the transport layer can translate it to the wire envelope
// without guessing intent from a message string.
type EngineError struct {
	Kind    Kind
	Message string

	// Populated for KindInvalidShardId.
	ShardId      types.ShardId
	OwnedShards  []types.ShardId

	// Populated for KindInterrupted.
	InterruptKind types.InterruptKind

	Wrapped error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error { return e.Wrapped }

// Retriable reports whether the caller-side routing client should retry
// after refreshing its routing table, per spec §7's propagation policy.
func (e *EngineError) Retriable() bool {
	switch e.Kind {
	case KindInvalidShardId:
		return true
	case KindRuntimeError:
		return isTransportError(e.Message)
	default:
		return false
	}
}

func isTransportError(msg string) bool {
	for _, marker := range []string{"transport error", "UNAVAILABLE", "CHANNEL CLOSED"} {
		if containsFold(msg, marker) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

// indexFold is a tiny case-sensitive-enough substring search; the markers
// above are matched verbatim by the backing stores, so no case folding is
// actually required, but the helper keeps the intent explicit at call sites.
func indexFold(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func InvalidRequest(format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func WorkerNotFound(id types.WorkerId) *EngineError {
	return &EngineError{Kind: KindWorkerNotFound, Message: id.String()}
}

func PreviousInvocationFailed() *EngineError {
	return &EngineError{Kind: KindPreviousInvocationFailed}
}

func PreviousInvocationExited() *EngineError {
	return &EngineError{Kind: KindPreviousInvocationExited}
}

func InvalidShardId(shardId types.ShardId, owned []types.ShardId) *EngineError {
	return &EngineError{Kind: KindInvalidShardId, ShardId: shardId, OwnedShards: owned}
}

func RuntimeError(err error) *EngineError {
	return &EngineError{Kind: KindRuntimeError, Message: err.Error(), Wrapped: err}
}

func ValueMismatch(format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindValueMismatch, Message: fmt.Sprintf(format, args...)}
}

func Interrupted(kind types.InterruptKind) *EngineError {
	return &EngineError{Kind: KindInterrupted, InterruptKind: kind}
}

func Unknown(err error) *EngineError {
	return &EngineError{Kind: KindUnknown, Message: err.Error(), Wrapped: err}
}

// As is a convenience wrapper around errors.As for callers that just need
// to know whether an error is one of ours.
func As(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
