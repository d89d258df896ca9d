// Package durability implements the Durability Wrapper: the single
// envelope every effectful host call passes through, giving a worker
// deterministic replay from its oplog and exactly-once-recorded external
// effects.
package durability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
)

// DivergenceError is returned by Wrap when replay finds that the next
// oplog entry doesn't match the host call the worker is about to make. It
// is fatal and non-retriable: the caller (pkg/workerruntime) must
// transition the worker to Failed and surface PreviousInvocationFailed to
// subsequent invocations.
type DivergenceError struct {
	WorkerId     types.WorkerId
	OplogIndex   int64
	ExpectedName string
	ExpectedKind types.WrappedFunctionKind
	ActualName   string
	ActualKind   types.WrappedFunctionKind
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf(
		"replay divergence for %s at oplog index %d: recorded (%s, %s), code attempted (%s, %s)",
		e.WorkerId, e.OplogIndex, e.ExpectedName, e.ExpectedKind, e.ActualName, e.ActualKind,
	)
}

// ReplayedError is returned by Wrap/WrapMaybe when replay reaches an
// oplog entry that recorded a live host-call failure. Replaying a failure
// must reproduce that same failure, not retry the call against a backend
// that might now behave differently — that would make the worker's
// behavior depend on timing instead of its own recorded history.
type ReplayedError struct {
	WorkerId     types.WorkerId
	OplogIndex   int64
	FunctionName string
	Message      string
}

func (e *ReplayedError) Error() string {
	return fmt.Sprintf("%s (replayed failure for %s at oplog index %d)", e.Message, e.FunctionName, e.OplogIndex)
}

// InterruptError is returned by Wrap when an interrupt was installed via
// SetInterruptCheck and this call is the first live host-call boundary to
// observe it. The Durability Wrapper is the only point where an interrupt
// can take effect, per the cooperative-preemption model: the worker's
// program is never unwound mid-instruction, only between host calls.
type InterruptError struct {
	Kind types.InterruptKind
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupted: %s", e.Kind)
}

// HostContext tracks one worker's position in its oplog: whether it is
// still replaying recorded history or has fallen through to live
// execution. Once live it stays live, unless Rewind or ExtendReplayTo
// puts recorded entries ahead of the cursor again.
type HostContext struct {
	Ctx      context.Context
	WorkerId types.WorkerId
	Store    storage.OplogStore

	cursor   int64 // last oplog index consumed
	replayTo int64 // oplog length this HostContext replays up to

	// interruptCheck is consulted at every live host-call boundary (never
	// during replay, so a restart-in-progress replay always runs to
	// completion before an interrupt can take effect again). Installed by
	// pkg/workerruntime via SetInterruptCheck.
	interruptCheck func() (types.InterruptKind, bool)
}

// SetInterruptCheck installs the one-shot interrupt signal the Worker
// Runtime uses for cooperative preemption. A nil check disables the
// mechanism (the zero value of HostContext already behaves this way).
func (h *HostContext) SetInterruptCheck(check func() (types.InterruptKind, bool)) {
	h.interruptCheck = check
}

// NewHostContext creates a HostContext that will replay entries
// [1, replayTo] before falling through to live execution.
func NewHostContext(ctx context.Context, workerId types.WorkerId, store storage.OplogStore, replayTo int64) *HostContext {
	return &HostContext{Ctx: ctx, WorkerId: workerId, Store: store, replayTo: replayTo}
}

// replaying reports whether the next call should be served from the oplog.
func (h *HostContext) replaying() bool {
	return h.cursor < h.replayTo
}

// CursorPosition returns the oplog index of the last entry consumed (by
// replay) or appended (live). Used by capabilities that derive an
// identifier from the worker's own oplog position (promise creation), and
// by pkg/workerruntime to checkpoint where a redriven invocation attempt
// must resume replaying from.
func (h *HostContext) CursorPosition() int64 {
	return h.cursor
}

// Rewind repositions the cursor to oplogIndex, for a fresh attempt that
// must replay everything recorded since that point rather than treat it
// as already live. Only meaningful immediately after construction, before
// any Wrap/WrapMaybe call on this HostContext.
func (h *HostContext) Rewind(oplogIndex int64) {
	h.cursor = oplogIndex
}

// ExtendReplayTo raises the replay boundary to at least n. A HostContext
// fixes its boundary at construction time, so a later in-process redrive
// that needs to replay host calls recorded by a prior live attempt within
// the same process — entries whose index lies beyond that original
// boundary — must extend it first or advancePastMarkers will refuse to
// look past where replay was originally expected to end.
func (h *HostContext) ExtendReplayTo(n int64) {
	if n > h.replayTo {
		h.replayTo = n
	}
}

// AppendMarker durably records an invocation-boundary entry (start or
// end) rather than a host call, advancing the cursor so later index
// arithmetic accounts for it. advancePastMarkers is what replay uses to
// skip back over these transparently.
func (h *HostContext) AppendMarker(kind types.OplogEntryKind, payload []byte) error {
	entry := types.OplogEntry{Kind: kind, Payload: payload, RecordedAt: time.Now()}
	if _, err := h.Store.Append(h.WorkerId, entry); err != nil {
		return fmt.Errorf("appending %s marker: %w", kind, err)
	}
	h.cursor++
	return nil
}

// advancePastMarkers walks forward from h.cursor+1, skipping any
// invocation-boundary markers interleaved in the oplog, and returns the
// index of the next host-call entry. ranOut is true once the scan passes
// replayTo without finding one (recorded history ended earlier than
// replayTo promised, or simply has nothing more to offer at this
// position), meaning the caller should fall through to live execution.
func (h *HostContext) advancePastMarkers() (next int64, ranOut bool, err error) {
	next = h.cursor + 1
	for next <= h.replayTo {
		entries, readErr := h.Store.Read(h.WorkerId, next, next)
		if readErr != nil {
			return 0, false, fmt.Errorf("reading oplog entry %d: %w", next, readErr)
		}
		if len(entries) == 0 {
			return 0, true, nil
		}
		if entries[0].Kind != types.OplogKindHostCall {
			h.cursor = next
			next++
			continue
		}
		return next, false, nil
	}
	return 0, true, nil
}

// wrapEnvelope is the persisted payload of every non-ReadLocal host call:
// either its result or the error it failed with, mirroring a Result<T,E>
// capture so replay can reproduce either branch deterministically.
type wrapEnvelope[T any] struct {
	Value T      `json:"value"`
	Error string `json:"error,omitempty"`
}

// replayEntry reads and validates the oplog entry at index next against
// (kind, name) and decodes its envelope. consumed=false, err=nil means
// there was nothing there to read (the caller should fall through to
// live); consumed=true, err!=nil means the entry recorded a failure that
// must now be reproduced rather than retried.
func replayEntry[T any](h *HostContext, kind types.WrappedFunctionKind, name string, next int64) (result T, consumed bool, err error) {
	var zero T
	entries, err := h.Store.Read(h.WorkerId, next, next)
	if err != nil {
		return zero, false, fmt.Errorf("reading oplog entry %d: %w", next, err)
	}
	if len(entries) == 0 {
		return zero, false, nil
	}

	entry := entries[0]
	if entry.FunctionName != name || entry.WrappedFunctionKind != kind {
		metrics.ReplayDivergenceTotal.WithLabelValues(string(kind)).Inc()
		return zero, false, &DivergenceError{
			WorkerId:     h.WorkerId,
			OplogIndex:   next,
			ExpectedName: entry.FunctionName,
			ExpectedKind: entry.WrappedFunctionKind,
			ActualName:   name,
			ActualKind:   kind,
		}
	}

	var envelope wrapEnvelope[T]
	if err := json.Unmarshal(entry.Payload, &envelope); err != nil {
		return zero, false, fmt.Errorf("decoding oplog entry %d payload: %w", next, err)
	}
	if envelope.Error != "" {
		return zero, true, &ReplayedError{WorkerId: h.WorkerId, OplogIndex: next, FunctionName: name, Message: envelope.Error}
	}
	return envelope.Value, true, nil
}

// Wrap is the Durability Wrapper for a host call whose outcome is always
// durably recorded (everything but ReadLocal). During replay it requires
// the next oplog entry to match (name, kind) and decodes its payload as
// the result, without invoking live; if the recorded outcome was a live
// failure, that failure is reproduced instead. In live mode it invokes
// live and persists either branch of the result, except for ReadLocal,
// whose results are recomputed on replay rather than stored, keeping the
// oplog small for frequently-called local reads such as the process
// clock.
func Wrap[T any](h *HostContext, kind types.WrappedFunctionKind, name string, live func(context.Context) (T, error)) (T, error) {
	if kind == types.ReadLocal {
		return live(h.Ctx)
	}
	return WrapMaybe(h, kind, name, func(ctx context.Context) (T, bool, error) {
		result, err := live(ctx)
		return result, true, err
	})
}

// WrapMaybe is Wrap for a host call whose outcome is only sometimes worth
// persisting: live's second return value says so. The motivating case is
// await_promise (spec §4.7): a pending promise returns the Suspend
// interrupt without ever touching the oplog, so a worker that crashes or
// is reactivated while suspended polls fresh on its next attempt instead
// of replaying a stale "still pending" answer forever. A persist=false
// call leaves the cursor untouched, exactly as if it never happened; a
// later replay attempt runs off the end of recorded history at that
// position and falls straight through to live again.
func WrapMaybe[T any](h *HostContext, kind types.WrappedFunctionKind, name string, live func(context.Context) (T, bool, error)) (T, error) {
	var zero T

	if h.replaying() {
		next, ranOut, err := h.advancePastMarkers()
		if err != nil {
			return zero, err
		}
		if ranOut {
			h.cursor = h.replayTo
			return liveWrapMaybe(h, kind, name, live)
		}

		result, consumed, err := replayEntry[T](h, kind, name, next)
		if consumed {
			h.cursor = next
			metrics.ReplayedEntriesTotal.Inc()
			return result, err
		}
		if err != nil {
			return zero, err
		}
		h.cursor = h.replayTo
		return liveWrapMaybe(h, kind, name, live)
	}

	return liveWrapMaybe(h, kind, name, live)
}

func liveWrapMaybe[T any](h *HostContext, kind types.WrappedFunctionKind, name string, live func(context.Context) (T, bool, error)) (T, error) {
	var zero T

	if h.interruptCheck != nil {
		if interruptKind, installed := h.interruptCheck(); installed {
			return zero, &InterruptError{Kind: interruptKind}
		}
	}

	result, persist, liveErr := live(h.Ctx)
	if !persist {
		return result, liveErr
	}
	return persistResult(h, kind, name, result, liveErr)
}

// persistResult records either branch of a live call's outcome and
// advances the cursor, then surfaces liveErr to the caller unchanged —
// persisting a failure does not turn it into a success.
func persistResult[T any](h *HostContext, kind types.WrappedFunctionKind, name string, result T, liveErr error) (T, error) {
	var zero T
	timer := metrics.NewTimer()

	envelope := wrapEnvelope[T]{Value: result}
	if liveErr != nil {
		envelope.Error = liveErr.Error()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return zero, fmt.Errorf("encoding result for %s: %w", name, err)
	}

	entry := types.OplogEntry{
		Kind:                types.OplogKindHostCall,
		WrappedFunctionKind: kind,
		FunctionName:        name,
		Payload:             payload,
		RecordedAt:          time.Now(),
	}
	// WriteRemote's effect is only considered complete once this append
	// commits, closing the window where an effect happened but the fact
	// of it happening was never durably recorded.
	if _, err := h.Store.Append(h.WorkerId, entry); err != nil {
		return zero, fmt.Errorf("appending oplog entry for %s: %w", name, err)
	}
	timer.ObserveDurationVec(metrics.OplogAppendDuration, string(kind))
	metrics.OplogEntriesTotal.WithLabelValues(string(kind)).Inc()

	h.cursor++

	if liveErr != nil {
		return zero, liveErr
	}
	return result, nil
}
