package workerruntime

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/wexec/pkg/types"
)

// invocationMarkerPayload is persisted as the payload of an
// OplogKindInvocationStart entry, letting a later restart reconstruct
// enough of the invocation to redrive it: the function and args it was
// called with, the calling convention to invoke it under, and the
// invocation key the original caller (if still listening) knows it by.
type invocationMarkerPayload struct {
	Key        types.InvocationKey
	Function   string
	Args       []types.Value
	Convention types.CallingConvention
}

// recordInvocationStart durably marks the beginning of entry's invocation
// at the worker's current oplog position, so a crash between this point
// and recordInvocationEnd leaves recoverUnterminatedInvocation something
// to find on restart. Best-effort: a marshal or append failure here still
// lets the invocation proceed, just without crash-recovery support for it.
func (r *Runtime) recordInvocationStart(entry *invocationEntry) {
	payload, err := json.Marshal(invocationMarkerPayload{
		Key:        entry.key,
		Function:   entry.function,
		Args:       entry.args,
		Convention: entry.convention,
	})
	if err != nil {
		return
	}
	if err := r.hostCtx.AppendMarker(types.OplogKindInvocationStart, payload); err != nil {
		return
	}
	entry.startCursor = r.hostCtx.CursorPosition()
	entry.cursorCaptured = true
}

// recordInvocationEnd closes out the boundary opened by
// recordInvocationStart. A no-op if the start marker was never recorded
// (e.g. the marshal/append above failed), since there's nothing for a
// restart to consider unterminated in that case.
func (r *Runtime) recordInvocationEnd(entry *invocationEntry) {
	if !entry.cursorCaptured {
		return
	}
	_ = r.hostCtx.AppendMarker(types.OplogKindInvocationEnd, nil)
}

// rewindForRedrive repositions the HostContext so a redriven invocation
// replays everything recorded since its original invocation-start marker
// before falling through to live execution. ExtendReplayTo is necessary
// for an in-process redrive (promise reactivation): the HostContext's
// replay boundary was fixed at construction time and the entries written
// by the suspended attempt live beyond it.
func (r *Runtime) rewindForRedrive(entry *invocationEntry) {
	if length, err := r.store.Length(r.workerId); err == nil {
		r.hostCtx.ExtendReplayTo(length)
	}
	r.hostCtx.Rewind(entry.startCursor)
}

// recoverUnterminatedInvocation scans the oplog for an InvocationStart
// marker with no matching InvocationEnd — the signature of a worker that
// crashed mid-invocation — and, if found, enqueues a redrive of it before
// the runtime accepts any new work. The reconstructed entry has no
// resultSink: whatever caller was waiting on the original invocation was
// a connection to a process that no longer exists.
func (r *Runtime) recoverUnterminatedInvocation(length int64) error {
	if length == 0 {
		return nil
	}
	entries, err := r.store.Read(r.workerId, 1, length)
	if err != nil {
		return fmt.Errorf("reading oplog for recovery scan: %w", err)
	}

	var pending *invocationMarkerPayload
	var pendingIndex int64
	for _, e := range entries {
		switch e.Kind {
		case types.OplogKindInvocationStart:
			var payload invocationMarkerPayload
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				pending = nil
				continue
			}
			pending = &payload
			pendingIndex = e.Index
		case types.OplogKindInvocationEnd:
			pending = nil
		}
	}
	if pending == nil {
		return nil
	}

	return r.enqueue(&invocationEntry{
		key:            pending.Key,
		function:       pending.Function,
		args:           pending.Args,
		convention:     pending.Convention,
		startCursor:    pendingIndex,
		cursorCaptured: true,
		redrive:        true,
	})
}
