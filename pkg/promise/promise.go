// Package promise implements Promise Coordination: durable one-shot values
// a worker can create, await, and have completed from outside its own
// invocation, reactivating whatever waiter is suspended on them.
package promise

import (
	"fmt"

	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
)

// Reactivator reactivates a worker suspended awaiting a promise. Kept as a
// narrow interface rather than a direct import of pkg/workerruntime so the
// dependency runs the other way: the worker runtime depends on promise.Service,
// not the reverse.
type Reactivator interface {
	// Reactivate is called after a promise transitions to Completed. It is a
	// best-effort nudge: if the worker isn't resident in the active worker
	// cache, the next invocation attempt will observe the completed promise
	// on its own poll and proceed without needing this call.
	Reactivate(workerId types.WorkerId) error
}

// Service is the Promise Service: create/poll/complete over a PromiseStore,
// plus reactivation of whatever runtime is waiting on a completed promise.
type Service struct {
	store       storage.PromiseStore
	reactivator Reactivator
}

func NewService(store storage.PromiseStore, reactivator Reactivator) *Service {
	return &Service{store: store, reactivator: reactivator}
}

// Create durably records a new pending promise, keyed by the oplog index at
// which the worker that owns it created it. Idempotent: creating the same
// PromiseId twice is a no-op, matching replay re-running the same call.
func (s *Service) Create(id types.PromiseId) error {
	if err := s.store.Create(id); err != nil {
		return fmt.Errorf("creating promise %s: %w", id, err)
	}
	metrics.PromisesCreatedTotal.Inc()
	return nil
}

// Poll reports whether id has been completed and, if so, its value. The
// host's await capability reaches it through AwaitPromise under the
// Durability Wrapper, which records only a completed answer; a pending
// answer is never recorded, so replay polls the store afresh.
func (s *Service) Poll(id types.PromiseId) (done bool, value []byte, err error) {
	done, value, err = s.store.Poll(id)
	if err != nil {
		return false, nil, fmt.Errorf("polling promise %s: %w", id, err)
	}
	return done, value, nil
}

// Complete performs the compare-and-swap completion and, on the transition
// that actually completed it, reactivates whatever worker was waiting.
// Returns completed=false without error if the promise was already
// completed, matching the store's CAS semantics.
func (s *Service) Complete(id types.PromiseId, value []byte) (completed bool, err error) {
	completed, err = s.store.Complete(id, value)
	if err != nil {
		return false, fmt.Errorf("completing promise %s: %w", id, err)
	}
	if !completed {
		return false, nil
	}
	metrics.PromisesCompletedTotal.Inc()

	if s.reactivator != nil {
		if err := s.reactivator.Reactivate(id.WorkerId); err != nil {
			// Reactivation is best-effort; the promise is already durably
			// completed, so a failed nudge here just means the worker picks
			// it up on its own next poll instead of immediately.
			return true, fmt.Errorf("promise %s completed but reactivation failed: %w", id, err)
		}
	}
	return true, nil
}

// AwaitOutcome is the one of two things AwaitPromise can hand back: either
// the promise's value, or an instruction to suspend.
type AwaitOutcome struct {
	Value     []byte
	Suspended bool
}

// AwaitPromise implements spec.md's await_promise: poll once, and if the
// promise isn't done yet, tell the caller to suspend rather than block the
// runtime thread. The runtime re-enters AwaitPromise on resume/reactivation.
func (s *Service) AwaitPromise(id types.PromiseId) (AwaitOutcome, error) {
	done, value, err := s.Poll(id)
	if err != nil {
		return AwaitOutcome{}, err
	}
	if !done {
		return AwaitOutcome{Suspended: true}, nil
	}
	return AwaitOutcome{Value: value}, nil
}

// ValidateReactivationTarget returns a typed error if kind isn't one of the
// worker statuses a completed promise is allowed to reactivate from
// (Interrupted, Running, Suspended, Retrying per spec §4.7).
func ValidateReactivationTarget(status types.WorkerStatus) error {
	switch status {
	case types.WorkerStatusInterrupted, types.WorkerStatusRunning, types.WorkerStatusSuspended, types.WorkerStatusRetrying:
		return nil
	default:
		return engineerr.InvalidRequest("cannot reactivate worker in status %s", status)
	}
}
