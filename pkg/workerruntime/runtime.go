// Package workerruntime drives a single worker's in-memory execution: its
// invocation queue, calling conventions, state machine, interrupt
// plumbing, and recovery from the oplog. One Runtime exists per worker
// resident in the Active Worker Cache, enforced by that cache's
// get-or-create-pending discipline rather than by convention here.
package workerruntime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/wexec/pkg/durability"
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/events"
	"github.com/cuemby/wexec/pkg/health"
	"github.com/cuemby/wexec/pkg/hostfns"
	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/promise"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
)

const queueCapacity = 64

// ErrSuspend is returned by Program.Invoke when it has observed a pending
// (not yet completed) promise via await_promise and wants the runtime to
// suspend the current invocation rather than continue. It is the Go
// expression of spec §4.7's "Suspend interrupt returned to the runtime".
var ErrSuspend = errors.New("workerruntime: suspend pending promise completion")

// Program is the compiled worker code this Runtime drives. Distinct
// implementations back the three calling conventions: a direct in-process
// call for Component, and a subprocess-backed implementation (see
// stdio.go) for Stdio and StdioEventloop.
type Program interface {
	// Invoke runs functionName with args against host, the capability
	// surface bound to this invocation's HostContext. Returning ErrSuspend
	// requests a suspend transition; returning *hostfns.ExitSignal requests
	// an exit transition. Any other error is treated as a live execution
	// failure subject to retry.
	Invoke(ctx context.Context, host *hostfns.Host, functionName string, args []types.Value) ([]types.Value, error)
}

// Config is the Worker Runtime's retry backoff policy, exponential per
// spec §6's config surface.
type Config struct {
	RetryBackoffInitial    time.Duration
	RetryBackoffMax        time.Duration
	RetryBackoffMultiplier float64
	RetryMaxAttempts       int
}

// DefaultConfig mirrors a conservative production default: a handful of
// quick retries before giving up.
func DefaultConfig() Config {
	return Config{
		RetryBackoffInitial:    200 * time.Millisecond,
		RetryBackoffMax:        30 * time.Second,
		RetryBackoffMultiplier: 2.0,
		RetryMaxAttempts:       5,
	}
}

type invocationEntry struct {
	key        types.InvocationKey
	function   string
	args       []types.Value
	convention types.CallingConvention
	resultSink chan InvocationResult

	// startCursor is the oplog index this invocation's boundary marker was
	// recorded at, set by recordInvocationStart on first attempt. cursorCaptured
	// distinguishes "not yet recorded" from index 0. redrive marks an entry
	// reconstructed for crash recovery or promise reactivation: process must
	// rewind the HostContext to startCursor and replay forward before falling
	// through to live execution, rather than continuing from wherever the
	// HostContext currently sits.
	startCursor    int64
	cursorCaptured bool
	redrive        bool
}

// InvocationResult is what invoke_and_await eventually observes.
type InvocationResult struct {
	Values []types.Value
	Err    error
}

// Runtime owns one worker's queue, state, and host context. It satisfies
// pkg/activeworker.Runtime via Status.
type Runtime struct {
	workerId  types.WorkerId
	accountId string

	store    storage.Store
	program  Program
	config   Config
	promises *promise.Service
	stream   *events.Stream

	queue  chan *invocationEntry
	stopCh chan struct{}
	stopOnce sync.Once

	mu               sync.Mutex
	status           types.WorkerStatus
	retryCount       int
	lastError        string
	pendingInterrupt *types.InterruptKind
	interruptDone    chan struct{}

	// suspended holds the invocation whose await_promise observed a
	// pending promise, keyed by the original invocationEntry so its
	// resultSink stays alive until Reactivate redrives it to the real
	// final value — never responded to directly.
	suspended *invocationEntry

	hostCtx *durability.HostContext
	host    *hostfns.Host
}

// New creates a Runtime for an already-created worker (its WorkerMetadata
// must already exist in store) and starts its single-writer processing
// loop. Recovery begins automatically: the HostContext replays up to the
// worker's current oplog length before falling through to live execution.
func New(workerId types.WorkerId, accountId string, store storage.Store, program Program, promises *promise.Service, stream *events.Stream, config Config, fsRoot string) (*Runtime, error) {
	length, err := store.Length(workerId)
	if err != nil {
		return nil, fmt.Errorf("reading oplog length for %s: %w", workerId, err)
	}

	hostCtx := durability.NewHostContext(context.Background(), workerId, store, length)

	r := &Runtime{
		workerId:  workerId,
		accountId: accountId,
		store:     store,
		program:   program,
		config:    config,
		promises:  promises,
		stream:    stream,
		queue:     make(chan *invocationEntry, queueCapacity),
		stopCh:    make(chan struct{}),
		status:    types.WorkerStatusIdle,
		hostCtx:   hostCtx,
	}
	r.host = hostfns.NewHost(hostCtx, accountId, store, promises, fsRoot)
	hostCtx.SetInterruptCheck(r.checkInterrupt)

	if err := r.recoverUnterminatedInvocation(length); err != nil {
		return nil, fmt.Errorf("recovering unterminated invocation for %s: %w", workerId, err)
	}

	go r.run()
	return r, nil
}

// Status implements pkg/activeworker.Runtime.
func (r *Runtime) Status() types.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runtime) setStatus(status types.WorkerStatus) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	meta, err := r.store.GetWorker(r.workerId)
	if err != nil || meta == nil {
		return
	}
	meta.Status = status
	meta.UpdatedAt = time.Now()
	_ = r.store.UpdateWorker(*meta)
}

// Invoke enqueues a fire-and-forget invocation (no invocation key
// required) and returns immediately.
func (r *Runtime) Invoke(functionName string, args []types.Value, convention types.CallingConvention) error {
	return r.enqueue(&invocationEntry{function: functionName, args: args, convention: convention})
}

// InvokeAndAwait enqueues an invocation under invocationKey and blocks
// until its result is available or ctx is cancelled. A cancelled caller
// does not cancel the in-flight invocation, per spec §5's cancellation
// policy — the result is simply abandoned here.
func (r *Runtime) InvokeAndAwait(ctx context.Context, invocationKey types.InvocationKey, functionName string, args []types.Value, convention types.CallingConvention) ([]types.Value, error) {
	entry := &invocationEntry{
		key:        invocationKey,
		function:   functionName,
		args:       args,
		convention: convention,
		resultSink: make(chan InvocationResult, 1),
	}
	if err := r.enqueue(entry); err != nil {
		return nil, err
	}

	select {
	case result := <-entry.resultSink:
		return result.Values, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runtime) enqueue(entry *invocationEntry) error {
	status := r.Status()
	if status == types.WorkerStatusFailed {
		return engineerr.PreviousInvocationFailed()
	}
	if status == types.WorkerStatusExited {
		return engineerr.PreviousInvocationExited()
	}

	select {
	case r.queue <- entry:
		return nil
	case <-r.stopCh:
		return engineerr.InvalidRequest("worker %s is shutting down", r.workerId)
	}
}

// SetInterrupting installs a one-shot interrupt signal, observed at the
// next host-call boundary inside the Durability Wrapper. It returns a
// channel closed once the runtime has actually paused.
func (r *Runtime) SetInterrupting(kind types.InterruptKind) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := kind
	r.pendingInterrupt = &k
	r.interruptDone = make(chan struct{})
	return r.interruptDone
}

// checkInterrupt is the hook durability.HostContext consults at every live
// host-call boundary. It consumes the pending interrupt exactly once.
func (r *Runtime) checkInterrupt() (types.InterruptKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingInterrupt == nil {
		return "", false
	}
	kind := *r.pendingInterrupt
	r.pendingInterrupt = nil
	return kind, true
}

func (r *Runtime) signalInterruptionComplete() {
	r.mu.Lock()
	done := r.interruptDone
	r.interruptDone = nil
	r.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Stop quiesces the runtime: no new invocations are accepted, and the
// processing loop exits once the current invocation (if any) finishes.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// pidReporter is satisfied by StdioProgram; Component programs run
// in-process and have no subprocess to check.
type pidReporter interface {
	Pid() (int, bool)
}

// Liveness returns a health.Checker for this worker's subprocess, for a
// StdioEventloop worker whose process is currently running. The second
// return value is false for Stdio (no process persists between calls) and
// Component (no subprocess at all) workers, which have nothing to probe
// here.
func (r *Runtime) Liveness() (health.Checker, bool) {
	reporter, ok := r.program.(pidReporter)
	if !ok {
		return nil, false
	}
	pid, running := reporter.Pid()
	if !running {
		return nil, false
	}
	return health.NewProcessChecker(pid), true
}

// Reactivate implements pkg/promise.Reactivator: it re-enters the
// processing loop for a worker that was Suspended, Interrupted, Running,
// or Retrying when an awaited promise completed. If the worker was
// Suspended on await_promise, the original invocationEntry (and its
// still-open resultSink) is redriven from its recorded invocation
// boundary, so the caller blocked in InvokeAndAwait eventually receives
// the function's real final value rather than a synthetic response.
func (r *Runtime) Reactivate(workerId types.WorkerId) error {
	if workerId != r.workerId {
		return nil
	}
	if err := promise.ValidateReactivationTarget(r.Status()); err != nil {
		return nil
	}
	metrics.WorkerResumedTotal.Inc()

	r.mu.Lock()
	entry := r.suspended
	r.suspended = nil
	r.mu.Unlock()

	if entry == nil {
		r.setStatus(types.WorkerStatusIdle)
		return nil
	}

	r.setStatus(types.WorkerStatusRunning)
	entry.redrive = true
	return r.enqueue(entry)
}

// run is the single-writer loop: it processes queued invocations strictly
// FIFO, one at a time, so the worker's effective execution is always
// single-threaded regardless of how many callers enqueue concurrently.
func (r *Runtime) run() {
	for {
		select {
		case entry := <-r.queue:
			r.process(entry)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runtime) process(entry *invocationEntry) {
	r.setStatus(types.WorkerStatusRunning)

	if entry.redrive {
		r.rewindForRedrive(entry)
	} else if !entry.cursorCaptured {
		r.recordInvocationStart(entry)
	}
	entry.redrive = false

	values, err := r.invokeWithConvention(entry)

	switch {
	case err == nil:
		r.recordInvocationEnd(entry)
		r.onInvocationSucceeded(entry, values)

	case errors.Is(err, ErrSuspend):
		metrics.WorkerSuspendedTotal.Inc()
		r.mu.Lock()
		r.suspended = entry
		r.mu.Unlock()
		r.setStatus(types.WorkerStatusSuspended)
		r.signalInterruptionComplete()

	case isExitSignal(err):
		r.recordInvocationEnd(entry)
		r.setStatus(types.WorkerStatusExited)
		r.signalInterruptionComplete()
		r.respond(entry, nil, nil)

	case isInterruptError(err):
		kind := interruptErrorKind(err)
		r.recordInvocationEnd(entry)
		r.signalInterruptionComplete()
		switch kind {
		case types.InterruptRestart:
			r.setStatus(types.WorkerStatusIdle)
		default:
			r.setStatus(types.WorkerStatusInterrupted)
		}
		r.respond(entry, nil, engineerr.Interrupted(kind))

	case errors.As(err, new(*durability.DivergenceError)):
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		r.recordInvocationEnd(entry)
		r.setStatus(types.WorkerStatusFailed)
		r.respond(entry, nil, engineerr.RuntimeError(err))

	default:
		r.onInvocationFailed(entry, err)
	}
}

func (r *Runtime) onInvocationSucceeded(entry *invocationEntry, values []types.Value) {
	r.mu.Lock()
	r.retryCount = 0
	r.lastError = ""
	r.mu.Unlock()

	if len(r.queue) == 0 {
		r.setStatus(types.WorkerStatusIdle)
	}
	r.respond(entry, values, nil)
}

func (r *Runtime) onInvocationFailed(entry *invocationEntry, cause error) {
	r.mu.Lock()
	r.retryCount++
	retryCount := r.retryCount
	r.lastError = cause.Error()
	r.mu.Unlock()

	if retryCount > r.config.RetryMaxAttempts {
		r.recordInvocationEnd(entry)
		r.setStatus(types.WorkerStatusFailed)
		r.respond(entry, nil, engineerr.RuntimeError(cause))
		return
	}

	r.setStatus(types.WorkerStatusRetrying)
	backoff := retryBackoff(r.config, retryCount)
	go func() {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
			r.setStatus(types.WorkerStatusRunning)
			_ = r.enqueue(entry)
		case <-r.stopCh:
		}
	}()
}

func retryBackoff(cfg Config, attempt int) time.Duration {
	backoff := cfg.RetryBackoffInitial
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * cfg.RetryBackoffMultiplier)
		if backoff > cfg.RetryBackoffMax {
			return cfg.RetryBackoffMax
		}
	}
	return backoff
}

func (r *Runtime) respond(entry *invocationEntry, values []types.Value, err error) {
	if entry.resultSink != nil {
		entry.resultSink <- InvocationResult{Values: values, Err: err}
	}
}

func isExitSignal(err error) bool {
	var exit *hostfns.ExitSignal
	return errors.As(err, &exit)
}

func isInterruptError(err error) bool {
	var interrupt *durability.InterruptError
	return errors.As(err, &interrupt)
}

func interruptErrorKind(err error) types.InterruptKind {
	var interrupt *durability.InterruptError
	if errors.As(err, &interrupt) {
		return interrupt.Kind
	}
	return types.InterruptPause
}
