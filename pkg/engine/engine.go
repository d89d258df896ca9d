// Package engine wires the Shard Service, Active Worker Cache, Worker
// Runtime, Promise Service and durable stores into the operations the RPC
// surface exposes: create, invoke, invoke-and-await, connect, delete,
// complete-promise, interrupt, resume, and metadata lookup. It is the one
// place that knows how those pieces compose; pkg/api only translates
// wire requests into calls here.
package engine

import (
	"context"
	"time"

	"github.com/cuemby/wexec/pkg/activeworker"
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/events"
	"github.com/cuemby/wexec/pkg/promise"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/template"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/cuemby/wexec/pkg/workerruntime"
	"github.com/google/uuid"
)

// interruptWait bounds how long interrupt_worker blocks for the runtime to
// reach a cooperative pause point before returning anyway; the interrupt
// has still been set and will take effect at the worker's next host call.
const interruptWait = 5 * time.Second

// Config is the engine's own policy surface, layered over the Worker
// Runtime's retry/backoff Config.
type Config struct {
	Runtime            workerruntime.Config
	FSRoot             string
	CacheCapacity      int
	ConnectAlsoResumes bool
}

// DefaultConfig mirrors workerruntime.DefaultConfig with a modest cache and
// connect_worker never auto-resuming (see spec's Open Question).
func DefaultConfig() Config {
	return Config{
		Runtime:       workerruntime.DefaultConfig(),
		FSRoot:        ".",
		CacheCapacity: 1024,
	}
}

// Engine is the node-local worker execution engine.
type Engine struct {
	nodeId    string
	store     storage.Store
	shards    *shard.Service
	templates *template.Registry
	cache     *activeworker.Cache
	promises  *promise.Service
	events    *events.Registry
	config    Config
}

// New creates an Engine bound to this node's shard ownership view and
// backing stores.
func New(nodeId string, store storage.Store, shards *shard.Service, templates *template.Registry, config Config) *Engine {
	cache := activeworker.New(config.CacheCapacity)
	e := &Engine{
		nodeId:    nodeId,
		store:     store,
		shards:    shards,
		templates: templates,
		cache:     cache,
		events:    events.NewRegistry(),
		config:    config,
	}
	e.promises = promise.NewService(store, &cacheReactivator{cache: cache})
	return e
}

// Cache exposes the Active Worker Cache for read-only observers, notably
// pkg/metrics' Collector (via its ActiveWorkerView interface).
func (e *Engine) Cache() *activeworker.Cache {
	return e.cache
}

// cacheReactivator adapts the Active Worker Cache into pkg/promise's
// Reactivator: if the worker isn't resident, reactivation is skipped —
// its next invocation observes the completed promise on its own poll.
type cacheReactivator struct {
	cache *activeworker.Cache
}

func (r *cacheReactivator) Reactivate(workerId types.WorkerId) error {
	rt, ok := r.cache.Peek(workerId)
	if !ok {
		return nil
	}
	wrt, ok := rt.(*workerruntime.Runtime)
	if !ok {
		return nil
	}
	return wrt.Reactivate(workerId)
}

// checkOwnership implements the Shard Service predicate every routable
// operation except InterruptWorker consults before touching worker state.
func (e *Engine) checkOwnership(workerId types.WorkerId) error {
	shardId := shard.ShardOf(workerId.WorkerName, e.shards.TotalShards())
	owner, assigned := e.shards.Check(shardId)
	if !assigned || owner != e.nodeId {
		return engineerr.InvalidShardId(shardId, e.shards.OwnedShards())
	}
	return nil
}

// CreateWorker durably records a new worker's metadata. Idempotent: a
// second create_worker for the same id is a no-op, matching a caller that
// retries after a transport error without knowing whether the first
// attempt landed.
func (e *Engine) CreateWorker(workerId types.WorkerId, templateVersion int32, args []string, env map[string]string, accountId string) error {
	if err := e.checkOwnership(workerId); err != nil {
		return err
	}
	if existing, err := e.store.GetWorker(workerId); err == nil && existing != nil {
		return nil
	}
	now := time.Now()
	meta := types.WorkerMetadata{
		WorkerId:        workerId,
		TemplateVersion: templateVersion,
		AccountId:       accountId,
		Args:            args,
		Env:             env,
		Status:          types.WorkerStatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateWorker(meta); err != nil {
		return engineerr.RuntimeError(err)
	}
	return nil
}

// GetInvocationKey issues a fresh opaque token for worker_id, required by
// invoke_and_await_worker but not invoke_worker.
func (e *Engine) GetInvocationKey(workerId types.WorkerId) (types.InvocationKey, error) {
	if err := e.checkOwnership(workerId); err != nil {
		return "", err
	}
	if _, err := e.store.GetWorker(workerId); err != nil {
		return "", engineerr.WorkerNotFound(workerId)
	}
	return types.InvocationKey(uuid.NewString()), nil
}

// ensureRuntime returns the resident Worker Runtime for workerId,
// instantiating it from its template and oplog if it isn't already
// resident in the Active Worker Cache.
func (e *Engine) ensureRuntime(workerId types.WorkerId) (*workerruntime.Runtime, error) {
	meta, err := e.store.GetWorker(workerId)
	if err != nil {
		return nil, engineerr.WorkerNotFound(workerId)
	}

	tmpl, err := e.templates.Get(workerId.TemplateId)
	if err != nil {
		return nil, engineerr.InvalidRequest("%v", err)
	}
	stream := e.events.StreamFor(workerId)

	runtime := e.cache.GetOrCreatePending(workerId, func(h *activeworker.Handle) {
		program, perr := tmpl.NewProgram(stream)
		if perr != nil {
			h.Resolve(nil, perr)
			return
		}
		rt, rerr := workerruntime.New(workerId, meta.AccountId, e.store, program, e.promises, stream, e.config.Runtime, e.config.FSRoot)
		if rerr != nil {
			h.Resolve(nil, rerr)
			return
		}
		h.Resolve(rt, nil)
	})

	if createErr := e.cache.Err(workerId); createErr != nil {
		e.cache.Remove(workerId)
		return nil, engineerr.RuntimeError(createErr)
	}
	wrt, ok := runtime.(*workerruntime.Runtime)
	if !ok {
		return nil, engineerr.Unknown(errNotAWorkerRuntime)
	}
	return wrt, nil
}

var errNotAWorkerRuntime = engineerr.InvalidRequest("cache entry is not a workerruntime.Runtime")

// InvokeWorker enqueues a fire-and-forget invocation.
func (e *Engine) InvokeWorker(workerId types.WorkerId, functionName string, args []types.Value, convention types.CallingConvention) error {
	if err := e.checkOwnership(workerId); err != nil {
		return err
	}
	rt, err := e.ensureRuntime(workerId)
	if err != nil {
		return err
	}
	return rt.Invoke(functionName, args, convention)
}

// InvokeAndAwaitWorker enqueues an invocation under invocationKey and
// blocks for its result.
func (e *Engine) InvokeAndAwaitWorker(ctx context.Context, workerId types.WorkerId, invocationKey types.InvocationKey, functionName string, args []types.Value, convention types.CallingConvention) ([]types.Value, error) {
	if err := e.checkOwnership(workerId); err != nil {
		return nil, err
	}
	rt, err := e.ensureRuntime(workerId)
	if err != nil {
		return nil, err
	}
	return rt.InvokeAndAwait(ctx, invocationKey, functionName, args, convention)
}

// ConnectWorker attaches a log-event stream for workerId. It refuses a
// worker that is Interrupted unless the engine is configured to resume on
// connect (spec's documented-as-configurable Open Question).
func (e *Engine) ConnectWorker(workerId types.WorkerId) (events.Subscriber, func(), error) {
	if err := e.checkOwnership(workerId); err != nil {
		return nil, nil, err
	}
	meta, err := e.store.GetWorker(workerId)
	if err != nil {
		return nil, nil, engineerr.WorkerNotFound(workerId)
	}
	if meta.Status == types.WorkerStatusInterrupted {
		if !e.config.ConnectAlsoResumes {
			return nil, nil, engineerr.Interrupted(types.InterruptPause)
		}
		if err := e.ResumeWorker(workerId); err != nil {
			return nil, nil, err
		}
	}

	stream := e.events.StreamFor(workerId)
	sub := stream.Subscribe()
	unsubscribe := func() { stream.Unsubscribe(sub) }
	return sub, unsubscribe, nil
}

// DeleteWorker quiesces any resident runtime and removes the worker's
// metadata. The oplog itself is left for an offline compaction tool.
func (e *Engine) DeleteWorker(workerId types.WorkerId) error {
	if err := e.checkOwnership(workerId); err != nil {
		return err
	}
	if rt, ok := e.cache.Peek(workerId); ok {
		if wrt, ok := rt.(*workerruntime.Runtime); ok {
			wrt.Stop()
		}
	}
	e.cache.Remove(workerId)
	e.events.Drop(workerId)
	if err := e.store.DeleteWorker(workerId); err != nil {
		return engineerr.RuntimeError(err)
	}
	return nil
}

// CompletePromise performs the compare-and-swap completion of promiseId
// and reactivates its awaiter, if resident.
func (e *Engine) CompletePromise(promiseId types.PromiseId, value []byte) (bool, error) {
	if err := e.checkOwnership(promiseId.WorkerId); err != nil {
		return false, err
	}
	completed, err := e.promises.Complete(promiseId, value)
	if err != nil {
		return completed, engineerr.RuntimeError(err)
	}
	return completed, nil
}

// InterruptWorker requests a cooperative pause, picking Restart or plain
// Interrupt by the recoverImmediately flag; the LivenessMonitor asks for
// Restart. Shard revocation does not call it, so revoking a shard does not
// interrupt workers already resident on this node. It is a no-op success
// if the worker isn't currently resident — there is nothing running to
// interrupt.
func (e *Engine) InterruptWorker(workerId types.WorkerId, recoverImmediately bool) error {
	if _, err := e.store.GetWorker(workerId); err != nil {
		return engineerr.WorkerNotFound(workerId)
	}
	rt, ok := e.cache.Peek(workerId)
	if !ok {
		return nil
	}
	wrt, ok := rt.(*workerruntime.Runtime)
	if !ok {
		return nil
	}

	kind := types.InterruptPause
	if recoverImmediately {
		kind = types.InterruptRestart
	}
	done := wrt.SetInterrupting(kind)
	select {
	case <-done:
	case <-time.After(interruptWait):
	}
	return nil
}

// ResumeWorker reactivates a Suspended or Interrupted worker, per spec
// rejecting any other status with InvalidRequest.
func (e *Engine) ResumeWorker(workerId types.WorkerId) error {
	if err := e.checkOwnership(workerId); err != nil {
		return err
	}
	meta, err := e.store.GetWorker(workerId)
	if err != nil {
		return engineerr.WorkerNotFound(workerId)
	}
	if meta.Status != types.WorkerStatusSuspended && meta.Status != types.WorkerStatusInterrupted {
		return engineerr.InvalidRequest("worker %s is not suspended or interrupted", workerId)
	}

	rt, ok := e.cache.Peek(workerId)
	if !ok {
		rt, err = e.ensureRuntime(workerId)
		if err != nil {
			return err
		}
	}
	wrt, ok := rt.(*workerruntime.Runtime)
	if !ok {
		return engineerr.Unknown(errNotAWorkerRuntime)
	}
	return wrt.Reactivate(workerId)
}

// GetWorkerMetadata returns the durable record for workerId.
func (e *Engine) GetWorkerMetadata(workerId types.WorkerId) (types.WorkerMetadata, error) {
	if err := e.checkOwnership(workerId); err != nil {
		return types.WorkerMetadata{}, err
	}
	meta, err := e.store.GetWorker(workerId)
	if err != nil {
		return types.WorkerMetadata{}, engineerr.WorkerNotFound(workerId)
	}
	return *meta, nil
}
