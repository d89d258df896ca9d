package engine

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/hostfns"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/template"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/cuemby/wexec/pkg/workerruntime"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, functions map[string]workerruntime.ComponentFunc) (*Engine, types.WorkerId) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	shards := shard.NewService("node-1", 4)
	register, err := shard.RegisterCommand("node-1")
	require.NoError(t, err)
	shards.Apply(&raft.Log{Data: register})
	for i := types.ShardId(0); i < 4; i++ {
		assign, err := shard.AssignCommand("node-1", i)
		require.NoError(t, err)
		shards.Apply(&raft.Log{Data: assign})
	}

	templateId := types.TemplateId(uuid.New())
	templates := template.NewRegistry()
	templates.Register(template.Template{
		Id:         templateId,
		Convention: types.CallingConventionComponent,
		Functions:  functions,
	})

	cfg := DefaultConfig()
	cfg.FSRoot = t.TempDir()
	eng := New("node-1", store, shards, templates, cfg)

	return eng, types.WorkerId{TemplateId: templateId, WorkerName: "w1"}
}

func TestCreateWorkerIsIdempotent(t *testing.T) {
	eng, workerId := newTestEngine(t, nil)

	require.NoError(t, eng.CreateWorker(workerId, 1, []string{"a"}, nil, "acct-1"))
	require.NoError(t, eng.CreateWorker(workerId, 1, []string{"different"}, nil, "acct-1"))

	meta, err := eng.GetWorkerMetadata(workerId)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, meta.Args, "second create_worker must not overwrite the first")
}

func TestInvokeAndAwaitRoundTrip(t *testing.T) {
	add := map[string]workerruntime.ComponentFunc{
		"add": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return []types.Value{{Kind: types.ValueKindI32, I32: args[0].I32 + args[1].I32}}, nil
		},
	}
	eng, workerId := newTestEngine(t, add)
	require.NoError(t, eng.CreateWorker(workerId, 1, nil, nil, "acct-1"))

	key, err := eng.GetInvocationKey(workerId)
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	values, err := eng.InvokeAndAwaitWorker(ctx, workerId, key, "add", []types.Value{
		{Kind: types.ValueKindI32, I32: 2}, {Kind: types.ValueKindI32, I32: 3},
	}, types.CallingConventionComponent)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, int32(5), values[0].I32)
}

func TestOperationOnUnownedShardReturnsInvalidShardId(t *testing.T) {
	eng, workerId := newTestEngine(t, nil)

	revoke, err := shard.RevokeCommand("node-1", shard.ShardOf(workerId.WorkerName, eng.shards.TotalShards()))
	require.NoError(t, err)
	eng.shards.Apply(&raft.Log{Data: revoke})

	err = eng.CreateWorker(workerId, 1, nil, nil, "acct-1")
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindInvalidShardId, ee.Kind)
}

func TestDeleteWorkerRemovesMetadata(t *testing.T) {
	eng, workerId := newTestEngine(t, nil)
	require.NoError(t, eng.CreateWorker(workerId, 1, nil, nil, "acct-1"))

	require.NoError(t, eng.DeleteWorker(workerId))

	_, err := eng.GetWorkerMetadata(workerId)
	require.Error(t, err)
}

func TestResumeOnRunningWorkerIsInvalidRequest(t *testing.T) {
	eng, workerId := newTestEngine(t, nil)
	require.NoError(t, eng.CreateWorker(workerId, 1, nil, nil, "acct-1"))

	err := eng.ResumeWorker(workerId)
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindInvalidRequest, ee.Kind)
}

func TestCompletePromiseReactivatesSuspendedWorker(t *testing.T) {
	var promiseId types.PromiseId
	suspend := map[string]workerruntime.ComponentFunc{
		"wait": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			id, err := host.PromiseCreate()
			if err != nil {
				return nil, err
			}
			promiseId = id
			outcome, err := host.PromiseAwait(id)
			if err != nil {
				return nil, err
			}
			if outcome.Suspended {
				return nil, workerruntime.ErrSuspend
			}
			return []types.Value{{Kind: types.ValueKindBytes, Bytes: outcome.Value}}, nil
		},
	}
	eng, workerId := newTestEngine(t, suspend)
	require.NoError(t, eng.CreateWorker(workerId, 1, nil, nil, "acct-1"))

	type callResult struct {
		values []types.Value
		err    error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		values, err := eng.InvokeAndAwaitWorker(ctx, workerId, "key-1", "wait", nil, types.CallingConventionComponent)
		resultCh <- callResult{values: values, err: err}
	}()

	assert.Eventually(t, func() bool {
		meta, err := eng.GetWorkerMetadata(workerId)
		return err == nil && meta.Status == types.WorkerStatusSuspended
	}, time.Second, 10*time.Millisecond, "worker must suspend on the pending promise without answering the caller")

	select {
	case res := <-resultCh:
		t.Fatalf("invoke_and_await returned before the promise completed: values=%v err=%v", res.values, res.err)
	default:
	}

	completed, err := eng.CompletePromise(promiseId, []byte("done"))
	require.NoError(t, err)
	assert.True(t, completed)

	second, err := eng.CompletePromise(promiseId, []byte("again"))
	require.NoError(t, err)
	assert.False(t, second, "a promise completes at most once")

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Len(t, res.values, 1)
		assert.Equal(t, []byte("done"), res.values[0].Bytes, "the original caller must receive the real awaited value")
	case <-time.After(2 * time.Second):
		t.Fatal("invoke_and_await never resumed after the promise completed")
	}

	meta, err := eng.GetWorkerMetadata(workerId)
	require.NoError(t, err)
	assert.NotEqual(t, types.WorkerStatusSuspended, meta.Status)
}

func TestConnectWorkerRefusesInterruptedWorker(t *testing.T) {
	eng, workerId := newTestEngine(t, nil)
	require.NoError(t, eng.CreateWorker(workerId, 1, nil, nil, "acct-1"))

	meta, err := eng.store.GetWorker(workerId)
	require.NoError(t, err)
	meta.Status = types.WorkerStatusInterrupted
	require.NoError(t, eng.store.UpdateWorker(*meta))

	_, _, err = eng.ConnectWorker(workerId)
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindInterrupted, ee.Kind)
}
