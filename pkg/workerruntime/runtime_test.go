package workerruntime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/hostfns"
	"github.com/cuemby/wexec/pkg/promise"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, program Program, config Config) (*Runtime, types.WorkerId, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	workerId := types.WorkerId{TemplateId: types.TemplateId(uuid.New()), WorkerName: "w1"}
	require.NoError(t, store.CreateWorker(types.WorkerMetadata{
		WorkerId:  workerId,
		AccountId: "acct-1",
		Status:    types.WorkerStatusIdle,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))

	promiseSvc := promise.NewService(store, nil)
	rt, err := New(workerId, "acct-1", store, program, promiseSvc, nil, config, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(rt.Stop)
	return rt, workerId, store
}

func TestInvokeAndAwaitPureFunction(t *testing.T) {
	add := NewComponentProgram(map[string]ComponentFunc{
		"add": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return []types.Value{{Kind: types.ValueKindI32, I32: args[0].I32 + args[1].I32}}, nil
		},
	})
	rt, _, store := newTestRuntime(t, add, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values, err := rt.InvokeAndAwait(ctx, "key-1", "add", []types.Value{
		{Kind: types.ValueKindI32, I32: 2}, {Kind: types.ValueKindI32, I32: 3},
	}, types.CallingConventionComponent)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, int32(5), values[0].I32)

	length, err := store.Length(rt.workerId)
	require.NoError(t, err)
	assert.Equal(t, int64(0), length, "a pure function makes no host calls")

	assert.Eventually(t, func() bool { return rt.Status() == types.WorkerStatusIdle }, time.Second, 10*time.Millisecond)
}

func TestInvokeAndAwaitCallingConventionVariants(t *testing.T) {
	echo := NewComponentProgram(map[string]ComponentFunc{
		"echo": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return args, nil
		},
	})
	rt, _, _ := newTestRuntime(t, echo, DefaultConfig())
	ctx := context.Background()

	for _, convention := range []types.CallingConvention{types.CallingConventionComponent, types.CallingConventionStdio, types.CallingConventionStdioEventloop} {
		values, err := rt.InvokeAndAwait(ctx, "k", "echo", []types.Value{{Kind: types.ValueKindI32, I32: 7}}, convention)
		require.NoError(t, err)
		assert.Equal(t, int32(7), values[0].I32)
	}
}

func TestUnknownFunctionFailsAsRuntimeError(t *testing.T) {
	program := NewComponentProgram(map[string]ComponentFunc{})
	cfg := Config{RetryBackoffInitial: time.Millisecond, RetryBackoffMax: time.Millisecond, RetryBackoffMultiplier: 1, RetryMaxAttempts: 0}
	rt, _, _ := newTestRuntime(t, program, cfg)

	_, err := rt.InvokeAndAwait(context.Background(), "k", "missing", nil, types.CallingConventionComponent)
	require.Error(t, err)
	engineErr, ok := engineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindRuntimeError, engineErr.Kind)
}

func TestCliExitTransitionsToExited(t *testing.T) {
	program := NewComponentProgram(map[string]ComponentFunc{
		"quit": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return nil, host.CliExit(0)
		},
	})
	rt, _, _ := newTestRuntime(t, program, DefaultConfig())

	_, err := rt.InvokeAndAwait(context.Background(), "k", "quit", nil, types.CallingConventionComponent)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusExited, rt.Status())
}

func TestSuspendTransitionsToSuspended(t *testing.T) {
	program := NewComponentProgram(map[string]ComponentFunc{
		"wait": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return nil, ErrSuspend
		},
	})
	rt, _, _ := newTestRuntime(t, program, DefaultConfig())

	// A suspended invocation is not answered until its promise completes,
	// so the caller's own deadline is what ends the wait here.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := rt.InvokeAndAwait(ctx, "k", "wait", nil, types.CallingConventionComponent)
	require.Error(t, err)
	_, isEngineErr := engineerr.As(err)
	require.False(t, isEngineErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.WorkerStatusSuspended, rt.Status())
}

func TestRetriesExhaustedTransitionsToFailedAndRejectsFurtherInvocations(t *testing.T) {
	boom := errors.New("boom")
	program := NewComponentProgram(map[string]ComponentFunc{
		"fail": func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error) {
			return nil, boom
		},
	})
	cfg := Config{RetryBackoffInitial: time.Millisecond, RetryBackoffMax: time.Millisecond, RetryBackoffMultiplier: 1, RetryMaxAttempts: 0}
	rt, _, _ := newTestRuntime(t, program, cfg)

	_, err := rt.InvokeAndAwait(context.Background(), "k", "fail", nil, types.CallingConventionComponent)
	require.Error(t, err)
	assert.Equal(t, types.WorkerStatusFailed, rt.Status())

	_, err = rt.InvokeAndAwait(context.Background(), "k2", "fail", nil, types.CallingConventionComponent)
	require.Error(t, err)
	engineErr, ok := engineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindPreviousInvocationFailed, engineErr.Kind)
}
