package storage

import (
	"testing"
	"time"

	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testWorkerId() types.WorkerId {
	return types.WorkerId{TemplateId: types.TemplateId(uuid.New()), WorkerName: "worker-1"}
}

func TestOplogAppendAssignsSequentialIndices(t *testing.T) {
	store := newTestStore(t)
	workerId := testWorkerId()

	for i := 0; i < 3; i++ {
		entry, err := store.Append(workerId, types.OplogEntry{
			Kind:                types.OplogKindHostCall,
			WrappedFunctionKind: types.ReadLocal,
			FunctionName:        "clock::now",
			RecordedAt:          time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), entry.Index)
	}

	length, err := store.Length(workerId)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)
}

func TestOplogReadRange(t *testing.T) {
	store := newTestStore(t)
	workerId := testWorkerId()

	for i := 0; i < 5; i++ {
		_, err := store.Append(workerId, types.OplogEntry{
			Kind:         types.OplogKindHostCall,
			FunctionName: "fn",
		})
		require.NoError(t, err)
	}

	entries, err := store.Read(workerId, 2, 4)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].Index)
	assert.Equal(t, int64(4), entries[2].Index)
}

func TestOplogTruncateHead(t *testing.T) {
	store := newTestStore(t)
	workerId := testWorkerId()

	for i := 0; i < 5; i++ {
		_, err := store.Append(workerId, types.OplogEntry{FunctionName: "fn"})
		require.NoError(t, err)
	}

	require.NoError(t, store.TruncateHead(workerId, 3))

	entries, err := store.Read(workerId, 1, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Index)
	assert.Equal(t, int64(5), entries[1].Index)
}

func TestWorkerMetadataCRUD(t *testing.T) {
	store := newTestStore(t)
	workerId := testWorkerId()

	meta := types.WorkerMetadata{
		WorkerId:  workerId,
		AccountId: "acct-1",
		Status:    types.WorkerStatusRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateWorker(meta))

	got, err := store.GetWorker(workerId)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusRunning, got.Status)

	meta.Status = types.WorkerStatusSuspended
	require.NoError(t, store.UpdateWorker(meta))

	got, err = store.GetWorker(workerId)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusSuspended, got.Status)

	workers, err := store.ListWorkers()
	require.NoError(t, err)
	assert.Len(t, workers, 1)

	require.NoError(t, store.DeleteWorker(workerId))
	_, err = store.GetWorker(workerId)
	assert.Error(t, err)
}

func TestKVNamespacedByAccountAndWorker(t *testing.T) {
	store := newTestStore(t)
	workerId := testWorkerId()

	require.NoError(t, store.Set("acct-1", workerId, "k", []byte("v1")))
	require.NoError(t, store.Set("acct-2", workerId, "k", []byte("v2")))

	v1, found, err := store.Get("acct-1", workerId, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), v1)

	v2, found, err := store.Get("acct-2", workerId, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), v2)

	require.NoError(t, store.Delete("acct-1", workerId, "k"))
	exists, err := store.Exists("acct-1", workerId, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists("acct-2", workerId, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPromiseCompleteIsCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	id := types.PromiseId{WorkerId: testWorkerId(), OplogIndex: 1}

	require.NoError(t, store.Create(id))

	done, _, err := store.Poll(id)
	require.NoError(t, err)
	assert.False(t, done)

	completed, err := store.Complete(id, []byte("result"))
	require.NoError(t, err)
	assert.True(t, completed)

	// A second completion must be a no-op, not an overwrite.
	completed, err = store.Complete(id, []byte("other"))
	require.NoError(t, err)
	assert.False(t, completed)

	done, value, err := store.Poll(id)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("result"), value)
}

func TestCARoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCA()
	assert.Error(t, err)

	require.NoError(t, store.SaveCA([]byte("ca-pem")))
	data, err := store.GetCA()
	require.NoError(t, err)
	assert.Equal(t, []byte("ca-pem"), data)
}
