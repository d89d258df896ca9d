package activeworker

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	status types.WorkerStatus
}

func (f *fakeRuntime) Status() types.WorkerStatus { return f.status }

func testWorkerId(name string) types.WorkerId {
	return types.WorkerId{TemplateId: types.TemplateId(uuid.New()), WorkerName: name}
}

func TestGetOrCreatePendingSharesInstantiation(t *testing.T) {
	cache := New(10)
	id := testWorkerId("w1")

	var createCalls int32
	var wg sync.WaitGroup
	results := make([]Runtime, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = cache.GetOrCreatePending(id, func(h *Handle) {
				if atomic.AddInt32(&createCalls, 1) == 1 {
					h.Resolve(&fakeRuntime{status: types.WorkerStatusIdle}, nil)
				}
			})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, types.WorkerStatusIdle, r.Status())
	}
}

func TestEnumWorkersAndRemove(t *testing.T) {
	cache := New(10)
	id1, id2 := testWorkerId("w1"), testWorkerId("w2")

	resolveImmediately(cache, id1)
	resolveImmediately(cache, id2)

	ids := cache.EnumWorkers()
	assert.Len(t, ids, 2)

	cache.Remove(id1)
	ids = cache.EnumWorkers()
	assert.Len(t, ids, 1)
	assert.Equal(t, id2, ids[0])

	// idempotent
	cache.Remove(id1)
	assert.Len(t, cache.EnumWorkers(), 1)
}

func TestEvictionNeverDropsRunningWorker(t *testing.T) {
	cache := New(1)
	running := testWorkerId("running")
	idle := testWorkerId("idle")

	cache.GetOrCreatePending(running, func(h *Handle) {
		h.Resolve(&fakeRuntime{status: types.WorkerStatusRunning}, nil)
	})
	cache.GetOrCreatePending(idle, func(h *Handle) {
		h.Resolve(&fakeRuntime{status: types.WorkerStatusIdle}, nil)
	})

	// Capacity is 1, but the running worker must never be evicted, so both
	// entries are still present even though capacity was exceeded.
	ids := cache.EnumWorkers()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, running)
}

func TestEvictionDropsIdleWorkerOverCapacity(t *testing.T) {
	cache := New(1)
	first := testWorkerId("first")
	second := testWorkerId("second")

	resolveImmediately(cache, first)
	resolveImmediately(cache, second)

	ids := cache.EnumWorkers()
	assert.Len(t, ids, 1)
	assert.Equal(t, second, ids[0])
}

func resolveImmediately(cache *Cache, id types.WorkerId) Runtime {
	return cache.GetOrCreatePending(id, func(h *Handle) {
		h.Resolve(&fakeRuntime{status: types.WorkerStatusIdle}, nil)
	})
}

func TestPeekReturnsResidentRuntimeOnly(t *testing.T) {
	cache := New(10)
	id := testWorkerId("w1")

	_, ok := cache.Peek(id)
	assert.False(t, ok)

	resolveImmediately(cache, id)
	rt, ok := cache.Peek(id)
	require.True(t, ok)
	assert.Equal(t, types.WorkerStatusIdle, rt.Status())
}

func TestErrReportsCreateFailure(t *testing.T) {
	cache := New(10)
	id := testWorkerId("w1")
	boom := assert.AnError

	cache.GetOrCreatePending(id, func(h *Handle) {
		h.Resolve(nil, boom)
	})

	assert.Equal(t, boom, cache.Err(id))
	_, ok := cache.Peek(id)
	assert.False(t, ok)
}
