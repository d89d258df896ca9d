// Package activeworker implements the Active Worker Cache: the bounded,
// concurrent mapping from a worker id to its in-memory runtime, with
// get-or-insert instantiation sharing and LRU eviction.
package activeworker

import (
	"container/list"
	"sync"

	"github.com/cuemby/wexec/pkg/types"
)

// lifecycle distinguishes an entry still being instantiated from one that
// has resolved to a usable runtime.
type lifecycle int

const (
	lifecyclePending lifecycle = iota
	lifecycleFinal
)

// Runtime is the subset of the Worker Runtime the cache needs to decide
// whether eviction is safe. pkg/workerruntime's Runtime satisfies this.
type Runtime interface {
	Status() types.WorkerStatus
}

type entry struct {
	workerId  types.WorkerId
	state     lifecycle
	ready     chan struct{} // closed when state transitions to Final
	runtime   Runtime
	createErr error
	elem      *list.Element // position in the LRU list
}

// Cache is the bounded, concurrent active worker cache. Capacity has a
// floor of 1: eviction never drops the last remaining entry below that
// floor, and never evicts an entry whose runtime reports WorkerStatusRunning.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[types.WorkerId]*entry
	lru      *list.List // front = most recently used
}

// New creates a Cache with the given capacity, clamped to a floor of 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[types.WorkerId]*entry),
		lru:      list.New(),
	}
}

// GetOrCreatePending returns the existing entry for id if present (Pending
// or Final), touching its LRU position. If absent, it inserts a new Pending
// entry and calls create synchronously on the calling goroutine; create
// must call Resolve on the returned handle exactly once, and the call
// returns only after that. Concurrent callers racing to create the same id
// share the same instantiation.
func (c *Cache) GetOrCreatePending(id types.WorkerId, create func(h *Handle)) Runtime {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		c.lru.MoveToFront(e.elem)
		c.mu.Unlock()
		<-e.ready
		return e.runtime
	}

	e := &entry{workerId: id, state: lifecyclePending, ready: make(chan struct{})}
	e.elem = c.lru.PushFront(e)
	c.entries[id] = e
	c.mu.Unlock()

	c.evictIfOverCapacity()

	create(&Handle{cache: c, entry: e})
	<-e.ready
	return e.runtime
}

// Handle is passed to the create callback so it can resolve the pending
// entry exactly once.
type Handle struct {
	cache *Cache
	entry *entry
}

// Resolve transitions the pending entry to Final, waking any callers
// blocked on the shared instantiation future.
func (h *Handle) Resolve(runtime Runtime, err error) {
	h.cache.mu.Lock()
	h.entry.state = lifecycleFinal
	h.entry.runtime = runtime
	h.entry.createErr = err
	h.cache.mu.Unlock()
	close(h.entry.ready)
}

// evictIfOverCapacity evicts least-recently-used Final entries that are not
// Running, stopping as soon as capacity is met or no evictable entry
// remains (the capacity floor of 1 and the "never evict Running" rule mean
// eviction can legitimately fail to bring the cache back under capacity).
func (c *Cache) evictIfOverCapacity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lru.Len() > c.capacity {
		victim := c.findEvictableLocked()
		if victim == nil {
			return
		}
		c.lru.Remove(victim.elem)
		delete(c.entries, victim.workerId)
	}
}

func (c *Cache) findEvictableLocked() *entry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.state != lifecycleFinal {
			continue
		}
		if e.runtime != nil && e.runtime.Status() == types.WorkerStatusRunning {
			continue
		}
		return e
	}
	return nil
}

// EnumWorkers returns a snapshot of every worker id currently resident.
func (c *Cache) EnumWorkers() []types.WorkerId {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]types.WorkerId, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Remove evicts id unconditionally; it is idempotent and races safely with
// background eviction.
func (c *Cache) Remove(id types.WorkerId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.entries, id)
}

// Peek returns the resident runtime for id without creating one. ok is
// false if id is absent or its instantiation is still pending, so callers
// (promise reactivation, interrupt/resume RPCs) can treat "not resident"
// as "nothing to do here" rather than paying for an instantiation.
func (c *Cache) Peek(id types.WorkerId) (Runtime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.state != lifecycleFinal || e.runtime == nil {
		return nil, false
	}
	return e.runtime, true
}

// Err returns the error from id's most recent create call, or nil if it
// instantiated successfully or isn't resident.
func (c *Cache) Err(id types.WorkerId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	return e.createErr
}

// CountByStatus implements metrics.ActiveWorkerView.
func (c *Cache) CountByStatus() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range c.entries {
		if e.state != lifecycleFinal || e.runtime == nil {
			counts["pending"]++
			continue
		}
		counts[string(e.runtime.Status())]++
	}
	return counts
}

// Len returns the number of resident entries, pending or final.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
