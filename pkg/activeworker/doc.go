/*
Package activeworker implements the Active Worker Cache: the bounded,
concurrent map from WorkerId to an in-memory Worker Runtime.

# Pending-or-Final Lifecycle

GetOrCreatePending performs a get-or-insert: if an entry already exists
(Pending or Final) it is returned directly, and concurrent callers racing
to instantiate the same id share one instantiation future (the entry's
ready channel) instead of racing the create callback. Once create calls
Handle.Resolve, the entry transitions to Final and every waiter observes
the same runtime.

# Eviction

An intrusive doubly-linked list (container/list) tracks recency; eviction
walks from the back looking for the first Final entry whose runtime is not
WorkerStatusRunning. Capacity has a floor of 1, and eviction can legitimately
fail to bring the cache back under capacity if every resident entry is
either Pending or Running — callers are expected to retry on the next
insert rather than treat this as an error.

# Usage

	cache := activeworker.New(1000)
	runtime := cache.GetOrCreatePending(workerId, func(h *activeworker.Handle) {
		go func() {
			rt, err := instantiate(workerId)
			h.Resolve(rt, err)
		}()
	})
*/
package activeworker
