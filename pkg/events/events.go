// Package events implements the Stream Service: the in-process fan-out of
// a worker's log events to every client attached via connect_worker.
package events

import (
	"sync"

	"github.com/cuemby/wexec/pkg/types"
)

// subscriberCapacity bounds each subscriber's channel per spec §5's
// backpressure policy: on overflow the sender drops the event rather than
// ever blocking the worker on a slow log consumer.
const subscriberCapacity = 128

// Subscriber is a channel that receives one worker's log events.
type Subscriber chan types.LogEvent

// Stream is the per-worker fan-out broker: one Stream exists per worker
// that has ever had a connect_worker subscriber, shared by every attached
// client.
type Stream struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
}

func newStream() *Stream {
	return &Stream{subscribers: make(map[Subscriber]bool)}
}

// Subscribe registers a new client and returns its channel. The caller
// must eventually call Unsubscribe, typically on client disconnect.
func (s *Stream) Subscribe() Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := make(Subscriber, subscriberCapacity)
	s.subscribers[sub] = true
	return sub
}

// Unsubscribe removes sub and closes it. Idempotent.
func (s *Stream) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	close(sub)
}

// Publish fans event out to every current subscriber. Never blocks: a
// subscriber whose buffer is full simply misses the event.
func (s *Stream) Publish(event types.LogEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount reports how many clients are currently attached.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Registry looks up or creates the Stream for a given worker, so the RPC
// Service and the Worker Runtime agree on a single broker per worker
// without either owning the other's lifecycle.
type Registry struct {
	mu      sync.Mutex
	streams map[types.WorkerId]*Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[types.WorkerId]*Stream)}
}

// StreamFor returns the Stream for workerId, creating it on first use.
func (r *Registry) StreamFor(workerId types.WorkerId) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[workerId]
	if !ok {
		s = newStream()
		r.streams[workerId] = s
	}
	return s
}

// Drop removes a worker's stream once it has exited and no longer needs a
// log-event broker, closing every subscriber still attached so its reader
// sees the stream end. Idempotent.
func (r *Registry) Drop(workerId types.WorkerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[workerId]
	if !ok {
		return
	}
	delete(r.streams, workerId)
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		delete(s.subscribers, sub)
		close(sub)
	}
}
