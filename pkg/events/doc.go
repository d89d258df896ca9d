/*
Package events implements the Stream Service backing connect_worker: a
per-worker, in-process fan-out of LogEvents to every attached client.

# One Stream Per Worker

Registry hands out one *Stream per WorkerId, shared by the Worker Runtime
(the publisher) and every connect_worker call currently attached to that
worker (the subscribers). A worker with no subscribers simply publishes
into an empty map at negligible cost.

# Backpressure

Per spec, the worker must never block on a slow log consumer: each
subscriber has a bounded buffer (128 events), and Publish drops the event
for any subscriber whose buffer is full rather than waiting.

# Usage

	registry := events.NewRegistry()
	stream := registry.StreamFor(workerId)
	sub := stream.Subscribe()
	defer stream.Unsubscribe(sub)
	for event := range sub {
		// forward to the connect_worker gRPC stream
	}
*/
package events
