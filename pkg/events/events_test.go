package events

import (
	"testing"
	"time"

	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkerId() types.WorkerId {
	return types.WorkerId{TemplateId: types.TemplateId(uuid.New()), WorkerName: "w1"}
}

func TestRegistryReturnsSameStreamForSameWorker(t *testing.T) {
	registry := NewRegistry()
	id := testWorkerId()

	s1 := registry.StreamFor(id)
	s2 := registry.StreamFor(id)
	assert.Same(t, s1, s2)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	stream := newStream()
	sub1 := stream.Subscribe()
	sub2 := stream.Subscribe()

	stream.Publish(types.LogEvent{Kind: types.LogEventStdout, Message: "hello"})

	select {
	case event := <-sub1:
		assert.Equal(t, "hello", event.Message)
	case <-time.After(time.Second):
		t.Fatal("sub1 never received event")
	}
	select {
	case event := <-sub2:
		assert.Equal(t, "hello", event.Message)
	case <-time.After(time.Second):
		t.Fatal("sub2 never received event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	stream := newStream()
	sub := stream.Subscribe()
	stream.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, stream.SubscriberCount())
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	stream := newStream()
	sub := stream.Subscribe()

	for i := 0; i < subscriberCapacity+10; i++ {
		stream.Publish(types.LogEvent{Kind: types.LogEventLog, Message: "x"})
	}

	require.Len(t, sub, subscriberCapacity)
}

func TestDropRemovesStream(t *testing.T) {
	registry := NewRegistry()
	id := testWorkerId()
	registry.StreamFor(id)
	registry.Drop(id)

	s2 := registry.StreamFor(id)
	assert.Equal(t, 0, s2.SubscriberCount())
}
