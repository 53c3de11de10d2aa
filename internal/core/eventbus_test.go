package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishDeliversToSubscriber(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(MetricsEvent)

	eb.Publish(Event{Type: MetricsEvent, Payload: 42})

	select {
	case ev := <-sub:
		assert.Equal(t, 42, ev.Payload)
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestEventBus_PublishIgnoresOtherTypes(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(MetricsEvent)

	eb.Publish(Event{Type: RepEvent})

	select {
	case <-sub:
		t.Fatal("subscriber to MetricsEvent must not receive a RepEvent")
	default:
	}
}

func TestEventBus_Unsubscribe_StopsDelivery(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(MetricsEvent)
	eb.Unsubscribe(sub, MetricsEvent)

	eb.Publish(Event{Type: MetricsEvent})

	select {
	case <-sub:
		t.Fatal("unsubscribed channel must not receive further events")
	default:
	}
}

// TestEventBus_DropOnFull_PerStreamDepth verifies each stream has its
// own bounded buffer depth, and Publish drops rather than blocks once a
// subscriber's channel is full.
func TestEventBus_DropOnFull_PerStreamDepth(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(RomViolationEvent) // depth 8

	for i := 0; i < 8; i++ {
		eb.Publish(Event{Type: RomViolationEvent, Payload: i})
	}
	assert.Equal(t, 0, eb.DroppedCount(RomViolationEvent))

	eb.Publish(Event{Type: RomViolationEvent, Payload: "overflow"})
	assert.Equal(t, 1, eb.DroppedCount(RomViolationEvent))

	// Drain exactly 8 buffered events; the oldest was evicted to make
	// room for the 9th.
	for i := 0; i < 8; i++ {
		<-sub
	}
	select {
	case <-sub:
		t.Fatal("only 8 events should have been buffered")
	default:
	}
}

func TestEventBus_DefaultBufferDepth_ForUnlistedType(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(HandleStateEvent) // not in streamBuffers -> default 16

	for i := 0; i < 16; i++ {
		eb.Publish(Event{Type: HandleStateEvent})
	}
	assert.Equal(t, 0, eb.DroppedCount(HandleStateEvent))

	eb.Publish(Event{Type: HandleStateEvent})
	assert.Equal(t, 1, eb.DroppedCount(HandleStateEvent))

	for i := 0; i < 16; i++ {
		<-sub
	}
}

func TestEventBus_MultiTypeSubscriber_SizedToLargestStream(t *testing.T) {
	eb := NewEventBus()
	// Subscribed to both a depth-4 and a depth-64 stream; the channel
	// must be sized to the larger of the two so the higher-volume
	// stream is never starved by the smaller one's policy.
	sub := eb.Subscribe(ReconnectionEvent, MetricsEvent)
	require.NotNil(t, sub)

	for i := 0; i < 64; i++ {
		eb.Publish(Event{Type: MetricsEvent, Payload: i})
	}
	assert.Equal(t, 0, eb.DroppedCount(MetricsEvent))
}

func TestEventBus_MultipleSubscribers_IndependentBuffers(t *testing.T) {
	eb := NewEventBus()
	subA := eb.Subscribe(MetricsEvent)
	subB := eb.Subscribe(MetricsEvent)

	eb.Publish(Event{Type: MetricsEvent, Payload: 7})

	evA := <-subA
	evB := <-subB
	assert.Equal(t, 7, evA.Payload)
	assert.Equal(t, 7, evB.Payload)
}
