package core

import (
	"log"
	"sync"
)

// EventType defines the type of event being published.
type EventType string

const (
	ConnectionStateEvent  EventType = "ConnectionState"
	ScannedDevicesEvent   EventType = "ScannedDevices"
	MetricsEvent          EventType = "Metrics"
	RepEvent              EventType = "Rep"
	DeloadOccurredEvent   EventType = "DeloadOccurred"
	RomViolationEvent     EventType = "RomViolation"
	HeuristicDataEvent    EventType = "HeuristicData"
	ReconnectionEvent     EventType = "Reconnection"
	HandleStateEvent      EventType = "HandleState"
	SessionCompletedEvent EventType = "SessionCompleted"
	DiscoScriptEvent      EventType = "DiscoScriptStatus"
	ScheduleEvent         EventType = "ScheduleList"
)

// streamBuffers sets each stream's bounded-buffer depth. Event types
// not listed fall back to defaultBufferDepth.
var streamBuffers = map[EventType]int{
	MetricsEvent:        64,
	RepEvent:            64,
	DeloadOccurredEvent: 8,
	RomViolationEvent:   8,
	ReconnectionEvent:   4,
}

const defaultBufferDepth = 16

// Event is the envelope for all system events.
type Event struct {
	Type    EventType
	Payload interface{}
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// EventBus handles pub/sub messaging for the application. Each event
// type's subscribers get a channel sized to that stream's bounded-buffer
// policy; when a subscriber's buffer is full, Publish evicts the oldest
// queued event to make room (drop-oldest) rather than blocking the
// publisher: the link is authoritative, producers are never slowed.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	dropped     map[EventType]int
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		dropped:     make(map[EventType]int),
	}
}

func bufferDepth(t EventType) int {
	if d, ok := streamBuffers[t]; ok {
		return d
	}
	return defaultBufferDepth
}

// Subscribe returns a channel that receives events of the given types.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	depth := defaultBufferDepth
	for _, t := range eventTypes {
		if d := bufferDepth(t); d > depth {
			depth = d
		}
	}

	ch := make(Subscriber, depth)
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish distributes an event to all active subscribers for its type.
// Evicted events are counted per event type and logged every 100
// dropped items, rather than on every single drop.
func (eb *EventBus) Publish(event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			select {
			case sub <- event:
			default:
				// Full: evict the oldest queued event, then enqueue this one.
				select {
				case old := <-sub:
					eb.dropped[old.Type]++
					if eb.dropped[old.Type]%100 == 0 {
						log.Printf("[eventbus] dropped %d events of type %s (subscriber buffer full)", eb.dropped[old.Type], old.Type)
					}
				default:
				}
				select {
				case sub <- event:
				default:
				}
			}
		}
	}
}

// DroppedCount returns how many events of the given type have been
// dropped due to a full subscriber buffer since the bus was created.
func (eb *EventBus) DroppedCount(t EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.dropped[t]
}
