// Package events carries the wallet lifecycle notifications: a typed
// publish-subscribe bus over an enumerated event set, with explicit
// listener handles for unregistration.
package events

import (
	"sync"
)

type EventType int

const (
	// EVENT_CHAN_LENGTH is the default listener buffer.
	EVENT_CHAN_LENGTH = 32
)

const (
	EventUnknown EventType = iota
	ApiConnect
	ApiDisconnect
	SyncStart
	SyncFinish
	Ready
	BalanceUpdate
	BlueScoreChanged
	NewAddress
	StateUpdate
	DebugInfo
)

func (e EventType) String() string {
	return [...]string{"EventUnknown", "ApiConnect", "ApiDisconnect", "SyncStart", "SyncFinish", "Ready", "BalanceUpdate", "BlueScoreChanged", "NewAddress", "StateUpdate", "DebugInfo"}[e]
}

// Subscription is the listener handle returned by Subscribe. Payloads
// arrive on C; Unsubscribe detaches the listener from the bus.
type Subscription struct {
	C <-chan interface{}

	c     chan interface{}
	id    uint64
	event EventType
	bus   *EventBus
}

// Unsubscribe detaches the listener. Detaching twice is harmless.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.drop(s)
}

type EventBus struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[EventType]map[uint64]*Subscription
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType]map[uint64]*Subscription),
	}
}

// Subscribe registers a listener for one event type with the given channel
// buffer and returns its handle.
func (eb *EventBus) Subscribe(event EventType, buffer int) *Subscription {
	if buffer < 1 {
		buffer = EVENT_CHAN_LENGTH
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	ch := make(chan interface{}, buffer)
	sub := &Subscription{
		C:     ch,
		c:     ch,
		id:    eb.nextID,
		event: event,
		bus:   eb,
	}
	listeners, ok := eb.subscribers[event]
	if !ok {
		listeners = make(map[uint64]*Subscription)
		eb.subscribers[event] = listeners
	}
	listeners[sub.id] = sub
	return sub
}

// Publish delivers data to every listener of the event without blocking.
// A listener whose buffer is full cannot keep up and is detached.
func (eb *EventBus) Publish(event EventType, data interface{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, sub := range eb.subscribers[event] {
		select {
		case sub.c <- data:
			// Success
		default:
			eb.drop(sub)
		}
	}
}

// drop removes a listener. Callers hold the bus lock.
func (eb *EventBus) drop(sub *Subscription) {
	listeners, ok := eb.subscribers[sub.event]
	if !ok {
		return
	}
	delete(listeners, sub.id)
	if len(listeners) == 0 {
		delete(eb.subscribers, sub.event)
	}
}
