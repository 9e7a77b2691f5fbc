package engine

import (
	"sync"
	"time"
)

// EventType represents the type of catalog change
type EventType string

const (
	EventInserted EventType = "inserted"
	EventViewed   EventType = "viewed"
)

// Event represents a catalog change notification
type Event struct {
	Type        EventType `json:"type"`
	Code        string    `json:"code"`
	ContentHash string    `json:"hash,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SubscriptionOptions configures a subscription
type SubscriptionOptions struct {
	// Events filters by event type (nil = all events)
	Events []EventType
	// BufferSize is the channel capacity (0 = 100)
	BufferSize int
}

// Subscription represents an active event subscription
type Subscription interface {
	// Events returns the channel to receive events on
	Events() <-chan Event
	// Close stops the subscription and closes the channel
	Close()
}

type subscriptionImpl struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
	filter SubscriptionOptions
}

func newSubscription(opts SubscriptionOptions) *subscriptionImpl {
	size := opts.BufferSize
	if size <= 0 {
		size = 100
	}
	return &subscriptionImpl{
		ch:     make(chan Event, size),
		filter: opts,
	}
}

func (s *subscriptionImpl) Events() <-chan Event {
	return s.ch
}

func (s *subscriptionImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscriptionImpl) matches(event Event) bool {
	if len(s.filter.Events) == 0 {
		return true
	}
	for _, et := range s.filter.Events {
		if et == event.Type {
			return true
		}
	}
	return false
}

func (s *subscriptionImpl) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.matches(event) {
		select {
		case s.ch <- event:
		default:
			// Buffer full, drop event. Publishing runs on the catalog
			// thread and must never wait for a slow subscriber.
		}
	}
}

// EventBus fans catalog events out to subscribers
type EventBus struct {
	subs   []*subscriptionImpl
	mu     sync.RWMutex
	closed bool
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a subscription; the zero options receive every event.
// Subscribing to a closed bus returns an already closed subscription.
func (b *EventBus) Subscribe(opts SubscriptionOptions) Subscription {
	sub := newSubscription(opts)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.Close()
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish sends an event to all subscribers without blocking
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(event)
	}
}

// Unsubscribe removes a subscription
func (b *EventBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			s.Close()
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriptions
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
	b.closed = true
}
