package engine

import (
	"testing"
	"time"
)

func TestEventBusFilter(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	views := bus.Subscribe(SubscriptionOptions{Events: []EventType{EventViewed}})
	all := bus.Subscribe(SubscriptionOptions{})

	bus.Publish(Event{Type: EventInserted, Code: "a"})
	bus.Publish(Event{Type: EventViewed, Code: "a"})

	select {
	case ev := <-views.Events():
		if ev.Type != EventViewed {
			t.Errorf("filtered subscription got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event on filtered subscription")
	}

	if len(all.Events()) != 2 {
		t.Errorf("expected 2 buffered events, got %d", len(all.Events()))
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	sub := bus.Subscribe(SubscriptionOptions{BufferSize: 2})
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventViewed})
	}
	if len(sub.Events()) != 2 {
		t.Errorf("expected buffer of 2, got %d", len(sub.Events()))
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(SubscriptionOptions{})
	if bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Subscribers())
	}
	bus.Unsubscribe(sub)
	if bus.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.Subscribers())
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
	bus.Publish(Event{Type: EventViewed})
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	sub := bus.Subscribe(SubscriptionOptions{})
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed subscription from closed bus")
	}
}
