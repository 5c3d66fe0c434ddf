package petrel

import (
	"testing"

	"github.com/petrel-im/petrel/irc"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(BusEvent{ClientID: "c1", Event: irc.RegisteredEvent{}})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.Events():
			if ev.ClientID != "c1" {
				t.Errorf("ClientID = %q", ev.ClientID)
			}
			if _, ok := ev.Event.(irc.RegisteredEvent); !ok {
				t.Errorf("Event = %#v", ev.Event)
			}
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBusSlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(1)
	bus.Publish(BusEvent{ClientID: "c1"})
	bus.Publish(BusEvent{ClientID: "c1"}) // buffer full, dropped

	if sub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", sub.Dropped())
	}
	select {
	case <-sub.Events():
	default:
		t.Fatal("first event lost")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close() // closing twice is fine

	// publishing to a closed subscription must not panic
	bus.Publish(BusEvent{ClientID: "c1"})

	if _, ok := <-sub.Events(); ok {
		t.Fatal("received an event after unsubscribing")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel not closed")
	}

	// a subscription taken after close is born closed
	late := bus.Subscribe(1)
	if _, ok := <-late.Events(); ok {
		t.Fatal("late subscription not closed")
	}

	bus.Publish(BusEvent{}) // no-op
}
