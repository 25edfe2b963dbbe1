package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSignal, 4)
	defer unsub()

	b.Publish(EventSignal, "payload")
	select {
	case got := <-ch:
		if got != "payload" {
			t.Fatalf("got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(EventSignal, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(EventSignal, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSignal, 4)
	unsub()

	b.Publish(EventSignal, "late")
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestSubscribeManyFanIn(t *testing.T) {
	b := NewBus()
	ch, cancel := b.SubscribeMany(16, EventSignal, EventCycleError)
	defer cancel()

	b.Publish(EventSignal, "a")
	b.Publish(EventCycleError, "b")

	got := map[Event]any{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-ch:
			got[env.Topic] = env.Payload
		case <-time.After(time.Second):
			t.Fatalf("only %d envelopes arrived", i)
		}
	}
	if got[EventSignal] != "a" || got[EventCycleError] != "b" {
		t.Fatalf("envelopes = %v", got)
	}
}
