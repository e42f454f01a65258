package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeNotificationIngested, Data: map[string]any{"id": int64(1)}})

	select {
	case ev := <-ch:
		if ev.Type != TypeNotificationIngested {
			t.Fatalf("unexpected type %q", ev.Type)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish must stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeSessionCreated})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("expected exactly the buffered event, got %d", len(ch))
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // idempotent

	// Channel is closed; publishing must not panic.
	b.Publish(Event{Type: TypeDeviceConnected})

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}
