package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	defer h.Close()

	got := make(chan Event, 1)
	h.Subscribe(func(ev Event) { got <- ev })

	h.Publish(TypeSyncCompleted, map[string]interface{}{"session_id": "s1"})

	select {
	case ev := <-got:
		if ev.Type != TypeSyncCompleted {
			t.Errorf("Unexpected type: %s", ev.Type)
		}
		if ev.Data["session_id"] != "s1" {
			t.Errorf("Unexpected data: %v", ev.Data)
		}
		if ev.Timestamp == 0 {
			t.Error("Event should carry a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a := make(chan Event, 1)
	b := make(chan Event, 1)
	h.Subscribe(func(ev Event) { a <- ev })
	h.Subscribe(func(ev Event) { b <- ev })

	h.Publish(TypeConnectivityChanged, map[string]interface{}{"online": true})

	for i, ch := range []chan Event{a, b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d never received the event", i)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	defer h.Close()

	got := make(chan Event, 1)
	unsubscribe := h.Subscribe(func(ev Event) { got <- ev })
	unsubscribe()

	h.Publish(TypeConflictDetected, nil)

	select {
	case <-got:
		t.Error("Unsubscribed handler should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	h := NewHub()
	h.Close() // dispatch stopped, buffer will fill

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(TypeSyncCompleted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}
