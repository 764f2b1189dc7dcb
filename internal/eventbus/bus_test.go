package eventbus

import (
	"testing"
	"time"
)

func TestPublishFillsIDAndTime(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeTaskCompleted, TaskID: "bins"})
	e := <-ch
	if e.ID == "" || e.Time.IsZero() || e.TaskID != "bins" {
		t.Fatalf("event = %+v", e)
	}
}

func TestSubscribeFiltersTypes(t *testing.T) {
	t.Parallel()
	b := New()
	status, unsubStatus := b.Subscribe(4, TypeTaskStatus)
	defer unsubStatus()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeTaskCompleted})
	b.Publish(Event{Type: TypeTaskStatus})

	if len(status) != 1 || (<-status).Type != TypeTaskStatus {
		t.Fatal("filtered subscriber should only see task.status")
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events", len(all))
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Type: TypeTaskReset})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := Dropped(b); got != 4 {
		t.Fatalf("dropped = %d, want 4", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: TypeTaskStatus})
}
