package task

import (
	"testing"
	"time"
)

// TestBusFanOut verifies that every subscriber receives a published
// change.
func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(Change{Type: ChangeCreated, TaskID: "a"})

	for i, ch := range []chan Change{ch1, ch2} {
		select {
		case c := <-ch:
			if c.Type != ChangeCreated || c.TaskID != "a" {
				t.Errorf("subscriber %d got %+v, want created/a", i, c)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

// TestBusSlowSubscriberDoesNotBlock verifies that a full subscriber
// buffer drops changes instead of blocking the mutation path.
func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Change{Type: ChangeUpdated, TaskID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("len(ch) = %d, want full buffer %d", len(ch), cap(ch))
	}
}

// TestBusUnsubscribeCloses verifies that Unsubscribe closes the channel.
func TestBusUnsubscribeCloses(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
}
