package queue

import (
	"testing"
	"time"

	"github.com/nugget/satcore/internal/shutdown"
	"github.com/nugget/satcore/internal/wire"
)

func TestPushThenDrainIsFIFO(t *testing.T) {
	q := New()
	sf := &shutdown.Flag{}

	first := ReceivedEvent{Event: wire.NewEvent(nil, []byte("a"), nil)}
	second := ReceivedEvent{Event: wire.NewEvent(nil, []byte("b"), nil)}
	q.PushBatch([]ReceivedEvent{first, second})

	out := q.Drain(sf)
	if len(out) != 2 {
		t.Fatalf("Drain returned %d events, want 2", len(out))
	}
	if string(out[0].Event.Type) != "a" || string(out[1].Event.Type) != "b" {
		t.Fatalf("Drain order = [%q %q], want [a b]", out[0].Event.Type, out[1].Event.Type)
	}

	if got := q.Len(); got != 0 {
		t.Fatalf("Len after Drain = %d, want 0", got)
	}
}

func TestDrainBlocksUntilPush(t *testing.T) {
	q := New()
	sf := &shutdown.Flag{}
	done := make(chan []ReceivedEvent, 1)

	go func() { done <- q.Drain(sf) }()

	select {
	case <-done:
		t.Fatal("Drain returned before any event was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.PushBatch([]ReceivedEvent{{Event: wire.NewEvent(nil, []byte("x"), nil)}})

	select {
	case out := <-done:
		if len(out) != 1 {
			t.Fatalf("Drain returned %d events, want 1", len(out))
		}
	case <-time.After(time.Second):
		t.Fatal("Drain never woke after PushBatch")
	}
}

func TestDrainWakesOnShutdownWithEmptyQueue(t *testing.T) {
	q := New()
	sf := &shutdown.Flag{}
	done := make(chan []ReceivedEvent, 1)

	go func() { done <- q.Drain(sf) }()

	time.Sleep(50 * time.Millisecond)
	sf.Set()
	q.BroadcastShutdown()

	select {
	case out := <-done:
		if out != nil {
			t.Fatalf("Drain returned %d events on shutdown-with-empty-queue wake, want nil", len(out))
		}
	case <-time.After(time.Second):
		t.Fatal("Drain never woke after BroadcastShutdown")
	}
}

func TestPushBatchEmptyIsNoop(t *testing.T) {
	q := New()
	q.PushBatch(nil)
	if got := q.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0 after pushing an empty batch", got)
	}
}
