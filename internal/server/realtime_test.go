package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		EventType: RealtimeEventNoteChanged,
		IDs:       []string{"note-a", "note-b"},
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventNoteChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventNoteChanged, received.EventType)
		}
		if len(received.IDs) != 2 {
			t.Fatalf("expected 2 ids, got %d", len(received.IDs))
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected a timestamp to be filled in")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherDropsCancelledSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeDispatcherDoesNotBlockOnFullStream(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < 100; index++ {
			dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventCollectionChanged, IDs: []string{"c"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(stream) != cap(stream) {
		t.Fatalf("expected the buffer to be full, got %d of %d", len(stream), cap(stream))
	}
}

func TestRealtimeDispatcherIgnoresUntypedMessages(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	dispatcher.Publish(RealtimeMessage{IDs: []string{"x"}})

	select {
	case <-stream:
		t.Fatal("did not expect a message without an event type")
	case <-time.After(100 * time.Millisecond):
	}
}
