package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := feed.Subscribe(ctx)
	feed.Publish(Event{Op: OpPaymentApplied, PaymentID: "p1", Amount: 400})

	select {
	case evt := <-ch:
		if evt.Op != OpPaymentApplied || evt.PaymentID != "p1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = feed.Subscribe(ctx) // never drained
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			feed.Publish(Event{Op: OpClearanceToggled})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := feed.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
