// Package events fan-outs ledger mutations to subscribers (SSE clients,
// reconciliation screens). Delivery is best effort: slow subscribers drop
// events rather than block the write path.
package events

import (
	"context"
	"sync"
	"time"

	"paybook.org/internal/ledger"
)

// Op names the mutation that produced an event.
type Op string

const (
	OpPaymentApplied    Op = "payment.applied"
	OpPaymentEdited     Op = "payment.edited"
	OpPaymentReversed   Op = "payment.reversed"
	OpClearanceToggled  Op = "clearance.toggled"
	OpDocumentCancelled Op = "document.cancelled"
)

// Event describes one ledger mutation.
type Event struct {
	Op         Op                     `json:"op"`
	PaymentID  string                 `json:"payment_id,omitempty"`
	DocumentID string                 `json:"document_id,omitempty"`
	Amount     ledger.Amount          `json:"amount,omitempty"`
	Status     ledger.DocumentStatus  `json:"status,omitempty"`
	Clearance  ledger.ClearanceStatus `json:"clearance,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Feed fan-outs events to all active subscribers.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty feed.
func New() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (f *Feed) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
