package ledger

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestApplyPaymentUpdatesDocument(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, 5000, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 2000}, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ClearanceStatus != ClearancePending {
		t.Fatalf("new payment must start pending clearance: %s", p.ClearanceStatus)
	}

	after, _ := s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != 2000 || after.BalanceAmount != 3000 || after.Status != StatusPartial {
		t.Fatalf("unexpected document: %+v", after)
	}
	if after.Version != doc.Version+1 {
		t.Fatalf("version not bumped: %d -> %d", doc.Version, after.Version)
	}
}

func TestApplyPaymentRejectsNonPositive(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 100, time.Time{})
	if _, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 0}, ""); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyPaymentIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 1000, time.Time{})

	p1, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 400}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 400}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	if p1.ID != p2.ID || p1.Sequence != p2.Sequence {
		t.Fatalf("idempotency violated: %#v != %#v", p1, p2)
	}
	after, _ := s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != 400 {
		t.Fatalf("replay double-applied: %+v", after)
	}
}

func TestStandalonePaymentSkipsReconciliation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	p, err := s.ApplyPayment(ctx, PaymentInput{AmountPaid: 750, Kind: KindReceipt}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Standalone() {
		t.Fatalf("expected standalone payment")
	}
	if _, err := s.EditPayment(ctx, p.ID, 500, 0); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPayment(ctx, p.ID)
	if got.AmountPaid != 500 {
		t.Fatalf("standalone edit lost: %d", got.AmountPaid)
	}
}

func TestEditPaymentRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 5000, time.Time{})
	p, _ := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 2000}, "")

	if _, err := s.EditPayment(ctx, p.ID, 5000, 0); err != nil {
		t.Fatal(err)
	}
	after, _ := s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != 5000 || after.BalanceAmount != 0 || after.Status != StatusCleared {
		t.Fatalf("after edit up: %+v", after)
	}

	if _, err := s.EditPayment(ctx, p.ID, 0, 0); err != nil {
		t.Fatal(err)
	}
	after, _ = s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != 0 || after.BalanceAmount != 5000 || after.Status != StatusPending {
		t.Fatalf("after edit to zero: %+v", after)
	}
}

func TestEditPaymentStaleVersion(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 1000, time.Time{})
	p, _ := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 400}, "")

	// doc version moved to 2 when the payment applied; version 1 is stale.
	if _, err := s.EditPayment(ctx, p.ID, 100, doc.Version); err != ErrStaleVersion {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	current, _ := s.GetDocument(ctx, doc.ID)
	if _, err := s.EditPayment(ctx, p.ID, 100, current.Version); err != nil {
		t.Fatalf("edit with fresh version failed: %v", err)
	}
}

func TestReversePaymentRestoresDocument(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 1000, time.Time{})
	p, _ := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 1000}, "")

	if err := s.ReversePayment(ctx, p.ID, 0); err != nil {
		t.Fatal(err)
	}
	after, _ := s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != 0 || after.BalanceAmount != 1000 || after.Status != StatusPending {
		t.Fatalf("after reverse: %+v", after)
	}
	if _, err := s.GetPayment(ctx, p.ID); err != ErrNotFound {
		t.Fatalf("reversed payment still present: %v", err)
	}
}

func TestCancelDocumentBlocksPayments(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 1000, time.Time{})
	if _, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 300}, ""); err != nil {
		t.Fatal(err)
	}

	cancelled, err := s.CancelDocument(ctx, doc.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != StatusCancelled || cancelled.BalanceAmount != 0 {
		t.Fatalf("cancel did not force state: %+v", cancelled)
	}
	if _, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 100}, ""); err != ErrDocumentCancelled {
		t.Fatalf("expected ErrDocumentCancelled, got %v", err)
	}
}

func TestMarkOverdueSweep(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	due, _ := s.CreateDocument(ctx, 1000, now.Add(-24*time.Hour))
	notDue, _ := s.CreateDocument(ctx, 1000, now.Add(24*time.Hour))
	paid, _ := s.CreateDocument(ctx, 1000, now.Add(-24*time.Hour))
	_, _ = s.ApplyPayment(ctx, PaymentInput{DocumentID: paid.ID, AmountPaid: 100}, "")

	n, err := s.MarkOverdue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 overdue, got %d", n)
	}
	d, _ := s.GetDocument(ctx, due.ID)
	if d.Status != StatusOverdue {
		t.Fatalf("past-due pending doc not overdue: %s", d.Status)
	}
	d, _ = s.GetDocument(ctx, notDue.ID)
	if d.Status != StatusPending {
		t.Fatalf("future doc marked overdue: %s", d.Status)
	}
	d, _ = s.GetDocument(ctx, paid.ID)
	if d.Status != StatusPartial {
		t.Fatalf("partial doc must not become overdue: %s", d.Status)
	}
}

func TestListPaymentsCursor(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 10000, time.Time{})
	for i := 0; i < 5; i++ {
		if _, err := s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 100}, ""); err != nil {
			t.Fatal(err)
		}
	}

	first, next, err := s.ListPayments(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || next != 3 {
		t.Fatalf("first page: n=%d next=%d", len(first), next)
	}
	rest, _, err := s.ListPayments(ctx, 10, next)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("second page: n=%d", len(rest))
	}
}

func TestConcurrentPaymentsConserveAggregate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, 10000, time.Time{})

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ApplyPayment(ctx, PaymentInput{DocumentID: doc.ID, AmountPaid: 100}, "")
		}()
	}
	wg.Wait()

	after, _ := s.GetDocument(ctx, doc.ID)
	if after.PaidAmount != Amount(N*100) {
		t.Fatalf("lost updates: paid=%d", after.PaidAmount)
	}
	if after.PaidAmount+after.BalanceAmount != after.GrandTotal {
		t.Fatalf("aggregate drifted: paid=%d balance=%d total=%d",
			after.PaidAmount, after.BalanceAmount, after.GrandTotal)
	}
}
