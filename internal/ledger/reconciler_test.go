package ledger

import "testing"

func newDoc(grandTotal Amount) Document {
	return Document{
		ID:            "doc-1",
		GrandTotal:    grandTotal,
		PaidAmount:    0,
		BalanceAmount: grandTotal,
		Status:        StatusPending,
		Version:       1,
	}
}

func TestApplyFullPaymentClears(t *testing.T) {
	r := NewReconciler()
	for _, total := range []Amount{0, 1, 500, 100000} {
		doc, err := r.Apply(newDoc(total), total)
		if err != nil {
			t.Fatal(err)
		}
		if doc.BalanceAmount != 0 || doc.Status != StatusCleared {
			t.Fatalf("total=%d: balance=%d status=%s", total, doc.BalanceAmount, doc.Status)
		}
	}
}

func TestApplyPartialPayment(t *testing.T) {
	r := NewReconciler()
	doc, err := r.Apply(newDoc(1000), 400)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 400 || doc.BalanceAmount != 600 || doc.Status != StatusPartial {
		t.Fatalf("unexpected aggregate: %+v", doc)
	}
}

func TestEditSameAmountIsNoop(t *testing.T) {
	r := NewReconciler()
	doc, err := r.Apply(newDoc(1000), 400)
	if err != nil {
		t.Fatal(err)
	}
	edited, err := r.Edit(doc, 400, 400)
	if err != nil {
		t.Fatal(err)
	}
	if edited.PaidAmount != doc.PaidAmount || edited.BalanceAmount != doc.BalanceAmount || edited.Status != doc.Status {
		t.Fatalf("edit to same amount changed aggregate: %+v != %+v", edited, doc)
	}
}

func TestEditUpToFullAmount(t *testing.T) {
	r := NewReconciler()
	doc, _ := r.Apply(newDoc(1000), 400)
	doc, err := r.Edit(doc, 400, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 1000 || doc.BalanceAmount != 0 || doc.Status != StatusCleared {
		t.Fatalf("unexpected aggregate after edit: %+v", doc)
	}
}

func TestEditDownReopensBalance(t *testing.T) {
	r := NewReconciler()
	doc, _ := r.Apply(newDoc(1000), 400)
	doc, err := r.Edit(doc, 400, 100)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 100 || doc.BalanceAmount != 900 || doc.Status != StatusPartial {
		t.Fatalf("unexpected aggregate after edit: %+v", doc)
	}
}

func TestEditRoundTripScenario(t *testing.T) {
	r := NewReconciler()
	doc, err := r.Apply(newDoc(5000), 2000)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 2000 || doc.BalanceAmount != 3000 || doc.Status != StatusPartial {
		t.Fatalf("after apply: %+v", doc)
	}

	doc, err = r.Edit(doc, 2000, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 5000 || doc.BalanceAmount != 0 || doc.Status != StatusCleared {
		t.Fatalf("after edit up: %+v", doc)
	}

	doc, err = r.Edit(doc, 5000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 0 || doc.BalanceAmount != 5000 || doc.Status != StatusPending {
		t.Fatalf("after edit to zero: %+v", doc)
	}
}

func TestReverseRestoresBalance(t *testing.T) {
	r := NewReconciler()
	doc, _ := r.Apply(newDoc(5000), 2000)
	doc, err := r.Reverse(doc, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 0 || doc.BalanceAmount != 5000 || doc.Status != StatusPending {
		t.Fatalf("after reverse: %+v", doc)
	}
}

func TestOverpaymentPermissiveByDefault(t *testing.T) {
	r := NewReconciler()
	doc, err := r.Apply(newDoc(1000), 1500)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PaidAmount != 1500 || doc.BalanceAmount != -500 || doc.Status != StatusCleared {
		t.Fatalf("overpayment mishandled: %+v", doc)
	}
}

func TestOverpaymentRejectedWhenDisabled(t *testing.T) {
	r := Reconciler{AllowOverpayment: false}
	if _, err := r.Apply(newDoc(1000), 1500); err != ErrOverpayment {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
	doc, _ := r.Apply(newDoc(1000), 400)
	if _, err := r.Edit(doc, 400, 1200); err != ErrOverpayment {
		t.Fatalf("expected ErrOverpayment on edit, got %v", err)
	}
	// Replacing the old contribution must not count it twice.
	if _, err := r.Edit(doc, 400, 1000); err != nil {
		t.Fatalf("edit within total rejected: %v", err)
	}
}

func TestCancelOverridesBalance(t *testing.T) {
	r := NewReconciler()
	doc, _ := r.Apply(newDoc(1000), 400)
	cancelled := Cancel(doc)
	if cancelled.BalanceAmount != 0 || cancelled.Status != StatusCancelled {
		t.Fatalf("cancel did not force balance: %+v", cancelled)
	}
	if cancelled.PaidAmount != 400 {
		t.Fatalf("cancel rewrote paid amount: %+v", cancelled)
	}
	if _, err := r.Apply(cancelled, 100); err != ErrDocumentCancelled {
		t.Fatalf("expected ErrDocumentCancelled, got %v", err)
	}
}

func TestComputeStatusTable(t *testing.T) {
	cases := []struct {
		paid, balance Amount
		want          DocumentStatus
	}{
		{0, 1000, StatusPending},
		{400, 600, StatusPartial},
		{1000, 0, StatusCleared},
		{1500, -500, StatusCleared},
		{0, 0, StatusCleared},
	}
	for _, c := range cases {
		if got := ComputeStatus(c.paid, c.balance); got != c.want {
			t.Fatalf("ComputeStatus(%d,%d)=%s want %s", c.paid, c.balance, got, c.want)
		}
	}
}

func TestMarkOverdueOnlyPending(t *testing.T) {
	doc := newDoc(1000)
	if got := MarkOverdue(doc); got.Status != StatusOverdue {
		t.Fatalf("pending not marked overdue: %s", got.Status)
	}
	r := NewReconciler()
	partial, _ := r.Apply(newDoc(1000), 100)
	if got := MarkOverdue(partial); got.Status != StatusPartial {
		t.Fatalf("partial must not become overdue: %s", got.Status)
	}
}
