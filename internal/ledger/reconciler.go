package ledger

// Reconciler keeps a document's paid/balance aggregate consistent as payments
// are applied, edited, or reversed. It adjusts the cached aggregate
// incrementally (undo-then-reapply) instead of recomputing from all payments,
// so callers must serialize concurrent mutations of the same document; the
// store layer does that with a row lock plus the document Version.
type Reconciler struct {
	// AllowOverpayment permits PaidAmount to exceed GrandTotal, driving the
	// balance negative. Defaults to permissive: overpayment resolves to
	// "cleared", never to an error.
	AllowOverpayment bool
}

// NewReconciler returns a reconciler with permissive overpayment handling.
func NewReconciler() Reconciler {
	return Reconciler{AllowOverpayment: true}
}

// ComputeStatus derives the ledger status from the aggregate amounts.
// Cancellation is never derived here; an explicit cancel overrides everything.
func ComputeStatus(paid, balance Amount) DocumentStatus {
	switch {
	case balance <= 0:
		return StatusCleared
	case paid > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

// Apply records a new payment of amount against the document and returns the
// updated aggregate. The balance is not clamped at zero: with overpayment
// allowed it may go negative and the status still resolves to cleared.
func (r Reconciler) Apply(doc Document, amount Amount) (Document, error) {
	if err := r.check(doc, amount, 0); err != nil {
		return Document{}, err
	}
	doc.PaidAmount += amount
	doc.BalanceAmount = doc.GrandTotal - doc.PaidAmount
	doc.Status = ComputeStatus(doc.PaidAmount, doc.BalanceAmount)
	return doc, nil
}

// Edit replaces a payment's prior contribution with a new amount using the
// undo-then-reapply rule: the balance the document would have had without the
// payment is restored by addition (balance + previousPaid), then the new
// amount is applied. Working from the cached aggregate rather than from
// GrandTotal preserves any prior drift instead of silently absorbing it.
func (r Reconciler) Edit(doc Document, previousPaid, newAmount Amount) (Document, error) {
	if err := r.check(doc, newAmount, previousPaid); err != nil {
		return Document{}, err
	}
	restoredBalance := doc.BalanceAmount + previousPaid
	doc.PaidAmount = doc.PaidAmount - previousPaid + newAmount
	doc.BalanceAmount = restoredBalance - newAmount
	doc.Status = ComputeStatus(doc.PaidAmount, doc.BalanceAmount)
	return doc, nil
}

// Reverse undoes a payment's contribution entirely. Equivalent to editing the
// amount down to zero.
func (r Reconciler) Reverse(doc Document, previousPaid Amount) (Document, error) {
	if doc.Status == StatusCancelled {
		return Document{}, ErrDocumentCancelled
	}
	restoredBalance := doc.BalanceAmount + previousPaid
	doc.PaidAmount -= previousPaid
	doc.BalanceAmount = restoredBalance
	doc.Status = ComputeStatus(doc.PaidAmount, doc.BalanceAmount)
	return doc, nil
}

// Cancel voids the document: balance forced to zero, status cancelled.
// PaidAmount is left as-is for the audit trail.
func Cancel(doc Document) Document {
	doc.BalanceAmount = 0
	doc.Status = StatusCancelled
	return doc
}

// MarkOverdue flags a document that is still pending past its due date.
// Documents with any payment, or already cancelled, are left alone.
func MarkOverdue(doc Document) Document {
	if doc.Status == StatusPending {
		doc.Status = StatusOverdue
	}
	return doc
}

func (r Reconciler) check(doc Document, amount, previousPaid Amount) error {
	if doc.Status == StatusCancelled {
		return ErrDocumentCancelled
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	if !r.AllowOverpayment {
		if doc.PaidAmount-previousPaid+amount > doc.GrandTotal {
			return ErrOverpayment
		}
	}
	return nil
}
