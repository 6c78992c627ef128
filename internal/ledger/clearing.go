package ledger

// clearedValue returns the kind-specific terminal clearance state: receipts
// are "cleared", outgoing payments are "completed".
func clearedValue(kind PaymentKind) ClearanceStatus {
	if kind == KindPayment {
		return ClearanceCompleted
	}
	return ClearanceCleared
}

// ToggleClearance flips a payment between pending and its cleared state.
// It is a pure boolean flip against the bank statement and never touches
// AmountPaid or the owning document's aggregate. Last write wins: two
// concurrent togglers are not serialized beyond the store's own guarantees.
func ToggleClearance(p Payment) Payment {
	if p.ClearanceStatus == ClearancePending {
		p.ClearanceStatus = clearedValue(p.Kind)
	} else {
		p.ClearanceStatus = ClearancePending
	}
	return p
}
