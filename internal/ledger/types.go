package ledger

import (
	"errors"
	"time"

	"paybook.org/internal/ids"
)

// Amount is money in minor units (e.g., cents). No floats.
type Amount int64

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

// DocumentStatus is the payment-ledger status of a payable document.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusPartial   DocumentStatus = "partial"
	StatusCleared   DocumentStatus = "cleared"
	StatusCancelled DocumentStatus = "cancelled"
	StatusOverdue   DocumentStatus = "overdue"
)

// ClearanceStatus tracks whether a payment has been matched against a bank
// statement. Orthogonal to DocumentStatus: a document can be partial while
// its payments are cleared, and vice versa.
type ClearanceStatus string

const (
	ClearancePending   ClearanceStatus = "pending"
	ClearanceCleared   ClearanceStatus = "cleared"   // receipts
	ClearanceCompleted ClearanceStatus = "completed" // outgoing payments
)

// PaymentKind distinguishes money received from money paid out. It decides
// the terminal clearance value ("cleared" vs "completed").
type PaymentKind string

const (
	KindReceipt PaymentKind = "receipt"
	KindPayment PaymentKind = "payment"
)

// PaymentType is declared intent only; it is never enforced against the
// computed balance.
type PaymentType string

const (
	TypeFull    PaymentType = "full"
	TypePartial PaymentType = "partial"
)

// Document is a payable record (quotation or invoice). PaidAmount and
// BalanceAmount are a denormalized aggregate over the payments referencing
// the document; Version guards them against stale concurrent updates.
type Document struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DueDate       time.Time      `json:"due_date,omitzero"`
	GrandTotal    Amount         `json:"grand_total"`
	PaidAmount    Amount         `json:"paid_amount"`
	BalanceAmount Amount         `json:"balance_amount"`
	Status        DocumentStatus `json:"status"`
	Version       uint64         `json:"version"`
}

// Payment is a receipt or payment transaction. DocumentID is empty for
// standalone payments that do not apply against any document; their own
// balance is owned by the caller and never reconciled here.
type Payment struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DocumentID      string          `json:"document_id,omitempty"`
	Kind            PaymentKind     `json:"kind"`
	AmountPaid      Amount          `json:"amount_paid"`
	PaymentType     PaymentType     `json:"payment_type"`
	Date            time.Time       `json:"date"`
	Method          string          `json:"method,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	BankAccount     string          `json:"bank_account,omitempty"`
	ClearanceStatus ClearanceStatus `json:"clearance_status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Sequence        uint64          `json:"sequence"`
}

// Standalone reports whether the payment applies against no document.
func (p Payment) Standalone() bool { return p.DocumentID == "" }

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrOverpayment       = errors.New("payment exceeds remaining balance")
	ErrDocumentCancelled = errors.New("document is cancelled")
	ErrStaleVersion      = errors.New("document version is stale")
)

func newID() string {
	return ids.New()
}
