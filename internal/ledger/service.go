package ledger

import (
	"context"
	"sync"
	"time"
)

// PaymentInput carries the caller-supplied fields of a new payment.
// Descriptive fields (method, reference, bank account) have no computational
// role; AmountPaid is the single quantity that feeds the document aggregate.
type PaymentInput struct {
	DocumentID      string
	Kind            PaymentKind
	AmountPaid      Amount
	PaymentType     PaymentType
	Date            time.Time
	Method          string
	ReferenceNumber string
	BankAccount     string
}

// Service defines payment-ledger operations. ifVersion arguments implement
// optimistic concurrency on the document aggregate: callers pass the Version
// they read and stale writes fail with ErrStaleVersion. Zero skips the check.
type Service interface {
	CreateDocument(ctx context.Context, grandTotal Amount, dueDate time.Time) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	CancelDocument(ctx context.Context, id string, ifVersion uint64) (Document, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)

	ApplyPayment(ctx context.Context, in PaymentInput, idemKey string) (Payment, error)
	EditPayment(ctx context.Context, id string, newAmount Amount, ifVersion uint64) (Payment, error)
	ReversePayment(ctx context.Context, id string, ifVersion uint64) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]Payment, uint64, error)

	ToggleClearance(ctx context.Context, id string) (Payment, error)
}

// InMemory implements Service with in-process concurrency safety. The
// document mutex plays the role the row lock plays in the Postgres store:
// the paired document+payment mutation is atomic under it.
type InMemory struct {
	mu         sync.RWMutex
	reconciler Reconciler
	docs       map[string]*Document
	payments   map[string]*Payment
	seq        uint64
	order      []string           // payment IDs in sequence order
	idem       map[string]Payment // idemKey -> payment
}

// NewInMemory creates a fresh ledger with permissive overpayment handling.
func NewInMemory() *InMemory {
	return NewInMemoryWith(NewReconciler())
}

// NewInMemoryWith creates a ledger using the provided reconciler config.
func NewInMemoryWith(r Reconciler) *InMemory {
	return &InMemory{
		reconciler: r,
		docs:       make(map[string]*Document),
		payments:   make(map[string]*Payment),
		idem:       make(map[string]Payment),
	}
}

func (s *InMemory) CreateDocument(ctx context.Context, grandTotal Amount, dueDate time.Time) (Document, error) {
	if grandTotal < 0 {
		return Document{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	doc := &Document{
		ID:            newID(),
		CreatedAt:     now,
		UpdatedAt:     now,
		DueDate:       dueDate,
		GrandTotal:    grandTotal,
		PaidAmount:    0,
		BalanceAmount: grandTotal,
		Status:        StatusPending,
		Version:       1,
	}
	s.docs[doc.ID] = doc
	return *doc, nil
}

func (s *InMemory) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (s *InMemory) CancelDocument(ctx context.Context, id string, ifVersion uint64) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if ifVersion != 0 && doc.Version != ifVersion {
		return Document{}, ErrStaleVersion
	}
	updated := Cancel(*doc)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	*doc = updated
	return updated, nil
}

func (s *InMemory) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, doc := range s.docs {
		if doc.Status != StatusPending || doc.DueDate.IsZero() || !doc.DueDate.Before(asOf) {
			continue
		}
		updated := MarkOverdue(*doc)
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		*doc = updated
		n++
	}
	return n, nil
}

func (s *InMemory) ApplyPayment(ctx context.Context, in PaymentInput, idemKey string) (Payment, error) {
	if !in.AmountPaid.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if p, ok := s.idem[idemKey]; ok {
			return p, nil
		}
	}

	if in.DocumentID != "" {
		doc, ok := s.docs[in.DocumentID]
		if !ok {
			return Payment{}, ErrNotFound
		}
		updated, err := s.reconciler.Apply(*doc, in.AmountPaid)
		if err != nil {
			return Payment{}, err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		*doc = updated
	}

	now := time.Now().UTC()
	s.seq++
	p := &Payment{
		ID:              newID(),
		CreatedAt:       now,
		UpdatedAt:       now,
		DocumentID:      in.DocumentID,
		Kind:            normalizeKind(in.Kind),
		AmountPaid:      in.AmountPaid,
		PaymentType:     in.PaymentType,
		Date:            in.Date,
		Method:          in.Method,
		ReferenceNumber: in.ReferenceNumber,
		BankAccount:     in.BankAccount,
		ClearanceStatus: ClearancePending,
		IdempotencyKey:  idemKey,
		Sequence:        s.seq,
	}
	s.payments[p.ID] = p
	s.order = append(s.order, p.ID)
	if idemKey != "" {
		s.idem[idemKey] = *p
	}
	return *p, nil
}

func (s *InMemory) EditPayment(ctx context.Context, id string, newAmount Amount, ifVersion uint64) (Payment, error) {
	if newAmount < 0 {
		return Payment{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}

	if !p.Standalone() {
		doc, ok := s.docs[p.DocumentID]
		if !ok {
			return Payment{}, ErrNotFound
		}
		if ifVersion != 0 && doc.Version != ifVersion {
			return Payment{}, ErrStaleVersion
		}
		updated, err := s.reconciler.Edit(*doc, p.AmountPaid, newAmount)
		if err != nil {
			return Payment{}, err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		*doc = updated
	}

	p.AmountPaid = newAmount
	p.UpdatedAt = time.Now().UTC()
	return *p, nil
}

func (s *InMemory) ReversePayment(ctx context.Context, id string, ifVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}

	if !p.Standalone() {
		doc, ok := s.docs[p.DocumentID]
		if !ok {
			return ErrNotFound
		}
		if ifVersion != 0 && doc.Version != ifVersion {
			return ErrStaleVersion
		}
		updated, err := s.reconciler.Reverse(*doc, p.AmountPaid)
		if err != nil {
			return err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		*doc = updated
	}

	delete(s.payments, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if p.IdempotencyKey != "" {
		delete(s.idem, p.IdempotencyKey)
	}
	return nil
}

func (s *InMemory) GetPayment(ctx context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]Payment, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Payment
	var last uint64
	for _, id := range s.order {
		p := s.payments[id]
		if p.Sequence <= afterSeq {
			continue
		}
		res = append(res, *p)
		last = p.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func (s *InMemory) ToggleClearance(ctx context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	updated := ToggleClearance(*p)
	updated.UpdatedAt = time.Now().UTC()
	*p = updated
	return updated, nil
}

func normalizeKind(k PaymentKind) PaymentKind {
	if k == KindPayment {
		return KindPayment
	}
	return KindReceipt
}
