package remote

import (
	"context"

	"paybook.org/internal/ledger"
	"paybook.org/internal/optimistic"
)

// DocumentMirror keeps a client-side copy of one document and applies payment
// mutations optimistically: the mirror shows the expected aggregate
// immediately, and a failed commit snaps it back to the server's state.
// Useful for interactive callers that render the document between requests.
type DocumentMirror struct {
	client *Client
	recon  ledger.Reconciler
	doc    ledger.Document
}

// NewDocumentMirror fetches the document and starts mirroring it.
func NewDocumentMirror(ctx context.Context, client *Client, documentID string) (*DocumentMirror, error) {
	doc, err := client.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentMirror{
		client: client,
		recon:  ledger.NewReconciler(),
		doc:    doc,
	}, nil
}

// Document returns the current mirrored state.
func (m *DocumentMirror) Document() ledger.Document {
	return m.doc
}

// Refresh replaces the mirror with the server's state.
func (m *DocumentMirror) Refresh(ctx context.Context) error {
	doc, err := m.client.GetDocument(ctx, m.doc.ID)
	if err != nil {
		return err
	}
	m.doc = doc
	return nil
}

// ApplyPayment records a new payment against the mirrored document. The
// commit carries the mirror's version, so a concurrent writer surfaces as
// ErrStaleVersion and the mirror reconciles to the server state.
func (m *DocumentMirror) ApplyPayment(ctx context.Context, in ledger.PaymentInput, idemKey string) error {
	in.DocumentID = m.doc.ID
	return m.run(ctx, optimistic.Update[ledger.Document]{
		Apply: func(d ledger.Document) ledger.Document {
			next, err := m.recon.Apply(d, in.AmountPaid)
			if err != nil {
				return d
			}
			next.Version++
			return next
		},
		Commit: func(ctx context.Context, _ ledger.Document) (ledger.Document, error) {
			if _, err := m.client.ApplyPayment(ctx, in, idemKey); err != nil {
				return ledger.Document{}, err
			}
			return m.client.GetDocument(ctx, m.doc.ID)
		},
	})
}

// EditPayment changes a payment's amount through the mirror.
func (m *DocumentMirror) EditPayment(ctx context.Context, payment ledger.Payment, newAmount ledger.Amount) error {
	return m.run(ctx, optimistic.Update[ledger.Document]{
		Apply: func(d ledger.Document) ledger.Document {
			next, err := m.recon.Edit(d, payment.AmountPaid, newAmount)
			if err != nil {
				return d
			}
			next.Version++
			return next
		},
		Commit: func(ctx context.Context, _ ledger.Document) (ledger.Document, error) {
			if _, err := m.client.EditPayment(ctx, payment.ID, newAmount, m.doc.Version); err != nil {
				return ledger.Document{}, err
			}
			return m.client.GetDocument(ctx, m.doc.ID)
		},
	})
}

func (m *DocumentMirror) run(ctx context.Context, u optimistic.Update[ledger.Document]) error {
	if u.Refetch == nil {
		u.Refetch = func(ctx context.Context) (ledger.Document, error) {
			return m.client.GetDocument(ctx, m.doc.ID)
		}
	}
	doc, err := optimistic.Run(ctx, m.doc, u)
	m.doc = doc
	return err
}
