package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"paybook.org/internal/ledger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func documentRows(doc ledger.Document) *sqlmock.Rows {
	due := doc.DueDate
	if due.IsZero() {
		due = time.Unix(0, 0).UTC()
	}
	return sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "due_date", "grand_total",
		"paid_amount", "balance_amount", "status", "version",
	}).AddRow(doc.ID, doc.CreatedAt, doc.UpdatedAt, due, int64(doc.GrandTotal),
		int64(doc.PaidAmount), int64(doc.BalanceAmount), string(doc.Status), doc.Version)
}

func TestGetDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from documents where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetDocument(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyPaymentUpdatesDocumentInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	doc := ledger.Document{
		ID:            "doc-1",
		CreatedAt:     now,
		UpdatedAt:     now,
		GrandTotal:    5000,
		PaidAmount:    0,
		BalanceAmount: 5000,
		Status:        ledger.StatusPending,
		Version:       1,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from documents where id=.* for update").
		WithArgs("doc-1").
		WillReturnRows(documentRows(doc))
	mock.ExpectExec("update documents").
		WithArgs("doc-1", int64(2000), int64(3000), "partial", uint64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "doc-1", "receipt",
			int64(2000), "", sqlmock.AnyArg(), "", "", "", "pending", "").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(uint64(1)))
	mock.ExpectCommit()

	p, err := store.ApplyPayment(context.Background(), ledger.PaymentInput{
		DocumentID: "doc-1",
		AmountPaid: 2000,
	}, "")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if p.Sequence != 1 {
		t.Fatalf("unexpected sequence: %d", p.Sequence)
	}
	if p.Kind != ledger.KindReceipt {
		t.Fatalf("expected receipt default, got %s", p.Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyPaymentIdempotentReplay(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	existing := sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "document_id", "kind", "amount_paid",
		"payment_type", "date", "method", "reference_number", "bank_account",
		"clearance_status", "idempotency_key", "sequence",
	}).AddRow("pay-1", now, now, "doc-1", "receipt", int64(2000), "", now, "", "", "", "pending", "key-1", uint64(7))

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from payments where idempotency_key=").
		WithArgs("key-1").
		WillReturnRows(existing)
	mock.ExpectRollback()

	p, err := store.ApplyPayment(context.Background(), ledger.PaymentInput{
		DocumentID: "doc-1",
		AmountPaid: 2000,
	}, "key-1")
	if err != nil {
		t.Fatalf("ApplyPayment replay: %v", err)
	}
	if p.ID != "pay-1" || p.Sequence != 7 {
		t.Fatalf("expected stored payment returned, got %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancelDocumentStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	doc := ledger.Document{
		ID:            "doc-1",
		CreatedAt:     now,
		UpdatedAt:     now,
		GrandTotal:    1000,
		BalanceAmount: 1000,
		Status:        ledger.StatusPending,
		Version:       3,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from documents where id=.* for update").
		WithArgs("doc-1").
		WillReturnRows(documentRows(doc))
	mock.ExpectRollback()

	_, err := store.CancelDocument(context.Background(), "doc-1", 2)
	if !errors.Is(err, ledger.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReversePaymentRestoresDocument(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	payment := sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "document_id", "kind", "amount_paid",
		"payment_type", "date", "method", "reference_number", "bank_account",
		"clearance_status", "idempotency_key", "sequence",
	}).AddRow("pay-1", now, now, "doc-1", "receipt", int64(2000), "", now, "", "", "", "pending", "", uint64(1))

	doc := ledger.Document{
		ID:            "doc-1",
		CreatedAt:     now,
		UpdatedAt:     now,
		GrandTotal:    5000,
		PaidAmount:    2000,
		BalanceAmount: 3000,
		Status:        ledger.StatusPartial,
		Version:       2,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from payments where id=.* for update").
		WithArgs("pay-1").
		WillReturnRows(payment)
	mock.ExpectQuery("select .* from documents where id=.* for update").
		WithArgs("doc-1").
		WillReturnRows(documentRows(doc))
	mock.ExpectExec("update documents").
		WithArgs("doc-1", int64(0), int64(5000), "pending", uint64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from payments").
		WithArgs("pay-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ReversePayment(context.Background(), "pay-1", 0); err != nil {
		t.Fatalf("ReversePayment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkOverdueCountsRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update documents").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkOverdue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 marked, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
