package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"paybook.org/internal/ids"
	"paybook.org/internal/ledger"
)

// Store implements ledger.Service on Postgres. Every paired document+payment
// mutation runs in a single serializable transaction with the document row
// locked, so the cached aggregate can never observe a half-applied payment.
type Store struct {
	db         *sql.DB
	reconciler ledger.Reconciler
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, reconciler: ledger.NewReconciler()}, nil
}

// NewWithDB wraps an existing pool; used by tests and by callers that manage
// the pool themselves.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, reconciler: ledger.NewReconciler()}
}

// SetReconciler overrides the default permissive reconciler.
func (s *Store) SetReconciler(r ledger.Reconciler) { s.reconciler = r }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const documentColumns = `id, created_at, updated_at, coalesce(due_date, 'epoch'::timestamptz), grand_total, paid_amount, balance_amount, status, version`

const paymentColumns = `id, created_at, updated_at, coalesce(document_id,''), kind, amount_paid, payment_type, date, coalesce(method,''), coalesce(reference_number,''), coalesce(bank_account,''), clearance_status, coalesce(idempotency_key,''), sequence`

func (s *Store) CreateDocument(ctx context.Context, grandTotal ledger.Amount, dueDate time.Time) (ledger.Document, error) {
	if grandTotal < 0 {
		return ledger.Document{}, ledger.ErrInvalidAmount
	}
	id := ids.New()
	now := time.Now().UTC()

	var due any
	if !dueDate.IsZero() {
		due = dueDate.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into documents(id, created_at, updated_at, due_date, grand_total, paid_amount, balance_amount, status, version)
		values ($1,$2,$2,$3,$4,0,$4,'pending',1)
	`, id, now, due, int64(grandTotal))
	if err != nil {
		return ledger.Document{}, err
	}

	return ledger.Document{
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		DueDate:       dueDate,
		GrandTotal:    grandTotal,
		BalanceAmount: grandTotal,
		Status:        ledger.StatusPending,
		Version:       1,
	}, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (ledger.Document, error) {
	row := s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1`, id)
	return scanDocument(row)
}

func (s *Store) CancelDocument(ctx context.Context, id string, ifVersion uint64) (ledger.Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Document{}, err
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := lockDocument(ctx, tx, id)
	if err != nil {
		return ledger.Document{}, err
	}
	if ifVersion != 0 && doc.Version != ifVersion {
		return ledger.Document{}, ledger.ErrStaleVersion
	}

	updated := ledger.Cancel(doc)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	if err := updateDocument(ctx, tx, updated); err != nil {
		return ledger.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Document{}, err
	}
	return updated, nil
}

func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update documents
		set status='overdue', version=version+1, updated_at=$2
		where status='pending' and due_date is not null and due_date < $1
	`, asOf.UTC(), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) ApplyPayment(ctx context.Context, in ledger.PaymentInput, idemKey string) (ledger.Payment, error) {
	if !in.AmountPaid.IsPositive() {
		return ledger.Payment{}, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return existing payment if idemKey already recorded
	if idemKey != "" {
		row := tx.QueryRowContext(ctx, `select `+paymentColumns+` from payments where idempotency_key=$1`, idemKey)
		p, err := scanPayment(row)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return ledger.Payment{}, err
		}
	}

	if in.DocumentID != "" {
		doc, err := lockDocument(ctx, tx, in.DocumentID)
		if err != nil {
			return ledger.Payment{}, err
		}
		updated, err := s.reconciler.Apply(doc, in.AmountPaid)
		if err != nil {
			return ledger.Payment{}, err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		if err := updateDocument(ctx, tx, updated); err != nil {
			return ledger.Payment{}, err
		}
	}

	now := time.Now().UTC()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	p := ledger.Payment{
		ID:              ids.New(),
		CreatedAt:       now,
		UpdatedAt:       now,
		DocumentID:      in.DocumentID,
		Kind:            normalizeKind(in.Kind),
		AmountPaid:      in.AmountPaid,
		PaymentType:     in.PaymentType,
		Date:            date,
		Method:          in.Method,
		ReferenceNumber: in.ReferenceNumber,
		BankAccount:     in.BankAccount,
		ClearanceStatus: ledger.ClearancePending,
		IdempotencyKey:  idemKey,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into payments(id, created_at, updated_at, document_id, kind, amount_paid, payment_type, date, method, reference_number, bank_account, clearance_status, idempotency_key)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,nullif($9,''),nullif($10,''),nullif($11,''),$12,nullif($13,''))
		returning sequence
	`, p.ID, p.CreatedAt, p.UpdatedAt, p.DocumentID, string(p.Kind), int64(p.AmountPaid), string(p.PaymentType),
		p.Date, p.Method, p.ReferenceNumber, p.BankAccount, string(p.ClearanceStatus), idemKey).Scan(&p.Sequence); err != nil {
		return ledger.Payment{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}

func (s *Store) EditPayment(ctx context.Context, id string, newAmount ledger.Amount, ifVersion uint64) (ledger.Payment, error) {
	if newAmount < 0 {
		return ledger.Payment{}, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := lockPayment(ctx, tx, id)
	if err != nil {
		return ledger.Payment{}, err
	}

	if !p.Standalone() {
		doc, err := lockDocument(ctx, tx, p.DocumentID)
		if err != nil {
			return ledger.Payment{}, err
		}
		if ifVersion != 0 && doc.Version != ifVersion {
			return ledger.Payment{}, ledger.ErrStaleVersion
		}
		updated, err := s.reconciler.Edit(doc, p.AmountPaid, newAmount)
		if err != nil {
			return ledger.Payment{}, err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		if err := updateDocument(ctx, tx, updated); err != nil {
			return ledger.Payment{}, err
		}
	}

	p.AmountPaid = newAmount
	p.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update payments set amount_paid=$2, updated_at=$3 where id=$1
	`, p.ID, int64(p.AmountPaid), p.UpdatedAt); err != nil {
		return ledger.Payment{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}

func (s *Store) ReversePayment(ctx context.Context, id string, ifVersion uint64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := lockPayment(ctx, tx, id)
	if err != nil {
		return err
	}

	if !p.Standalone() {
		doc, err := lockDocument(ctx, tx, p.DocumentID)
		if err != nil {
			return err
		}
		if ifVersion != 0 && doc.Version != ifVersion {
			return ledger.ErrStaleVersion
		}
		updated, err := s.reconciler.Reverse(doc, p.AmountPaid)
		if err != nil {
			return err
		}
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		if err := updateDocument(ctx, tx, updated); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from payments where id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetPayment(ctx context.Context, id string) (ledger.Payment, error) {
	row := s.db.QueryRowContext(ctx, `select `+paymentColumns+` from payments where id=$1`, id)
	return scanPayment(row)
}

func (s *Store) ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Payment, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+paymentColumns+`
		from payments
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Payment
	var last uint64
	for rows.Next() {
		p, err := scanPaymentRows(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, p)
		last = p.Sequence
	}
	return res, last, rows.Err()
}

func (s *Store) ToggleClearance(ctx context.Context, id string) (ledger.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := lockPayment(ctx, tx, id)
	if err != nil {
		return ledger.Payment{}, err
	}
	updated := ledger.ToggleClearance(p)
	updated.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update payments set clearance_status=$2, updated_at=$3 where id=$1
	`, updated.ID, string(updated.ClearanceStatus), updated.UpdatedAt); err != nil {
		return ledger.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Payment{}, err
	}
	return updated, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func lockDocument(ctx context.Context, tx *sql.Tx, id string) (ledger.Document, error) {
	row := tx.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1 for update`, id)
	return scanDocument(row)
}

func lockPayment(ctx context.Context, tx *sql.Tx, id string) (ledger.Payment, error) {
	row := tx.QueryRowContext(ctx, `select `+paymentColumns+` from payments where id=$1 for update`, id)
	return scanPayment(row)
}

func updateDocument(ctx context.Context, tx *sql.Tx, doc ledger.Document) error {
	_, err := tx.ExecContext(ctx, `
		update documents
		set paid_amount=$2, balance_amount=$3, status=$4, version=$5, updated_at=$6
		where id=$1
	`, doc.ID, int64(doc.PaidAmount), int64(doc.BalanceAmount), string(doc.Status), doc.Version, doc.UpdatedAt)
	return err
}

func scanDocument(row rowScanner) (ledger.Document, error) {
	var doc ledger.Document
	var grand, paid, balance int64
	var status string
	err := row.Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt, &doc.DueDate, &grand, &paid, &balance, &status, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Document{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Document{}, err
	}
	if doc.DueDate.Unix() == 0 {
		doc.DueDate = time.Time{}
	}
	doc.GrandTotal = ledger.Amount(grand)
	doc.PaidAmount = ledger.Amount(paid)
	doc.BalanceAmount = ledger.Amount(balance)
	doc.Status = ledger.DocumentStatus(status)
	return doc, nil
}

func scanPayment(row rowScanner) (ledger.Payment, error) {
	p, err := scanPaymentRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, ledger.ErrNotFound
	}
	return p, err
}

func scanPaymentRows(row rowScanner) (ledger.Payment, error) {
	var p ledger.Payment
	var kind, ptype, clearance string
	var amount int64
	err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.DocumentID, &kind, &amount, &ptype,
		&p.Date, &p.Method, &p.ReferenceNumber, &p.BankAccount, &clearance, &p.IdempotencyKey, &p.Sequence)
	if err != nil {
		return ledger.Payment{}, err
	}
	p.Kind = ledger.PaymentKind(kind)
	p.AmountPaid = ledger.Amount(amount)
	p.PaymentType = ledger.PaymentType(ptype)
	p.ClearanceStatus = ledger.ClearanceStatus(clearance)
	return p, nil
}

func normalizeKind(k ledger.PaymentKind) ledger.PaymentKind {
	if k == ledger.KindPayment {
		return ledger.KindPayment
	}
	return ledger.KindReceipt
}
