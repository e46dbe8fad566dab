package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
)

// queries implements repository.Reader over any querier.
type queries struct{ q querier }

// Store implements repository.Store using PostgreSQL.
type Store struct {
	queries
	db *DB
}

var _ repository.Store = (*Store)(nil)

// NewStore constructs a lease store.
func NewStore(db *DB) *Store { return &Store{queries: queries{q: db.Pool}, db: db} }

// Atomic runs fn inside a single transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	return fn(ctx, &pgTx{queries: queries{q: tx}, tx: tx})
}

// InsertLease inserts a new lease row.
func (t *pgTx) InsertLease(ctx context.Context, l *model.Lease) error {
	const q = `
INSERT INTO leases (id, reference_number, workflow_state, landlord_id, landlord_phone,
  tenant_id, tenant_name, tenant_phone, tenant_email,
  monthly_rent, deposit_amount, currency, start_date, end_date,
  document_version, serial_number, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	if l.DocumentVersion == 0 {
		l.DocumentVersion = 1
	}
	_, err := t.q.Exec(ctx, q,
		l.ID, l.ReferenceNumber, string(l.WorkflowState), l.LandlordID, l.LandlordPhone,
		l.TenantID, l.TenantName, l.TenantPhone, l.TenantEmail,
		l.MonthlyRent, l.DepositAmount, l.Currency, l.StartDate, l.EndDate,
		l.DocumentVersion, l.SerialNumber, l.Notes,
	)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// notFound maps pgx.ErrNoRows to target, passing other errors through.
func notFound(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}
