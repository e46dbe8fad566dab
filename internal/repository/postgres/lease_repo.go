package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/limiter"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

const leaseCols = `id, reference_number, workflow_state, landlord_id, landlord_phone,
  tenant_id, tenant_name, tenant_phone, tenant_email,
  monthly_rent, deposit_amount, currency, start_date, end_date,
  document_version, serial_number, notes, created_at, updated_at`

func scanLease(row pgx.Row) (*model.Lease, error) {
	var (
		l        model.Lease
		st       string
		landlord uuid.NullUUID
	)
	if err := row.Scan(
		&l.ID, &l.ReferenceNumber, &st, &landlord, &l.LandlordPhone,
		&l.TenantID, &l.TenantName, &l.TenantPhone, &l.TenantEmail,
		&l.MonthlyRent, &l.DepositAmount, &l.Currency, &l.StartDate, &l.EndDate,
		&l.DocumentVersion, &l.SerialNumber, &l.Notes, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, notFound(err, errs.ErrNotFound)
	}
	l.WorkflowState = workflow.State(st)
	if landlord.Valid {
		id := landlord.UUID
		l.LandlordID = &id
	}
	return &l, nil
}

// GetLease selects a lease by ID.
func (r queries) GetLease(ctx context.Context, id uuid.UUID) (*model.Lease, error) {
	q := `SELECT ` + leaseCols + ` FROM leases WHERE id=$1`
	return scanLease(r.q.QueryRow(ctx, q, id))
}

// pgTx implements repository.Tx over an open transaction.
type pgTx struct {
	queries
	tx pgx.Tx
}

var _ repository.Tx = (*pgTx)(nil)

// LockLease selects a lease row FOR UPDATE.
func (t *pgTx) LockLease(ctx context.Context, id uuid.UUID) (*model.Lease, error) {
	q := `SELECT ` + leaseCols + ` FROM leases WHERE id=$1 FOR UPDATE`
	return scanLease(t.q.QueryRow(ctx, q, id))
}

// SetLeaseState updates workflow_state only if it still equals from.
func (t *pgTx) SetLeaseState(ctx context.Context, id uuid.UUID, from, to workflow.State) error {
	const q = `UPDATE leases SET workflow_state=$3, updated_at=now() WHERE id=$1 AND workflow_state=$2`
	tag, err := t.q.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrConflict
	}
	return nil
}

// BumpDocumentVersion increments document_version and returns the new value.
func (t *pgTx) BumpDocumentVersion(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `UPDATE leases SET document_version=document_version+1, updated_at=now() WHERE id=$1 RETURNING document_version`
	var v int
	if err := t.q.QueryRow(ctx, q, id).Scan(&v); err != nil {
		return 0, notFound(err, errs.ErrNotFound)
	}
	return v, nil
}

// UpdateLeaseTerms overwrites rent, deposit and dates.
func (t *pgTx) UpdateLeaseTerms(ctx context.Context, l *model.Lease) error {
	const q = `
UPDATE leases
SET monthly_rent=$2, deposit_amount=$3, start_date=$4, end_date=$5, updated_at=now()
WHERE id=$1`
	tag, err := t.q.Exec(ctx, q, l.ID, l.MonthlyRent, l.DepositAmount, l.StartDate, l.EndDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AppendLeaseNote appends note separated by a blank line.
func (t *pgTx) AppendLeaseNote(ctx context.Context, id uuid.UUID, note string) error {
	const q = `
UPDATE leases
SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n\n' || $2 END, updated_at=now()
WHERE id=$1`
	tag, err := t.q.Exec(ctx, q, id, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// OTPLimiter returns a rate limiter that writes through this transaction.
func (t *pgTx) OTPLimiter(window time.Duration) limiter.Limiter {
	return limiter.NewPGWithQuerier(t.tx, window)
}
