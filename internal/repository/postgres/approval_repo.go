package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
)

const approvalCols = `id, lease_id, landlord_id, decision, reviewed_by, reviewed_at,
  comments, rejection_reason, ip, user_agent, previous_data, created_at`

func scanApproval(row pgx.Row, missing error) (*model.Approval, error) {
	var (
		a        model.Approval
		decision *string
		reviewer uuid.NullUUID
		prev     []byte
	)
	if err := row.Scan(
		&a.ID, &a.LeaseID, &a.LandlordID, &decision, &reviewer, &a.ReviewedAt,
		&a.Comments, &a.RejectionReason, &a.IP, &a.UserAgent, &prev, &a.CreatedAt,
	); err != nil {
		return nil, notFound(err, missing)
	}
	if decision != nil {
		d := model.Decision(*decision)
		a.Decision = &d
	}
	if reviewer.Valid {
		id := reviewer.UUID
		a.ReviewedBy = &id
	}
	a.PreviousData = json.RawMessage(prev)
	return &a, nil
}

// PendingApproval returns the undecided approval for a lease.
func (r queries) PendingApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	q := `SELECT ` + approvalCols + ` FROM lease_approvals WHERE lease_id=$1 AND decision IS NULL`
	return scanApproval(r.q.QueryRow(ctx, q, leaseID), errs.ErrNoPendingApproval)
}

// LatestApproval returns the most recently created approval.
func (r queries) LatestApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	q := `SELECT ` + approvalCols + ` FROM lease_approvals WHERE lease_id=$1 ORDER BY created_at DESC LIMIT 1`
	return scanApproval(r.q.QueryRow(ctx, q, leaseID), errs.ErrNotFound)
}

// HasDecision reports whether any approval of the lease carries decision d.
func (r queries) HasDecision(ctx context.Context, leaseID uuid.UUID, d model.Decision) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM lease_approvals WHERE lease_id=$1 AND decision=$2)`
	var ok bool
	if err := r.q.QueryRow(ctx, q, leaseID, string(d)).Scan(&ok); err != nil {
		return false, fmt.Errorf("approval decision lookup: %w", err)
	}
	return ok, nil
}

// InsertApproval creates an approval row. The partial unique index on
// (lease_id) WHERE decision IS NULL rejects a second pending row.
func (t *pgTx) InsertApproval(ctx context.Context, a *model.Approval) error {
	const q = `
INSERT INTO lease_approvals (id, lease_id, landlord_id, decision, reviewed_by, reviewed_at,
  comments, rejection_reason, ip, user_agent, previous_data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := t.q.Exec(ctx, q,
		a.ID, a.LeaseID, a.LandlordID, decisionArg(a.Decision), a.ReviewedBy, a.ReviewedAt,
		a.Comments, a.RejectionReason, a.IP, a.UserAgent, []byte(a.PreviousData), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyPendingApproval
	}
	return err
}

// DecideApproval sets the decision only while it is still NULL.
func (t *pgTx) DecideApproval(ctx context.Context, a *model.Approval) error {
	const q = `
UPDATE lease_approvals
SET decision=$2, reviewed_by=$3, reviewed_at=$4, comments=$5, rejection_reason=$6, ip=$7, user_agent=$8
WHERE id=$1 AND decision IS NULL`
	tag, err := t.q.Exec(ctx, q,
		a.ID, decisionArg(a.Decision), a.ReviewedBy, a.ReviewedAt, a.Comments, a.RejectionReason, a.IP, a.UserAgent,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrConflict
	}
	return nil
}

func decisionArg(d *model.Decision) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}
