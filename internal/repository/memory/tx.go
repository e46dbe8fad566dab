package memory

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/limiter"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

type tx struct{ *state }

var _ repository.Tx = (*tx)(nil)

func (t *tx) InsertLease(_ context.Context, l *model.Lease) error {
	if _, ok := t.leases[l.ID]; ok {
		return errs.ErrConflict
	}
	for _, e := range t.leases {
		if e.ReferenceNumber == l.ReferenceNumber {
			return errs.ErrConflict
		}
	}
	if l.DocumentVersion == 0 {
		l.DocumentVersion = 1
	}
	t.leases[l.ID] = *l
	return nil
}

func (t *tx) LockLease(ctx context.Context, id uuid.UUID) (*model.Lease, error) {
	return t.GetLease(ctx, id)
}

func (t *tx) SetLeaseState(_ context.Context, id uuid.UUID, from, to workflow.State) error {
	l, ok := t.leases[id]
	if !ok {
		return errs.ErrNotFound
	}
	if l.WorkflowState != from {
		return errs.ErrConflict
	}
	l.WorkflowState = to
	l.UpdatedAt = time.Now()
	t.leases[id] = l
	return nil
}

func (t *tx) BumpDocumentVersion(_ context.Context, id uuid.UUID) (int, error) {
	l, ok := t.leases[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	l.DocumentVersion++
	t.leases[id] = l
	return l.DocumentVersion, nil
}

func (t *tx) UpdateLeaseTerms(_ context.Context, in *model.Lease) error {
	l, ok := t.leases[in.ID]
	if !ok {
		return errs.ErrNotFound
	}
	l.MonthlyRent = in.MonthlyRent
	l.DepositAmount = in.DepositAmount
	l.StartDate = in.StartDate
	l.EndDate = in.EndDate
	t.leases[in.ID] = l
	return nil
}

func (t *tx) AppendLeaseNote(_ context.Context, id uuid.UUID, note string) error {
	l, ok := t.leases[id]
	if !ok {
		return errs.ErrNotFound
	}
	if l.Notes != "" {
		l.Notes += "\n\n"
	}
	l.Notes += note
	t.leases[id] = l
	return nil
}

func (t *tx) InsertApproval(_ context.Context, a *model.Approval) error {
	if a.Pending() {
		for _, e := range t.approvals {
			if e.LeaseID == a.LeaseID && e.Pending() {
				return errs.ErrAlreadyPendingApproval
			}
		}
	}
	t.approvals = append(t.approvals, *a)
	return nil
}

func (t *tx) DecideApproval(_ context.Context, a *model.Approval) error {
	for i, e := range t.approvals {
		if e.ID != a.ID {
			continue
		}
		if !e.Pending() {
			return errs.ErrConflict
		}
		t.approvals[i] = *a
		return nil
	}
	return errs.ErrNotFound
}

func (t *tx) OTPLimiter(window time.Duration) limiter.Limiter {
	l, ok := t.limits[window]
	if !ok {
		l = limiter.NewMemory(window)
		t.limits[window] = l
	}
	return l
}

func (t *tx) InsertOTP(_ context.Context, o *model.OTP) error {
	t.otps = append(t.otps, *o)
	return nil
}

func (t *tx) UpdateOTP(_ context.Context, o *model.OTP) error {
	for i := range t.otps {
		if t.otps[i].ID == o.ID {
			t.otps[i] = *o
			return nil
		}
	}
	return errs.ErrNotFound
}

func (t *tx) ExpireOpenOTPs(_ context.Context, leaseID uuid.UUID, purpose string, now time.Time) (int, error) {
	n := 0
	for i, o := range t.otps {
		if o.LeaseID == leaseID && o.Purpose == purpose && o.Open(now) {
			t.otps[i].Expired = true
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertSignature(_ context.Context, s *model.Signature) error {
	t.signatures = append(t.signatures, *s)
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	t.audit = append(t.audit, *e)
	return nil
}

func (t *tx) InsertEdits(_ context.Context, edits []model.LeaseEdit) error {
	t.edits = append(t.edits, edits...)
	return nil
}
