package memory

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
)

// Live state is replaced, never mutated, after a unit commits, so a captured
// *state can be read without holding the store lock.

func (s *state) GetLease(_ context.Context, id uuid.UUID) (*model.Lease, error) {
	l, ok := s.leases[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &l, nil
}

func (s *state) PendingApproval(_ context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	for i := len(s.approvals) - 1; i >= 0; i-- {
		a := s.approvals[i]
		if a.LeaseID == leaseID && a.Pending() {
			return &a, nil
		}
	}
	return nil, errs.ErrNoPendingApproval
}

func (s *state) LatestApproval(_ context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	var best *model.Approval
	for i := range s.approvals {
		a := s.approvals[i]
		if a.LeaseID == leaseID && (best == nil || !a.CreatedAt.Before(best.CreatedAt)) {
			best = &a
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (s *state) HasDecision(_ context.Context, leaseID uuid.UUID, d model.Decision) (bool, error) {
	for _, a := range s.approvals {
		if a.LeaseID == leaseID && a.Decision != nil && *a.Decision == d {
			return true, nil
		}
	}
	return false, nil
}

func (s *state) LatestOTP(_ context.Context, leaseID uuid.UUID, purpose string) (*model.OTP, error) {
	var best *model.OTP
	for i := range s.otps {
		o := s.otps[i]
		if o.LeaseID == leaseID && o.Purpose == purpose && (best == nil || !o.CreatedAt.Before(best.CreatedAt)) {
			best = &o
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (s *state) LatestVerifiedOTP(_ context.Context, leaseID uuid.UUID, purpose string, since time.Time) (*model.OTP, error) {
	var best *model.OTP
	for i := range s.otps {
		o := s.otps[i]
		if o.LeaseID != leaseID || o.Purpose != purpose || !o.Verified || o.VerifiedAt == nil {
			continue
		}
		if o.VerifiedAt.Before(since) {
			continue
		}
		if best == nil || !o.VerifiedAt.Before(*best.VerifiedAt) {
			best = &o
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (s *state) LatestSignature(_ context.Context, leaseID uuid.UUID) (*model.Signature, error) {
	var best *model.Signature
	for i := range s.signatures {
		sg := s.signatures[i]
		if sg.LeaseID == leaseID && (best == nil || !sg.SignedAt.Before(best.SignedAt)) {
			best = &sg
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (s *state) ListAudit(_ context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	for _, e := range s.audit {
		if e.LeaseID == leaseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) ListEdits(_ context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error) {
	var out []model.LeaseEdit
	for _, e := range s.edits {
		if e.LeaseID == leaseID {
			out = append(out, e)
		}
	}
	return out, nil
}
