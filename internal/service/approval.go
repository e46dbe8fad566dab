package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

// ApprovalService drives the landlord approval cycle.
type ApprovalService interface {
	// RequestApproval opens an approval request and moves the lease to pending_landlord_approval.
	RequestApproval(ctx context.Context, leaseID uuid.UUID, actor model.Actor) (*model.Approval, error)
	// Approve decides the pending request as approved and moves the lease to approved.
	Approve(ctx context.Context, leaseID uuid.UUID, comments string, actor model.Actor) (*model.Approval, error)
	// Reject decides the pending request as rejected and cancels the lease.
	Reject(ctx context.Context, leaseID uuid.UUID, reason, comments string, actor model.Actor) (*model.Approval, error)
	// PendingApproval returns the open request; errs.ErrNoPendingApproval if none.
	PendingApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error)
}

type ApprovalServiceImpl struct {
	store repository.Store
	sm    *StateMachineImpl
	audit *AuditLog
	now   Clock
}

// NewApprovalService constructs ApprovalService.
func NewApprovalService(store repository.Store, sm *StateMachineImpl, audit *AuditLog, now Clock) *ApprovalServiceImpl {
	return &ApprovalServiceImpl{store: store, sm: sm, audit: audit, now: orClock(now)}
}

type termsSnapshot struct {
	WorkflowState workflow.State `json:"workflow_state"`
	MonthlyRent   int64          `json:"monthly_rent"`
	DepositAmount int64          `json:"deposit_amount"`
	Currency      string         `json:"currency"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	Version       int            `json:"document_version"`
}

func snapshot(l *model.Lease) json.RawMessage {
	b, _ := json.Marshal(termsSnapshot{
		WorkflowState: l.WorkflowState,
		MonthlyRent:   l.MonthlyRent,
		DepositAmount: l.DepositAmount,
		Currency:      l.Currency,
		StartDate:     l.StartDate.Format("2006-01-02"),
		EndDate:       l.EndDate.Format("2006-01-02"),
		Version:       l.DocumentVersion,
	})
	return b
}

// RequestApproval opens an approval request. The pending-uniqueness rule is
// enforced by the store on insert, not by the read that precedes it.
func (s *ApprovalServiceImpl) RequestApproval(ctx context.Context, leaseID uuid.UUID, actor model.Actor) (*model.Approval, error) {
	var (
		a  *model.Approval
		ev Transition
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if !l.HasLandlord() {
			return fmt.Errorf("lease %s: %w", leaseID, errs.ErrNoLandlord)
		}
		if _, err := tx.PendingApproval(ctx, leaseID); err == nil {
			return fmt.Errorf("lease %s: %w", leaseID, errs.ErrAlreadyPendingApproval)
		} else if !errors.Is(err, errs.ErrNoPendingApproval) {
			return err
		}

		prev := snapshot(l)
		if ev, err = s.sm.Apply(ctx, tx, l, workflow.PendingLandlordApproval, actor, nil); err != nil {
			return err
		}
		a = &model.Approval{
			ID:           newID(),
			LeaseID:      leaseID,
			LandlordID:   *l.LandlordID,
			IP:           actor.IP,
			UserAgent:    actor.UserAgent,
			PreviousData: prev,
			CreatedAt:    s.now(),
		}
		if err := tx.InsertApproval(ctx, a); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action:      model.ActionApprovalRequested,
			Payload:     map[string]any{"approval_id": a.ID.String(), "landlord_id": a.LandlordID.String()},
			Description: "Approval requested from landlord",
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)
	return a, nil
}

// Approve records an approved decision.
func (s *ApprovalServiceImpl) Approve(ctx context.Context, leaseID uuid.UUID, comments string, actor model.Actor) (*model.Approval, error) {
	return s.decide(ctx, leaseID, model.DecisionApproved, "", comments, actor)
}

// Reject records a rejected decision; reason is required.
func (s *ApprovalServiceImpl) Reject(ctx context.Context, leaseID uuid.UUID, reason, comments string, actor model.Actor) (*model.Approval, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("empty rejection reason")
	}
	return s.decide(ctx, leaseID, model.DecisionRejected, reason, comments, actor)
}

func (s *ApprovalServiceImpl) decide(
	ctx context.Context, leaseID uuid.UUID, d model.Decision, reason, comments string, actor model.Actor,
) (*model.Approval, error) {
	var (
		a  *model.Approval
		ev Transition
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		decided, err := tx.HasDecision(ctx, leaseID, d)
		if err != nil {
			return err
		}
		if decided {
			if d == model.DecisionApproved {
				return fmt.Errorf("lease %s: %w", leaseID, errs.ErrAlreadyApproved)
			}
			return fmt.Errorf("lease %s: %w", leaseID, errs.ErrAlreadyRejected)
		}

		a, err = s.pendingOrNew(ctx, tx, l, actor)
		if err != nil {
			return err
		}

		target, extra := workflow.Approved, map[string]any(nil)
		if d == model.DecisionRejected {
			target, extra = workflow.Cancelled, map[string]any{"reason": reason}
		}
		if ev, err = s.sm.Apply(ctx, tx, l, target, actor, extra); err != nil {
			return err
		}

		now := s.now()
		a.Decision = &d
		a.ReviewedBy = actor.ID
		a.ReviewedAt = &now
		a.Comments = comments
		a.RejectionReason = reason
		a.IP = actor.IP
		a.UserAgent = actor.UserAgent
		if err := tx.DecideApproval(ctx, a); err != nil {
			return err
		}

		rec := AuditRecord{
			Action:      model.ActionApproved,
			Payload:     map[string]any{"approval_id": a.ID.String(), "comments": comments},
			Description: "Lease approved by landlord",
		}
		if d == model.DecisionRejected {
			rec = AuditRecord{
				Action:      model.ActionRejected,
				Payload:     map[string]any{"approval_id": a.ID.String(), "reason": reason, "comments": comments},
				Description: "Lease rejected by landlord: " + reason,
			}
		}
		return s.audit.Append(ctx, tx, leaseID, actor, rec)
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)
	return a, nil
}

// pendingOrNew returns the open request, creating one when a decision arrives without it.
func (s *ApprovalServiceImpl) pendingOrNew(ctx context.Context, tx repository.Tx, l *model.Lease, actor model.Actor) (*model.Approval, error) {
	a, err := tx.PendingApproval(ctx, l.ID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, errs.ErrNoPendingApproval) {
		return nil, err
	}
	if !l.HasLandlord() {
		return nil, fmt.Errorf("lease %s: %w", l.ID, errs.ErrNoLandlord)
	}
	a = &model.Approval{
		ID:           newID(),
		LeaseID:      l.ID,
		LandlordID:   *l.LandlordID,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
		PreviousData: snapshot(l),
		CreatedAt:    s.now(),
	}
	if err := tx.InsertApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// PendingApproval returns the open request for a lease.
func (s *ApprovalServiceImpl) PendingApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	if _, err := s.store.GetLease(ctx, leaseID); err != nil {
		return nil, err
	}
	return s.store.PendingApproval(ctx, leaseID)
}
