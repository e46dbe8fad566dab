package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

// TermsChange carries the terms a dispute resolution changes. Nil fields stay as they are.
type TermsChange struct {
	MonthlyRent   *int64
	DepositAmount *int64
	StartDate     *time.Time
	EndDate       *time.Time
}

// DisputeService handles tenant objections raised during signing.
type DisputeService interface {
	// Dispute moves an unsigned lease out for signing to disputed.
	Dispute(ctx context.Context, leaseID uuid.UUID, reason model.DisputeReason, comment string, actor model.Actor) (*model.Lease, error)
	// ResolveDispute applies changed terms as one edit batch, returns the lease to
	// sent_digital and sends a fresh signing link.
	ResolveDispute(ctx context.Context, leaseID uuid.UUID, change TermsChange, notes string, actor model.Actor) (*model.Lease, error)
	// CancelDispute cancels a disputed lease.
	CancelDispute(ctx context.Context, leaseID uuid.UUID, notes string, actor model.Actor) (*model.Lease, error)
}

type DisputeServiceImpl struct {
	store   repository.Store
	sm      *StateMachineImpl
	audit   *AuditLog
	edits   *EditTracker
	signing *SigningServiceImpl
	now     Clock
	log     *zap.Logger
}

// NewDisputeService constructs DisputeService.
func NewDisputeService(
	store repository.Store, sm *StateMachineImpl, audit *AuditLog, edits *EditTracker,
	signing *SigningServiceImpl, now Clock, log *zap.Logger,
) *DisputeServiceImpl {
	return &DisputeServiceImpl{
		store: store, sm: sm, audit: audit, edits: edits,
		signing: signing, now: orClock(now), log: log,
	}
}

// Dispute records the tenant's objection.
func (s *DisputeServiceImpl) Dispute(
	ctx context.Context, leaseID uuid.UUID, reason model.DisputeReason, comment string, actor model.Actor,
) (*model.Lease, error) {
	if !reason.Valid() {
		return nil, invalid("dispute reason %q", reason)
	}
	var ev Transition
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if !workflow.CanDispute(l.WorkflowState) {
			return fmt.Errorf("lease %s in %s: %w", leaseID, l.WorkflowState, errs.ErrInvalidTransition)
		}
		if _, err := tx.LatestSignature(ctx, leaseID); err == nil {
			return fmt.Errorf("lease %s: %w", leaseID, errs.ErrAlreadySigned)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}

		note := fmt.Sprintf("[%s] Tenant dispute: %s", s.now().Format(time.DateTime), reason.Label())
		if c := strings.TrimSpace(comment); c != "" {
			note += ". " + c
		}
		if err := tx.AppendLeaseNote(ctx, leaseID, note); err != nil {
			return err
		}
		extra := map[string]any{"reason": string(reason)}
		if ev, err = s.sm.Apply(ctx, tx, l, workflow.Disputed, actor, extra); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action:      model.ActionDisputed,
			Payload:     map[string]any{"reason": string(reason), "comment": comment},
			Description: "Tenant disputed lease: " + reason.Label(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)
	return &ev.Lease, nil
}

func termEdits(l *model.Lease, c TermsChange) []model.Edit {
	var out []model.Edit
	money := func(section string, cur *int64, next *int64) {
		if next == nil || *next == *cur {
			return
		}
		out = append(out, model.Edit{
			EditType:     "amount_change",
			Section:      section,
			OriginalText: notify.FormatAmount(*cur),
			NewText:      notify.FormatAmount(*next),
			Reason:       "dispute resolution",
		})
		*cur = *next
	}
	date := func(section string, cur *time.Time, next *time.Time) {
		if next == nil || next.Equal(*cur) {
			return
		}
		out = append(out, model.Edit{
			EditType:     "date_change",
			Section:      section,
			OriginalText: cur.Format(time.DateOnly),
			NewText:      next.Format(time.DateOnly),
			Reason:       "dispute resolution",
		})
		*cur = *next
	}
	money("monthly_rent", &l.MonthlyRent, c.MonthlyRent)
	money("deposit_amount", &l.DepositAmount, c.DepositAmount)
	date("start_date", &l.StartDate, c.StartDate)
	date("end_date", &l.EndDate, c.EndDate)
	return out
}

// ResolveDispute applies the change and re-sends the signing link after commit.
// A failed send is logged; the resolution stands.
func (s *DisputeServiceImpl) ResolveDispute(
	ctx context.Context, leaseID uuid.UUID, change TermsChange, notes string, actor model.Actor,
) (*model.Lease, error) {
	var ev Transition
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if l.WorkflowState != workflow.Disputed {
			return fmt.Errorf("lease %s in %s: %w", leaseID, l.WorkflowState, errs.ErrInvalidTransition)
		}
		edits := termEdits(l, change)
		if !l.EndDate.After(l.StartDate) {
			return invalid("end date must be after start date")
		}
		if l.MonthlyRent < 0 || l.DepositAmount < 0 {
			return invalid("negative amount")
		}
		version := l.DocumentVersion
		if len(edits) > 0 {
			if err := tx.UpdateLeaseTerms(ctx, l); err != nil {
				return err
			}
			if version, err = s.edits.recordInTx(ctx, tx, leaseID, edits, actor); err != nil {
				return err
			}
			l.DocumentVersion = version
		}
		if n := strings.TrimSpace(notes); n != "" {
			if err := tx.AppendLeaseNote(ctx, leaseID, fmt.Sprintf("[%s] Dispute resolved: %s", s.now().Format(time.DateTime), n)); err != nil {
				return err
			}
		}
		if ev, err = s.sm.Apply(ctx, tx, l, workflow.SentDigital, actor, nil); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action: model.ActionDisputeResolved,
			Payload: map[string]any{
				"notes":            notes,
				"changes":          len(edits),
				"document_version": version,
			},
			Description: "Dispute resolved, lease re-sent for signing",
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)

	if err := s.signing.SendSigningLink(detach(ctx), leaseID, ""); err != nil {
		s.log.Warn("signing link after dispute resolution", zap.String("lease_id", leaseID.String()), zap.Error(err))
	}
	return &ev.Lease, nil
}

// CancelDispute cancels a disputed lease.
func (s *DisputeServiceImpl) CancelDispute(ctx context.Context, leaseID uuid.UUID, notes string, actor model.Actor) (*model.Lease, error) {
	var ev Transition
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if l.WorkflowState != workflow.Disputed {
			return fmt.Errorf("lease %s in %s: %w", leaseID, l.WorkflowState, errs.ErrInvalidTransition)
		}
		if n := strings.TrimSpace(notes); n != "" {
			if err := tx.AppendLeaseNote(ctx, leaseID, fmt.Sprintf("[%s] Dispute cancelled: %s", s.now().Format(time.DateTime), n)); err != nil {
				return err
			}
		}
		if ev, err = s.sm.Apply(ctx, tx, l, workflow.Cancelled, actor, map[string]any{"reason": "dispute cancelled"}); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action:      model.ActionDisputeCancelled,
			Payload:     map[string]any{"notes": notes},
			Description: "Disputed lease cancelled",
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)
	return &ev.Lease, nil
}
