package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

// Transition is a committed state change, delivered to observers after commit.
type Transition struct {
	Lease model.Lease
	From  workflow.State
	To    workflow.State
	Actor model.Actor
	Extra map[string]any
}

// Observer reacts to committed transitions. It must not block.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// WorkflowService exposes the lease state machine.
type WorkflowService interface {
	// CreateLease stores a new lease in draft or received state.
	CreateLease(ctx context.Context, in NewLease, actor model.Actor) (*model.Lease, error)
	// GetLease loads a lease.
	GetLease(ctx context.Context, leaseID uuid.UUID) (*model.Lease, error)
	// CanTransition reports whether the lease may move to target now.
	CanTransition(ctx context.Context, leaseID uuid.UUID, target workflow.State) (bool, error)
	// ValidNextStates lists the states the lease may move to now.
	ValidNextStates(ctx context.Context, leaseID uuid.UUID) ([]workflow.State, error)
	// TransitionTo executes one transition as its own unit of work. Transitions
	// owned by the approval and signing operations are refused.
	TransitionTo(ctx context.Context, leaseID uuid.UUID, target workflow.State, actor model.Actor, extra map[string]any) (*model.Lease, error)
}

// NewLease is the input for CreateLease.
type NewLease struct {
	ReferenceNumber string
	InitialState    workflow.State
	LandlordID      *uuid.UUID
	LandlordPhone   string
	TenantID        uuid.UUID
	TenantName      string
	TenantPhone     string
	TenantEmail     string
	MonthlyRent     int64
	DepositAmount   int64
	Currency        string
	StartDate       time.Time
	EndDate         time.Time
}

type StateMachineImpl struct {
	store     repository.Store
	audit     *AuditLog
	log       *zap.Logger
	now       Clock
	observers []Observer
}

// NewStateMachine constructs the state machine.
func NewStateMachine(store repository.Store, audit *AuditLog, log *zap.Logger, now Clock, observers ...Observer) *StateMachineImpl {
	return &StateMachineImpl{store: store, audit: audit, log: log, now: orClock(now), observers: observers}
}

// Subscribe registers an observer for committed transitions.
func (m *StateMachineImpl) Subscribe(o Observer) { m.observers = append(m.observers, o) }

// CreateLease validates and stores a new lease.
func (m *StateMachineImpl) CreateLease(ctx context.Context, in NewLease, actor model.Actor) (*model.Lease, error) {
	st := in.InitialState
	if st == "" {
		st = workflow.Draft
	}
	switch {
	case strings.TrimSpace(in.ReferenceNumber) == "":
		return nil, invalid("empty reference number")
	case st != workflow.Draft && st != workflow.Received:
		return nil, invalid("initial state %q", st)
	case in.TenantID == uuid.Nil:
		return nil, invalid("empty tenant id")
	case in.MonthlyRent < 0 || in.DepositAmount < 0:
		return nil, invalid("negative amount")
	case !in.EndDate.After(in.StartDate):
		return nil, invalid("end date must be after start date")
	}
	currency := in.Currency
	if currency == "" {
		currency = "KES"
	}
	now := m.now()
	l := &model.Lease{
		ID:              newID(),
		ReferenceNumber: in.ReferenceNumber,
		WorkflowState:   st,
		LandlordID:      in.LandlordID,
		LandlordPhone:   in.LandlordPhone,
		TenantID:        in.TenantID,
		TenantName:      in.TenantName,
		TenantPhone:     in.TenantPhone,
		TenantEmail:     in.TenantEmail,
		MonthlyRent:     in.MonthlyRent,
		DepositAmount:   in.DepositAmount,
		Currency:        currency,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		DocumentVersion: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := m.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertLease(ctx, l); err != nil {
			return err
		}
		return m.audit.Append(ctx, tx, l.ID, actor, AuditRecord{
			Action:      model.ActionCreated,
			NewState:    &st,
			Description: "Lease " + l.ReferenceNumber + " created",
		})
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetLease loads a lease.
func (m *StateMachineImpl) GetLease(ctx context.Context, leaseID uuid.UUID) (*model.Lease, error) {
	return m.store.GetLease(ctx, leaseID)
}

// CanTransition reports whether the lease may move to target now.
func (m *StateMachineImpl) CanTransition(ctx context.Context, leaseID uuid.UUID, target workflow.State) (bool, error) {
	l, err := m.store.GetLease(ctx, leaseID)
	if err != nil {
		return false, err
	}
	return workflow.CanTransition(l.WorkflowState, target), nil
}

// ValidNextStates lists the states the lease may move to now.
func (m *StateMachineImpl) ValidNextStates(ctx context.Context, leaseID uuid.UUID) ([]workflow.State, error) {
	l, err := m.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	return workflow.NextStates(l.WorkflowState), nil
}

// TransitionTo locks the lease, applies the transition and publishes it after commit.
func (m *StateMachineImpl) TransitionTo(
	ctx context.Context, leaseID uuid.UUID, target workflow.State, actor model.Actor, extra map[string]any,
) (*model.Lease, error) {
	var ev Transition
	err := m.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if reserved(l.WorkflowState, target) {
			return fmt.Errorf("lease %s: %s -> %s belongs to the approval or signing flow: %w",
				leaseID, l.WorkflowState, target, errs.ErrInvalidTransition)
		}
		ev, err = m.Apply(ctx, tx, l, target, actor, extra)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Publish(ctx, ev)
	return &ev.Lease, nil
}

// reserved reports transitions that only their owning operation may perform:
// the landlord decision leaves pending_landlord_approval, and the OTP and
// signature steps enter pending_otp and tenant_signed.
func reserved(from, to workflow.State) bool {
	switch {
	case to == workflow.PendingOTP || to == workflow.TenantSigned:
		return true
	case from == workflow.PendingLandlordApproval:
		return to == workflow.Approved || to == workflow.Cancelled
	}
	return false
}

// Apply validates from -> target against the table, writes the new state with a
// compare-and-set and appends one state_transition entry, all inside tx. The
// caller must hold the lease lock. lease is updated in place.
func (m *StateMachineImpl) Apply(
	ctx context.Context, tx repository.Tx, lease *model.Lease, target workflow.State, actor model.Actor, extra map[string]any,
) (Transition, error) {
	from := lease.WorkflowState
	if !workflow.CanTransition(from, target) {
		return Transition{}, fmt.Errorf("lease %s: %s -> %s: %w", lease.ID, from, target, errs.ErrInvalidTransition)
	}
	if err := tx.SetLeaseState(ctx, lease.ID, from, target); err != nil {
		return Transition{}, fmt.Errorf("lease %s: set state: %w", lease.ID, err)
	}
	err := m.audit.Append(ctx, tx, lease.ID, actor, AuditRecord{
		Action:      model.ActionStateTransition,
		OldState:    &from,
		NewState:    &target,
		Payload:     extra,
		Description: fmt.Sprintf("State changed from %s to %s", from.Label(), target.Label()),
	})
	if err != nil {
		return Transition{}, err
	}
	lease.WorkflowState = target
	lease.UpdatedAt = m.now()
	return Transition{Lease: *lease, From: from, To: target, Actor: actor, Extra: extra}, nil
}

// Publish hands committed transitions to observers.
func (m *StateMachineImpl) Publish(ctx context.Context, evs ...Transition) {
	ctx = detach(ctx)
	for _, ev := range evs {
		if ev.To == "" {
			continue
		}
		m.log.Info("lease transition",
			zap.String("lease_id", ev.Lease.ID.String()),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)),
			zap.String("actor_role", ev.Actor.Role),
		)
		for _, o := range m.observers {
			o.OnTransition(ctx, ev)
		}
	}
}
