package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

// AuditRecord is the caller-supplied part of an audit entry.
type AuditRecord struct {
	Action      string
	OldState    *workflow.State
	NewState    *workflow.State
	Payload     any
	Description string
}

// AuditLog appends immutable audit entries. It has no update or delete path.
type AuditLog struct {
	store repository.Reader
	now   Clock
}

// NewAuditLog constructs the audit log.
func NewAuditLog(store repository.Reader, now Clock) *AuditLog {
	return &AuditLog{store: store, now: orClock(now)}
}

// Append writes one entry inside tx, attributed to actor.
func (a *AuditLog) Append(ctx context.Context, tx repository.Tx, leaseID uuid.UUID, actor model.Actor, rec AuditRecord) error {
	var payload json.RawMessage
	if rec.Payload != nil {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("audit payload: %w", err)
		}
		payload = b
	}
	role := actor.Role
	if role == "" {
		role = model.RoleSystem
	}
	e := &model.AuditEntry{
		ID:          newID(),
		LeaseID:     leaseID,
		Action:      rec.Action,
		OldState:    rec.OldState,
		NewState:    rec.NewState,
		ActorID:     actor.ID,
		ActorRole:   role,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
		Payload:     payload,
		Description: rec.Description,
		CreatedAt:   a.now(),
	}
	return tx.AppendAudit(ctx, e)
}

// List returns the audit trail of a lease, oldest first.
func (a *AuditLog) List(ctx context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error) {
	if _, err := a.store.GetLease(ctx, leaseID); err != nil {
		return nil, err
	}
	return a.store.ListAudit(ctx, leaseID)
}
