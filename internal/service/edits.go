package service

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
)

// DefaultMaxEditBatch bounds a single RecordEditsBatch call.
const DefaultMaxEditBatch = 100

// EditService tracks changes to the lease document.
type EditService interface {
	// RecordEdit stores one edit and returns the new document version.
	RecordEdit(ctx context.Context, leaseID uuid.UUID, e model.Edit, actor model.Actor) (int, error)
	// RecordEditsBatch stores edits under a single new document version.
	RecordEditsBatch(ctx context.Context, leaseID uuid.UUID, edits []model.Edit, actor model.Actor) (int, error)
	// ListEdits returns the edit history, oldest first.
	ListEdits(ctx context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error)
}

type EditTracker struct {
	store    repository.Store
	audit    *AuditLog
	now      Clock
	maxBatch int
}

// NewEditTracker constructs EditService.
func NewEditTracker(store repository.Store, audit *AuditLog, now Clock) *EditTracker {
	return &EditTracker{store: store, audit: audit, now: orClock(now), maxBatch: DefaultMaxEditBatch}
}

// RecordEdit is RecordEditsBatch with one element.
func (t *EditTracker) RecordEdit(ctx context.Context, leaseID uuid.UUID, e model.Edit, actor model.Actor) (int, error) {
	return t.RecordEditsBatch(ctx, leaseID, []model.Edit{e}, actor)
}

// RecordEditsBatch bumps the version once and tags every row with it.
func (t *EditTracker) RecordEditsBatch(ctx context.Context, leaseID uuid.UUID, edits []model.Edit, actor model.Actor) (int, error) {
	if err := t.validate(edits); err != nil {
		return 0, err
	}
	var version int
	err := t.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockLease(ctx, leaseID); err != nil {
			return err
		}
		var err error
		version, err = t.recordInTx(ctx, tx, leaseID, edits, actor)
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (t *EditTracker) validate(edits []model.Edit) error {
	if len(edits) == 0 {
		return invalid("empty edit batch")
	}
	if len(edits) > t.maxBatch {
		return invalid("%d edits exceed batch limit %d", len(edits), t.maxBatch)
	}
	for i, e := range edits {
		if strings.TrimSpace(e.EditType) == "" {
			return invalid("edit %d: empty edit type", i)
		}
	}
	return nil
}

// recordInTx writes edits inside an existing unit. The caller holds the lease lock.
func (t *EditTracker) recordInTx(ctx context.Context, tx repository.Tx, leaseID uuid.UUID, edits []model.Edit, actor model.Actor) (int, error) {
	version, err := tx.BumpDocumentVersion(ctx, leaseID)
	if err != nil {
		return 0, err
	}
	now := t.now()
	rows := make([]model.LeaseEdit, 0, len(edits))
	types := make([]string, 0, len(edits))
	for _, e := range edits {
		rows = append(rows, model.LeaseEdit{
			ID:              newID(),
			LeaseID:         leaseID,
			Edit:            e,
			DocumentVersion: version,
			EditedBy:        actor.ID,
			CreatedAt:       now,
		})
		types = append(types, e.EditType)
	}
	if err := tx.InsertEdits(ctx, rows); err != nil {
		return 0, err
	}
	err = t.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
		Action: model.ActionEdited,
		Payload: map[string]any{
			"document_version": version,
			"count":            len(rows),
			"edit_types":       types,
		},
		Description: "Lease document edited",
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ListEdits returns the edit history.
func (t *EditTracker) ListEdits(ctx context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error) {
	if _, err := t.store.GetLease(ctx, leaseID); err != nil {
		return nil, err
	}
	return t.store.ListEdits(ctx, leaseID)
}
