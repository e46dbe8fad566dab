// Package memory is an in-process repository.Store used by tests and local runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/limiter"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
)

type state struct {
	leases     map[uuid.UUID]model.Lease
	approvals  []model.Approval
	otps       []model.OTP
	signatures []model.Signature
	audit      []model.AuditEntry
	edits      []model.LeaseEdit
	limits     map[time.Duration]*limiter.Memory
}

func newState() *state {
	return &state{
		leases: make(map[uuid.UUID]model.Lease),
		limits: make(map[time.Duration]*limiter.Memory),
	}
}

func (s *state) clone() *state {
	c := &state{
		leases:     maps.Clone(s.leases),
		approvals:  slices.Clone(s.approvals),
		otps:       slices.Clone(s.otps),
		signatures: slices.Clone(s.signatures),
		audit:      slices.Clone(s.audit),
		edits:      slices.Clone(s.edits),
		limits:     make(map[time.Duration]*limiter.Memory, len(s.limits)),
	}
	for w, l := range s.limits {
		c.limits[w] = l.Clone()
	}
	return c
}

// Store keeps all data in memory. Units of work run one at a time against a
// private copy that replaces the live state only when the unit succeeds.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store { return &Store{st: newState()} }

// Atomic implements repository.Store. fn must not call back into the Store itself.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read() *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// GetLease implements repository.Reader.
func (s *Store) GetLease(ctx context.Context, id uuid.UUID) (*model.Lease, error) {
	return s.read().GetLease(ctx, id)
}

// PendingApproval implements repository.Reader.
func (s *Store) PendingApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	return s.read().PendingApproval(ctx, leaseID)
}

// LatestApproval implements repository.Reader.
func (s *Store) LatestApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error) {
	return s.read().LatestApproval(ctx, leaseID)
}

func (s *Store) HasDecision(ctx context.Context, leaseID uuid.UUID, d model.Decision) (bool, error) {
	return s.read().HasDecision(ctx, leaseID, d)
}

// LatestOTP implements repository.Reader.
func (s *Store) LatestOTP(ctx context.Context, leaseID uuid.UUID, purpose string) (*model.OTP, error) {
	return s.read().LatestOTP(ctx, leaseID, purpose)
}

// LatestVerifiedOTP implements repository.Reader.
func (s *Store) LatestVerifiedOTP(ctx context.Context, leaseID uuid.UUID, purpose string, since time.Time) (*model.OTP, error) {
	return s.read().LatestVerifiedOTP(ctx, leaseID, purpose, since)
}

// LatestSignature implements repository.Reader.
func (s *Store) LatestSignature(ctx context.Context, leaseID uuid.UUID) (*model.Signature, error) {
	return s.read().LatestSignature(ctx, leaseID)
}

// ListAudit implements repository.Reader.
func (s *Store) ListAudit(ctx context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error) {
	return s.read().ListAudit(ctx, leaseID)
}

// ListEdits implements repository.Reader.
func (s *Store) ListEdits(ctx context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error) {
	return s.read().ListEdits(ctx, leaseID)
}
