// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/limiter"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/workflow"
)

// Reader provides read access to lease aggregates.
type Reader interface {
	// GetLease loads a lease by ID; errs.ErrNotFound if absent.
	GetLease(ctx context.Context, id uuid.UUID) (*model.Lease, error)
	// PendingApproval returns the undecided approval; errs.ErrNoPendingApproval if none.
	PendingApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error)
	// LatestApproval returns the most recent approval; errs.ErrNotFound if none.
	LatestApproval(ctx context.Context, leaseID uuid.UUID) (*model.Approval, error)
	// HasDecision reports whether any approval of the lease carries decision d.
	HasDecision(ctx context.Context, leaseID uuid.UUID, d model.Decision) (bool, error)
	// LatestOTP returns the most recently created OTP for lease and purpose; errs.ErrNotFound if none.
	LatestOTP(ctx context.Context, leaseID uuid.UUID, purpose string) (*model.OTP, error)
	// LatestVerifiedOTP returns the newest OTP verified at or after since; errs.ErrNotFound if none.
	LatestVerifiedOTP(ctx context.Context, leaseID uuid.UUID, purpose string, since time.Time) (*model.OTP, error)
	// LatestSignature returns the newest signature by signed time; errs.ErrNotFound if none.
	LatestSignature(ctx context.Context, leaseID uuid.UUID) (*model.Signature, error)
	// ListAudit returns audit entries oldest first.
	ListAudit(ctx context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error)
	// ListEdits returns lease edits oldest first.
	ListEdits(ctx context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error)
}

// Tx is a unit of work. Everything written through it commits or rolls back together.
type Tx interface {
	Reader

	// InsertLease creates a lease; errs.ErrConflict if the id or reference is taken.
	InsertLease(ctx context.Context, l *model.Lease) error
	// LockLease loads a lease and holds it against concurrent units until commit.
	LockLease(ctx context.Context, id uuid.UUID) (*model.Lease, error)
	// SetLeaseState moves the lease from -> to; errs.ErrConflict if it is no longer in from.
	SetLeaseState(ctx context.Context, id uuid.UUID, from, to workflow.State) error
	// BumpDocumentVersion increments document_version and returns the new value.
	BumpDocumentVersion(ctx context.Context, id uuid.UUID) (int, error)
	// UpdateLeaseTerms overwrites monetary terms and dates.
	UpdateLeaseTerms(ctx context.Context, l *model.Lease) error
	// AppendLeaseNote appends a line to the lease notes.
	AppendLeaseNote(ctx context.Context, id uuid.UUID, note string) error

	// InsertApproval creates an approval; errs.ErrAlreadyPendingApproval if an undecided one exists.
	InsertApproval(ctx context.Context, a *model.Approval) error
	// DecideApproval records a decision on an undecided approval; errs.ErrConflict if already decided.
	DecideApproval(ctx context.Context, a *model.Approval) error

	// OTPLimiter returns a counter bound to this unit.
	OTPLimiter(window time.Duration) limiter.Limiter
	// InsertOTP stores a generated code record.
	InsertOTP(ctx context.Context, o *model.OTP) error
	// UpdateOTP persists attempts, verification and expiry flags.
	UpdateOTP(ctx context.Context, o *model.OTP) error
	// ExpireOpenOTPs marks every unverified, unexpired OTP for lease and purpose expired.
	ExpireOpenOTPs(ctx context.Context, leaseID uuid.UUID, purpose string, now time.Time) (int, error)

	// InsertSignature stores a captured signature.
	InsertSignature(ctx context.Context, s *model.Signature) error
	// AppendAudit stores an audit entry. Entries are never updated.
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	// InsertEdits stores a batch of lease edits.
	InsertEdits(ctx context.Context, edits []model.LeaseEdit) error
}

// Store is the lease storage backend.
type Store interface {
	Reader
	// Atomic runs fn in one unit of work. A non-nil error from fn rolls everything back.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
