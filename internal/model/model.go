// Package model contains domain types shared across layers.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/workflow"
)

// Lease is the agreement being moved through its lifecycle.
type Lease struct {
	ID              uuid.UUID
	ReferenceNumber string
	WorkflowState   workflow.State
	LandlordID      *uuid.UUID
	LandlordPhone   string
	TenantID        uuid.UUID
	TenantName      string
	TenantPhone     string
	TenantEmail     string
	MonthlyRent     int64 // minor units
	DepositAmount   int64 // minor units
	Currency        string
	StartDate       time.Time
	EndDate         time.Time
	DocumentVersion int
	SerialNumber    *string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasLandlord reports whether a landlord is assigned.
func (l *Lease) HasLandlord() bool { return l.LandlordID != nil && *l.LandlordID != uuid.Nil }

// Decision is the outcome of an approval request.
type Decision string

// Approval decisions.
const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval is a landlord review request; Decision is nil while pending.
type Approval struct {
	ID              uuid.UUID
	LeaseID         uuid.UUID
	LandlordID      uuid.UUID
	Decision        *Decision
	ReviewedBy      *uuid.UUID
	ReviewedAt      *time.Time
	Comments        string
	RejectionReason string
	IP              string
	UserAgent       string
	PreviousData    json.RawMessage
	CreatedAt       time.Time
}

// Pending reports whether the approval still awaits a decision.
func (a *Approval) Pending() bool { return a.Decision == nil }

// OTP purposes.
const (
	PurposeDigitalSigning = "digital_signing"
)

// OTP is a one-time passcode record. Only the Argon2id hash of the code is kept.
type OTP struct {
	ID         uuid.UUID
	LeaseID    uuid.UUID
	Phone      string
	Purpose    string
	CodeHash   []byte
	CodeSalt   []byte
	ExpiresAt  time.Time
	Attempts   int
	Verified   bool
	VerifiedAt *time.Time
	VerifiedIP string
	Expired    bool
	CreatedAt  time.Time
}

// Open reports whether the code may still be checked at now.
func (o *OTP) Open(now time.Time) bool {
	return !o.Verified && !o.Expired && now.Before(o.ExpiresAt)
}

// Signature is the captured tenant signature.
type Signature struct {
	ID          uuid.UUID
	LeaseID     uuid.UUID
	TenantID    uuid.UUID
	OTPID       *uuid.UUID
	Data        []byte
	Latitude    *float64
	Longitude   *float64
	ContentHash string
	IP          string
	UserAgent   string
	SignedAt    time.Time
	// DocumentVersion is the lease version the tenant signed.
	DocumentVersion int
}

// AuditEntry is an append-only record of a workflow action.
type AuditEntry struct {
	ID          uuid.UUID
	LeaseID     uuid.UUID
	Action      string
	OldState    *workflow.State
	NewState    *workflow.State
	ActorID     *uuid.UUID
	ActorRole   string
	IP          string
	UserAgent   string
	Payload     json.RawMessage
	Description string
	CreatedAt   time.Time
}

// Audit actions.
const (
	ActionCreated           = "created"
	ActionStateTransition   = "state_transition"
	ActionApprovalRequested = "approval_requested"
	ActionApproved          = "approved"
	ActionRejected          = "rejected"
	ActionOTPSent           = "otp_sent"
	ActionOTPVerified       = "otp_verified"
	ActionSigningInitiated  = "signing_initiated"
	ActionSigned            = "signed"
	ActionEdited            = "edited"
	ActionDisputed          = "disputed"
	ActionDisputeResolved   = "dispute_resolved"
	ActionDisputeCancelled  = "dispute_cancelled"
)

// Edit is a single tracked change within a batch.
type Edit struct {
	EditType     string
	Section      string
	OriginalText string
	NewText      string
	Reason       string
}

// LeaseEdit is a persisted Edit stamped with the document version it produced.
type LeaseEdit struct {
	ID      uuid.UUID
	LeaseID uuid.UUID
	Edit
	DocumentVersion int
	EditedBy        *uuid.UUID
	CreatedAt       time.Time
}

// Roles of acting principals.
const (
	RoleSystem   = "system"
	RoleStaff    = "staff"
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
)

// Actor is the principal performing an operation.
type Actor struct {
	ID        *uuid.UUID
	Role      string
	IP        string
	UserAgent string
}

// SystemActor is used for automated actions.
func SystemActor() Actor { return Actor{Role: RoleSystem} }

// UserActor builds an actor for an authenticated user.
func UserActor(id uuid.UUID, role, ip, ua string) Actor {
	return Actor{ID: &id, Role: role, IP: ip, UserAgent: ua}
}

// DisputeReason is a tenant's stated objection.
type DisputeReason string

// Dispute reasons.
const (
	DisputeRentTooHigh       DisputeReason = "rent_too_high"
	DisputeWrongDates        DisputeReason = "wrong_dates"
	DisputeIncorrectDetails  DisputeReason = "incorrect_details"
	DisputeTermsDisagreement DisputeReason = "terms_disagreement"
	DisputeNotMyLease        DisputeReason = "not_my_lease"
	DisputeOther             DisputeReason = "other"
)

// Valid reports whether r is a known reason.
func (r DisputeReason) Valid() bool {
	switch r {
	case DisputeRentTooHigh, DisputeWrongDates, DisputeIncorrectDetails,
		DisputeTermsDisagreement, DisputeNotMyLease, DisputeOther:
		return true
	}
	return false
}

// Label returns the display text of the reason.
func (r DisputeReason) Label() string {
	switch r {
	case DisputeRentTooHigh:
		return "Rent amount is too high"
	case DisputeWrongDates:
		return "Lease dates are incorrect"
	case DisputeIncorrectDetails:
		return "Personal details are incorrect"
	case DisputeTermsDisagreement:
		return "Disagree with lease terms"
	case DisputeNotMyLease:
		return "This is not my lease"
	default:
		return "Other reason"
	}
}
