// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Stable machine codes returned to callers at the API boundary.
const (
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeAlreadyApproved        = "ALREADY_APPROVED"
	CodeAlreadyRejected        = "ALREADY_REJECTED"
	CodeAlreadyPendingApproval = "ALREADY_PENDING_APPROVAL"
	CodeNoLandlord             = "NO_LANDLORD"
	CodeNoPendingApproval      = "NO_PENDING_APPROVAL"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeSendingFailure         = "SENDING_FAILURE"
	CodeVerificationFailed     = "VERIFICATION_FAILED"
	CodeAlreadySigned          = "ALREADY_SIGNED"
	CodeLinkInvalid            = "LINK_INVALID"
	CodeNotFound               = "NOT_FOUND"
	CodeConflict               = "CONFLICT"
	CodeInvalidArgument        = "INVALID_ARGUMENT"
	CodeInternal               = "INTERNAL"
)

// Error is a sentinel with a stable code. Compare with errors.Is.
type Error struct {
	code string
	msg  string
}

func newErr(code, msg string) *Error { return &Error{code: code, msg: msg} }

// Error implements error.
func (e *Error) Error() string { return e.msg }

// Code returns the stable machine code.
func (e *Error) Code() string { return e.code }

// Common sentinels across repo/service layers.
var (
	// ErrInvalidTransition indicates the (from, to) pair is not in the transition table.
	ErrInvalidTransition = newErr(CodeInvalidTransition, "invalid workflow transition")

	// ErrAlreadyApproved indicates the lease already carries an approved decision.
	ErrAlreadyApproved = newErr(CodeAlreadyApproved, "lease already approved")

	// ErrAlreadyRejected indicates the lease already carries a rejected decision.
	ErrAlreadyRejected = newErr(CodeAlreadyRejected, "lease already rejected")

	// ErrAlreadyPendingApproval indicates an open approval request exists.
	ErrAlreadyPendingApproval = newErr(CodeAlreadyPendingApproval, "approval already pending")

	// ErrNoLandlord indicates the lease has no landlord to review it.
	ErrNoLandlord = newErr(CodeNoLandlord, "lease has no landlord")

	// ErrNoPendingApproval indicates there is no open approval request.
	ErrNoPendingApproval = newErr(CodeNoPendingApproval, "no pending approval")

	// ErrRateLimited indicates too many OTP generations within the window.
	ErrRateLimited = newErr(CodeRateLimitExceeded, "rate limit exceeded")

	// ErrSendingFailure indicates the provider did not accept a message.
	ErrSendingFailure = newErr(CodeSendingFailure, "message sending failed")

	// ErrVerificationFailed is the single outcome for every failed OTP check.
	ErrVerificationFailed = newErr(CodeVerificationFailed, "verification failed")

	// ErrAlreadySigned indicates a signature was already captured for the lease.
	ErrAlreadySigned = newErr(CodeAlreadySigned, "lease already signed")

	// ErrLinkInvalid indicates a signing link token is malformed, expired or mismatched.
	ErrLinkInvalid = newErr(CodeLinkInvalid, "signing link invalid or expired")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = newErr(CodeNotFound, "not found")

	// ErrConflict indicates a concurrent writer won a compare-and-set.
	ErrConflict = newErr(CodeConflict, "concurrent modification")

	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = newErr(CodeInvalidArgument, "invalid argument")
)

// Code maps any error to its stable machine code; unknown errors are INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// Message returns a caller-safe message: the sentinel text for known errors,
// a generic one otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	return "internal error"
}
