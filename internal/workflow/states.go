// Package workflow holds the lease lifecycle states and the transition table.
package workflow

// State is a lease workflow state.
type State string

// Lease workflow states.
const (
	Draft                   State = "draft"
	Received                State = "received"
	PendingLandlordApproval State = "pending_landlord_approval"
	Approved                State = "approved"
	Printed                 State = "printed"
	CheckedOut              State = "checked_out"
	SentDigital             State = "sent_digital"
	PendingOTP              State = "pending_otp"
	PendingTenantSignature  State = "pending_tenant_signature"
	ReturnedUnsigned        State = "returned_unsigned"
	TenantSigned            State = "tenant_signed"
	WithLawyer              State = "with_lawyer"
	PendingUpload           State = "pending_upload"
	PendingDeposit          State = "pending_deposit"
	Active                  State = "active"
	RenewalOffered          State = "renewal_offered"
	RenewalAccepted         State = "renewal_accepted"
	RenewalDeclined         State = "renewal_declined"
	Expired                 State = "expired"
	Terminated              State = "terminated"
	Cancelled               State = "cancelled"
	Disputed                State = "disputed"
	Archived                State = "archived"
)

// All lists every state in lifecycle order.
var All = []State{
	Draft, Received, PendingLandlordApproval, Approved, Printed, CheckedOut,
	SentDigital, PendingOTP, PendingTenantSignature, ReturnedUnsigned,
	TenantSigned, WithLawyer, PendingUpload, PendingDeposit, Active,
	RenewalOffered, RenewalAccepted, RenewalDeclined, Expired, Terminated,
	Cancelled, Disputed, Archived,
}

// Parse converts a string into a known State.
func Parse(s string) (State, bool) {
	st := State(s)
	_, ok := transitions[st]
	return st, ok
}

// Label returns a human-readable name used in messages.
func (s State) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

var labels = map[State]string{
	Draft:                   "Draft",
	Received:                "Received",
	PendingLandlordApproval: "Pending Landlord Approval",
	Approved:                "Approved",
	Printed:                 "Printed",
	CheckedOut:              "Checked Out",
	SentDigital:             "Sent Digitally",
	PendingOTP:              "Pending OTP Verification",
	PendingTenantSignature:  "Pending Tenant Signature",
	ReturnedUnsigned:        "Returned Unsigned",
	TenantSigned:            "Tenant Signed",
	WithLawyer:              "With Lawyer",
	PendingUpload:           "Pending Upload",
	PendingDeposit:          "Pending Deposit",
	Active:                  "Active",
	RenewalOffered:          "Renewal Offered",
	RenewalAccepted:         "Renewal Accepted",
	RenewalDeclined:         "Renewal Declined",
	Expired:                 "Expired",
	Terminated:              "Terminated",
	Cancelled:               "Cancelled",
	Disputed:                "Disputed",
	Archived:                "Archived",
}
