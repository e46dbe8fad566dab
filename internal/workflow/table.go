package workflow

import (
	"fmt"
	"slices"
)

// transitions is the single source of truth for legal moves.
var transitions = map[State][]State{
	Draft:                   {PendingLandlordApproval, Approved, Cancelled},
	Received:                {PendingLandlordApproval, Approved, Cancelled},
	PendingLandlordApproval: {Approved, Cancelled, Draft},
	Approved:                {Printed, SentDigital, Cancelled},
	Printed:                 {CheckedOut, Cancelled},
	CheckedOut:              {PendingTenantSignature, ReturnedUnsigned},
	SentDigital:             {PendingOTP, Disputed, Cancelled},
	PendingOTP:              {TenantSigned, Disputed, SentDigital},
	PendingTenantSignature:  {TenantSigned, Disputed, ReturnedUnsigned},
	ReturnedUnsigned:        {CheckedOut, Cancelled},
	TenantSigned:            {WithLawyer, PendingUpload, PendingDeposit},
	WithLawyer:              {PendingUpload, PendingDeposit},
	PendingUpload:           {PendingDeposit},
	PendingDeposit:          {Active},
	Active:                  {RenewalOffered, Expired, Terminated},
	RenewalOffered:          {RenewalAccepted, RenewalDeclined, Expired},
	RenewalAccepted:         {Active},
	RenewalDeclined:         {Expired},
	Expired:                 {Archived},
	Terminated:              {Archived},
	Cancelled:               {Archived},
	Disputed:                {SentDigital, Cancelled},
	Archived:                {},
}

var terminal = map[State]bool{
	Expired:    true,
	Terminated: true,
	Cancelled:  true,
	Archived:   true,
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// NextStates returns the legal targets of from; empty for unknown or final states.
func NextStates(from State) []State {
	return slices.Clone(transitions[from])
}

// IsTerminal reports whether s ends the active lifecycle.
func IsTerminal(s State) bool { return terminal[s] }

// CanSign reports whether a tenant may sign while the lease is in s.
func CanSign(s State) bool {
	return s == SentDigital || s == PendingOTP || s == PendingTenantSignature
}

// CanDispute reports whether a tenant may raise a dispute while the lease is in s.
func CanDispute(s State) bool { return CanSign(s) }

// Validate checks table completeness. It is run once at startup.
func Validate() error {
	for _, s := range All {
		targets, ok := transitions[s]
		if !ok {
			return fmt.Errorf("workflow: state %q has no table entry", s)
		}
		for _, t := range targets {
			if _, ok := transitions[t]; !ok {
				return fmt.Errorf("workflow: %q -> unknown state %q", s, t)
			}
			if t == s {
				return fmt.Errorf("workflow: self transition on %q", s)
			}
		}
	}
	if len(transitions) != len(All) {
		return fmt.Errorf("workflow: table has %d entries, want %d", len(transitions), len(All))
	}
	for _, s := range All {
		if !reaches(s, Archived) {
			return fmt.Errorf("workflow: %q cannot reach %q", s, Archived)
		}
	}
	return nil
}

func reaches(from, target State) bool {
	seen := map[State]bool{from: true}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		for _, n := range transitions[cur] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}
