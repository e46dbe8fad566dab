package notify

import (
	"fmt"
	"time"
)

// OTPMessage is the body of a verification code SMS.
func OTPMessage(code string, validFor time.Duration, reference string) string {
	return fmt.Sprintf("Your verification code is: %s. Valid for %d minutes. Ref: %s. Do not share this code.",
		code, int(validFor.Minutes()), reference)
}

// SigningLinkMessage is the body of a signing link SMS.
func SigningLinkMessage(reference, link string, validFor time.Duration) string {
	return fmt.Sprintf("Sign your lease %s here: %s. Link expires in %d hours.",
		reference, link, int(validFor.Hours()))
}

// SigningLinkSubject is the e-mail subject for a signing link.
func SigningLinkSubject(reference string) string {
	return fmt.Sprintf("Your lease %s is ready to sign", reference)
}

// ApprovalRequestMessage notifies a landlord that a lease awaits review.
func ApprovalRequestMessage(reference, tenantName string, rent int64, currency string) string {
	return fmt.Sprintf("New lease %s awaits approval. Tenant: %s. Rent: %s %s/month. Login to approve.",
		reference, tenantName, currency, FormatAmount(rent))
}

// ApprovedMessage tells the tenant the landlord approved the lease.
func ApprovedMessage(reference string) string {
	return fmt.Sprintf("Good news! Lease %s has been APPROVED. You will receive the signing link shortly.", reference)
}

// RejectedMessage tells the tenant the lease needs revision.
func RejectedMessage(reference, reason string) string {
	return fmt.Sprintf("Lease %s needs revision. Reason: %s. Contact support for details.", reference, reason)
}

// SignedMessage confirms a captured signature.
func SignedMessage(reference string, start time.Time) string {
	return fmt.Sprintf("Lease %s signed successfully! Keep this as your record. Start date: %s.",
		reference, start.Format("02 Jan 2006"))
}

// FormatAmount renders minor units with thousands separators and two decimals.
func FormatAmount(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	whole, frac := minor/100, minor%100
	s := fmt.Sprintf("%d", whole)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return fmt.Sprintf("%s.%02d", s, frac)
}
