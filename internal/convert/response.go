package convert

import (
	"encoding/base64"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/service"
	"github.com/and161185/leaseflow/internal/workflow"
)

// --- helpers ---

func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func idPtr(id *u.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func statePtr(s *workflow.State) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// --- server -> client ---

// LeaseMap renders a lease as plain values.
func LeaseMap(l *model.Lease) map[string]any {
	m := map[string]any{
		"id":               l.ID.String(),
		"reference_number": l.ReferenceNumber,
		"workflow_state":   string(l.WorkflowState),
		"state_label":      l.WorkflowState.Label(),
		"landlord_id":      idPtr(l.LandlordID),
		"tenant_id":        l.TenantID.String(),
		"tenant_name":      l.TenantName,
		"tenant_phone":     notify.MaskPhone(l.TenantPhone),
		"tenant_email":     l.TenantEmail,
		"monthly_rent":     l.MonthlyRent,
		"deposit_amount":   l.DepositAmount,
		"currency":         l.Currency,
		"start_date":       l.StartDate.Format(time.DateOnly),
		"end_date":         l.EndDate.Format(time.DateOnly),
		"document_version": l.DocumentVersion,
		"notes":            l.Notes,
		"created_at":       ts(l.CreatedAt),
		"updated_at":       ts(l.UpdatedAt),
	}
	if l.TenantPhone == "" {
		m["tenant_phone"] = ""
	}
	if l.SerialNumber != nil {
		m["serial_number"] = *l.SerialNumber
	}
	return m
}

// Lease converts a lease to a response message.
func Lease(l *model.Lease) (*structpb.Struct, error) {
	return structpb.NewStruct(LeaseMap(l))
}

// Approval converts an approval to a response message.
func Approval(a *model.Approval) (*structpb.Struct, error) {
	m := map[string]any{
		"id":               a.ID.String(),
		"lease_id":         a.LeaseID.String(),
		"landlord_id":      a.LandlordID.String(),
		"decision":         nil,
		"reviewed_by":      idPtr(a.ReviewedBy),
		"reviewed_at":      tsPtr(a.ReviewedAt),
		"comments":         a.Comments,
		"rejection_reason": a.RejectionReason,
		"created_at":       ts(a.CreatedAt),
	}
	if a.Decision != nil {
		m["decision"] = string(*a.Decision)
	}
	return structpb.NewStruct(m)
}

// OTP converts an issued code record. The code itself never leaves the server.
func OTP(o *model.OTP) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":         o.ID.String(),
		"lease_id":   o.LeaseID.String(),
		"phone":      notify.MaskPhone(o.Phone),
		"purpose":    o.Purpose,
		"expires_at": ts(o.ExpiresAt),
	})
}

// States converts a state list.
func States(states []workflow.State) (*structpb.Struct, error) {
	list := make([]any, 0, len(states))
	for _, s := range states {
		list = append(list, string(s))
	}
	return structpb.NewStruct(map[string]any{"states": list})
}

// SigningStatus converts a signing projection.
func SigningStatus(s *service.SigningStatus) (*structpb.Struct, error) {
	return structpb.NewStruct(SigningStatusMap(s))
}

// SigningStatusMap renders a signing projection as plain values.
func SigningStatusMap(s *service.SigningStatus) map[string]any {
	return map[string]any{
		"lease_id":         s.LeaseID.String(),
		"reference_number": s.Reference,
		"workflow_state":   string(s.State),
		"has_signature":    s.HasSignature,
		"signed_at":        tsPtr(s.SignedAt),
		"otp_verified":     s.OTPVerified,
		"can_sign":         s.CanSign,
		"link_state":       string(s.LinkState),
		"tenant_phone":     s.TenantPhone,
		"document_version": s.DocumentVer,
		"monthly_rent":     s.MonthlyRent,
		"deposit_amount":   s.DepositAmount,
		"currency":         s.Currency,
	}
}

// SignatureRecord converts a checked signature. The image is base64 and
// present only when the record is intact.
func SignatureRecord(r *service.SignatureRecord, withImage bool) (*structpb.Struct, error) {
	sig := r.Signature
	m := map[string]any{
		"signature_id":     sig.ID.String(),
		"lease_id":         sig.LeaseID.String(),
		"tenant_id":        sig.TenantID.String(),
		"content_hash":     sig.ContentHash,
		"document_version": sig.DocumentVersion,
		"signed_at":        ts(sig.SignedAt),
		"intact":           r.Intact,
	}
	if sig.Latitude != nil && sig.Longitude != nil {
		m["latitude"], m["longitude"] = *sig.Latitude, *sig.Longitude
	}
	if withImage && r.Image != nil {
		m["image"] = base64.StdEncoding.EncodeToString(r.Image)
	}
	return structpb.NewStruct(m)
}

// InitiateResult converts the outcome of starting digital signing.
func InitiateResult(r *service.InitiateResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"lease_id":        r.LeaseID.String(),
		"workflow_state":  string(r.State),
		"method":          string(r.Method),
		"link_expires_at": ts(r.LinkExpiresAt),
		"sent":            r.Sent,
	})
}

// AuditEntries converts an audit trail.
func AuditEntries(entries []model.AuditEntry) (*structpb.Struct, error) {
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, map[string]any{
			"id":          e.ID.String(),
			"action":      e.Action,
			"old_state":   statePtr(e.OldState),
			"new_state":   statePtr(e.NewState),
			"actor_id":    idPtr(e.ActorID),
			"actor_role":  e.ActorRole,
			"ip":          e.IP,
			"description": e.Description,
			"payload":     string(e.Payload),
			"created_at":  ts(e.CreatedAt),
		})
	}
	return structpb.NewStruct(map[string]any{"entries": list})
}

// LeaseEdits converts an edit history.
func LeaseEdits(edits []model.LeaseEdit) (*structpb.Struct, error) {
	list := make([]any, 0, len(edits))
	for _, e := range edits {
		list = append(list, map[string]any{
			"id":               e.ID.String(),
			"edit_type":        e.EditType,
			"section":          e.Section,
			"original_text":    e.OriginalText,
			"new_text":         e.NewText,
			"reason":           e.Reason,
			"document_version": e.DocumentVersion,
			"edited_by":        idPtr(e.EditedBy),
			"created_at":       ts(e.CreatedAt),
		})
	}
	return structpb.NewStruct(map[string]any{"edits": list})
}

// Version wraps a document version.
func Version(v int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"document_version": v})
}
