package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/crypto"
	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/signlink"
	"github.com/and161185/leaseflow/internal/workflow"
)

// Method selects the channels a signing link goes out on.
type Method string

// Delivery methods.
const (
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
	MethodBoth  Method = "both"
)

// ParseMethod validates a delivery method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodEmail, MethodSMS, MethodBoth:
		return m, nil
	}
	return "", invalid("unknown delivery method %q", s)
}

// LinkState describes the signing link of a lease as implied by its workflow state.
type LinkState string

// Link states.
const (
	LinkNotIssued LinkState = "not_issued"
	LinkActive    LinkState = "active"
	LinkSuspended LinkState = "suspended"
	LinkUsed      LinkState = "used"
	LinkRevoked   LinkState = "revoked"
)

func linkStateOf(s workflow.State) LinkState {
	switch {
	case workflow.CanSign(s):
		return LinkActive
	case s == workflow.Disputed:
		return LinkSuspended
	case workflow.IsTerminal(s):
		return LinkRevoked
	}
	switch s {
	case workflow.TenantSigned, workflow.WithLawyer, workflow.PendingUpload, workflow.PendingDeposit,
		workflow.Active, workflow.RenewalOffered, workflow.RenewalAccepted, workflow.RenewalDeclined:
		return LinkUsed
	}
	return LinkNotIssued
}

// SigningConfig tunes signing links.
type SigningConfig struct {
	LinkExpiry    time.Duration
	DefaultMethod Method
	// Sealer encrypts stored signature images; nil stores them as submitted.
	Sealer *crypto.Sealer
}

// SignatureInput is what the tenant submits.
type SignatureInput struct {
	Data      []byte
	Latitude  *float64
	Longitude *float64
}

// SigningStatus is a read-only projection of the signing sequence.
type SigningStatus struct {
	LeaseID       uuid.UUID
	State         workflow.State
	HasSignature  bool
	SignedAt      *time.Time
	OTPVerified   bool
	LinkState     LinkState
	CanSign       bool
	TenantPhone   string
	Reference     string
	DocumentVer   int
	MonthlyRent   int64
	DepositAmount int64
	Currency      string
}

// SignatureRecord is a stored signature with its image opened and its hash rechecked.
type SignatureRecord struct {
	Signature *model.Signature
	Image     []byte
	Intact    bool
}

// InitiateResult reports the outcome of Initiate.
type InitiateResult struct {
	LeaseID       uuid.UUID
	State         workflow.State
	Method        Method
	LinkExpiresAt time.Time
	Sent          bool
}

// SigningService drives the tenant signing sequence.
type SigningService interface {
	// GenerateSigningLink issues a link; expiresIn <= 0 uses the configured expiry.
	GenerateSigningLink(ctx context.Context, leaseID uuid.UUID, expiresIn time.Duration) (signlink.Link, error)
	// SendSigningLink issues a fresh link and delivers it.
	SendSigningLink(ctx context.Context, leaseID uuid.UUID, method Method) error
	// Initiate moves an approved lease to sent_digital and delivers the link.
	Initiate(ctx context.Context, leaseID uuid.UUID, method Method, actor model.Actor) (*InitiateResult, error)
	// VerifyLink checks a link token for the lease and returns the bound tenant.
	VerifyLink(ctx context.Context, leaseID uuid.UUID, token string) (uuid.UUID, error)
	// RequestOTP sends a signing code to the tenant.
	RequestOTP(ctx context.Context, leaseID uuid.UUID, actor model.Actor) error
	// VerifyOTP checks a code and advances sent_digital to pending_otp.
	VerifyOTP(ctx context.Context, leaseID uuid.UUID, code string, actor model.Actor) (bool, error)
	// CanSign reports whether the OTP gate is open.
	CanSign(ctx context.Context, leaseID uuid.UUID) (bool, error)
	// CaptureSignature stores the signature and moves the lease to tenant_signed.
	CaptureSignature(ctx context.Context, leaseID uuid.UUID, in SignatureInput, actor model.Actor) (*model.Signature, error)
	// Status projects the signing sequence.
	Status(ctx context.Context, leaseID uuid.UUID) (*SigningStatus, error)
	// Signature returns the latest signature with its image and integrity check.
	Signature(ctx context.Context, leaseID uuid.UUID) (*SignatureRecord, error)
	// VerifySignature recomputes the content hash of the latest signature.
	VerifySignature(ctx context.Context, leaseID uuid.UUID) (bool, error)
}

type SigningServiceImpl struct {
	store  repository.Store
	sm     *StateMachineImpl
	audit  *AuditLog
	otp    *OTPServiceImpl
	links  *signlink.Signer
	sender notify.Sender
	cfg    SigningConfig
	now    Clock
	log    *zap.Logger
}

// NewSigningService constructs SigningService.
func NewSigningService(
	store repository.Store, sm *StateMachineImpl, audit *AuditLog, otp *OTPServiceImpl,
	links *signlink.Signer, sender notify.Sender, cfg SigningConfig, now Clock, log *zap.Logger,
) *SigningServiceImpl {
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = 72 * time.Hour
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = MethodBoth
	}
	return &SigningServiceImpl{
		store: store, sm: sm, audit: audit, otp: otp, links: links,
		sender: sender, cfg: cfg, now: orClock(now), log: log,
	}
}

// GenerateSigningLink issues a link bound to the lease and its tenant.
func (s *SigningServiceImpl) GenerateSigningLink(ctx context.Context, leaseID uuid.UUID, expiresIn time.Duration) (signlink.Link, error) {
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return signlink.Link{}, err
	}
	return s.issue(l, expiresIn)
}

func (s *SigningServiceImpl) issue(l *model.Lease, expiresIn time.Duration) (signlink.Link, error) {
	if expiresIn <= 0 {
		expiresIn = s.cfg.LinkExpiry
	}
	return s.links.Issue(l.ID, l.TenantID, expiresIn, s.now())
}

// SendSigningLink issues and delivers a fresh link.
func (s *SigningServiceImpl) SendSigningLink(ctx context.Context, leaseID uuid.UUID, method Method) error {
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}
	if method == "" {
		method = s.cfg.DefaultMethod
	}
	link, err := s.issue(l, 0)
	if err != nil {
		return err
	}
	return s.deliver(ctx, l, link, method)
}

// deliver sends on every channel the method selects. Failed channels keep
// retrying in the background; the error reports the first attempts.
func (s *SigningServiceImpl) deliver(ctx context.Context, l *model.Lease, link signlink.Link, method Method) error {
	if _, err := ParseMethod(string(method)); err != nil {
		return err
	}
	meta := notify.Meta{
		"type":      "signing_link",
		"reference": l.ReferenceNumber,
		"subject":   notify.SigningLinkSubject(l.ReferenceNumber),
	}
	ttl := link.ExpiresAt.Sub(s.now())
	body := notify.SigningLinkMessage(l.ReferenceNumber, link.URL, ttl.Round(time.Hour))

	var msgs []notify.Message
	if (method == MethodSMS || method == MethodBoth) && l.TenantPhone != "" {
		msgs = append(msgs, notify.Message{Channel: notify.SMS, To: notify.ToInternational(l.TenantPhone, ""), Body: body, Meta: meta})
	}
	if (method == MethodEmail || method == MethodBoth) && l.TenantEmail != "" {
		msgs = append(msgs, notify.Message{Channel: notify.Email, To: l.TenantEmail, Body: body, Meta: meta})
	}
	if len(msgs) == 0 {
		return invalid("tenant has no contact for method %q", method)
	}

	var failed []error
	for _, m := range msgs {
		if err := s.sender.Send(ctx, m); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", m.Channel, err))
		}
	}
	if len(failed) > 0 {
		s.log.Warn("signing link delivery failed",
			zap.String("lease_id", l.ID.String()),
			zap.Error(errors.Join(failed...)),
		)
		return fmt.Errorf("signing link for lease %s: %w", l.ID, errs.ErrSendingFailure)
	}
	return nil
}

// Initiate moves the lease to sent_digital and then delivers the link. A lease
// already out for signing gets the link again without a transition.
func (s *SigningServiceImpl) Initiate(ctx context.Context, leaseID uuid.UUID, method Method, actor model.Actor) (*InitiateResult, error) {
	if method == "" {
		method = s.cfg.DefaultMethod
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	var (
		lease *model.Lease
		ev    Transition
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		lease = l
		resent := l.WorkflowState == workflow.SentDigital || l.WorkflowState == workflow.PendingOTP
		if !resent {
			if ev, err = s.sm.Apply(ctx, tx, l, workflow.SentDigital, actor, map[string]any{"method": string(method)}); err != nil {
				return err
			}
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action:      model.ActionSigningInitiated,
			Payload:     map[string]any{"method": string(method), "resent": resent},
			Description: "Digital signing initiated via " + string(method),
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, ev)

	link, err := s.issue(lease, 0)
	if err != nil {
		return nil, err
	}
	res := &InitiateResult{
		LeaseID:       leaseID,
		State:         lease.WorkflowState,
		Method:        method,
		LinkExpiresAt: link.ExpiresAt,
	}
	res.Sent = s.deliver(ctx, lease, link, method) == nil
	return res, nil
}

// VerifyLink checks signature, expiry and that the link's tenant is still the lease's tenant.
func (s *SigningServiceImpl) VerifyLink(ctx context.Context, leaseID uuid.UUID, token string) (uuid.UUID, error) {
	tenantID, err := s.links.Verify(token, leaseID, s.now())
	if err != nil {
		return uuid.Nil, err
	}
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return uuid.Nil, err
	}
	if l.TenantID != tenantID {
		return uuid.Nil, errs.ErrLinkInvalid
	}
	return tenantID, nil
}

// RequestOTP sends a signing code to the tenant's phone.
func (s *SigningServiceImpl) RequestOTP(ctx context.Context, leaseID uuid.UUID, actor model.Actor) error {
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}
	if !workflow.CanSign(l.WorkflowState) {
		return fmt.Errorf("lease %s in %s: %w", leaseID, l.WorkflowState, errs.ErrInvalidTransition)
	}
	_, err = s.otp.Resend(ctx, leaseID, "", actor)
	return err
}

// VerifyOTP checks the code; on success a lease in sent_digital moves to
// pending_otp in its own unit. If that step fails the next capture resumes it.
func (s *SigningServiceImpl) VerifyOTP(ctx context.Context, leaseID uuid.UUID, code string, actor model.Actor) (bool, error) {
	ok, err := s.otp.Verify(ctx, leaseID, code, actor)
	if err != nil || !ok {
		return false, err
	}
	var ev Transition
	err = s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if l.WorkflowState != workflow.SentDigital {
			return nil
		}
		ev, err = s.sm.Apply(ctx, tx, l, workflow.PendingOTP, actor, nil)
		return err
	})
	if err != nil {
		s.log.Warn("advance to pending_otp failed", zap.String("lease_id", leaseID.String()), zap.Error(err))
		return true, nil
	}
	s.sm.Publish(ctx, ev)
	return true, nil
}

// CanSign reports whether a verified OTP currently opens the gate.
func (s *SigningServiceImpl) CanSign(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	return s.otp.HasVerifiedOTP(ctx, leaseID)
}

// CaptureSignature stores the signature. The gate and the lease state are
// re-checked under the lease lock.
func (s *SigningServiceImpl) CaptureSignature(ctx context.Context, leaseID uuid.UUID, in SignatureInput, actor model.Actor) (*model.Signature, error) {
	if len(in.Data) == 0 {
		return nil, invalid("empty signature")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, invalid("latitude and longitude go together")
	}
	var (
		sig *model.Signature
		evs []Transition
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if !workflow.CanSign(l.WorkflowState) {
			if _, err := tx.LatestSignature(ctx, leaseID); err == nil {
				return fmt.Errorf("lease %s: %w", leaseID, errs.ErrAlreadySigned)
			}
		}
		otp, err := s.otp.verified(ctx, tx, leaseID)
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("lease %s: no verified code: %w", leaseID, errs.ErrVerificationFailed)
		}
		if err != nil {
			return err
		}

		if l.WorkflowState == workflow.SentDigital {
			ev, err := s.sm.Apply(ctx, tx, l, workflow.PendingOTP, actor, nil)
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		ev, err := s.sm.Apply(ctx, tx, l, workflow.TenantSigned, actor, nil)
		if err != nil {
			return err
		}
		evs = append(evs, ev)

		now := s.now().Truncate(time.Microsecond)
		sigID := newID()
		data := in.Data
		if s.cfg.Sealer != nil {
			if data, err = s.cfg.Sealer.Seal(in.Data, leaseID.Bytes(), sigID.Bytes()); err != nil {
				return fmt.Errorf("seal signature: %w", err)
			}
		}
		sig = &model.Signature{
			ID:              sigID,
			LeaseID:         leaseID,
			TenantID:        l.TenantID,
			OTPID:           &otp.ID,
			Data:            data,
			Latitude:        in.Latitude,
			Longitude:       in.Longitude,
			IP:              actor.IP,
			UserAgent:       actor.UserAgent,
			SignedAt:        now,
			DocumentVersion: l.DocumentVersion,
		}
		sig.ContentHash = signatureHash(l.ReferenceNumber, sig, in.Data)
		if err := tx.InsertSignature(ctx, sig); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action: model.ActionSigned,
			Payload: map[string]any{
				"signature_id": sig.ID.String(),
				"content_hash": sig.ContentHash,
				"otp_id":       otp.ID.String(),
				"geolocated":   in.Latitude != nil,
			},
			Description: "Lease signed digitally by tenant",
		})
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, evs...)
	return sig, nil
}

// signatureHash binds the image to the lease version it was signed against.
// SignedAt enters at microsecond precision, the resolution it is stored at.
func signatureHash(reference string, sig *model.Signature, image []byte) string {
	return crypto.ContentHash(
		sig.LeaseID.Bytes(),
		sig.TenantID.Bytes(),
		[]byte(reference),
		[]byte(strconv.Itoa(sig.DocumentVersion)),
		image,
		[]byte(sig.SignedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)),
	)
}

// Signature loads the latest signature of the lease, opens the image and
// recomputes the content hash. An image that fails to open or to match its
// hash yields a record with Intact false and no image.
func (s *SigningServiceImpl) Signature(ctx context.Context, leaseID uuid.UUID) (*SignatureRecord, error) {
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	sig, err := s.store.LatestSignature(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	rec := &SignatureRecord{Signature: sig}
	img := sig.Data
	if s.cfg.Sealer != nil {
		if img, err = s.cfg.Sealer.Open(sig.Data, leaseID.Bytes(), sig.ID.Bytes()); err != nil {
			s.log.Warn("signature image does not open",
				zap.String("lease_id", leaseID.String()),
				zap.String("signature_id", sig.ID.String()),
				zap.Error(err),
			)
			return rec, nil
		}
	}
	if !crypto.EqualHash(sig.ContentHash, signatureHash(l.ReferenceNumber, sig, img)) {
		s.log.Warn("signature content hash mismatch",
			zap.String("lease_id", leaseID.String()),
			zap.String("signature_id", sig.ID.String()),
		)
		return rec, nil
	}
	rec.Image, rec.Intact = img, true
	return rec, nil
}

// VerifySignature reports whether the latest signature still matches its content hash.
func (s *SigningServiceImpl) VerifySignature(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	rec, err := s.Signature(ctx, leaseID)
	if err != nil {
		return false, err
	}
	return rec.Intact, nil
}

// Status projects the signing sequence.
func (s *SigningServiceImpl) Status(ctx context.Context, leaseID uuid.UUID) (*SigningStatus, error) {
	l, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	st := &SigningStatus{
		LeaseID:       l.ID,
		State:         l.WorkflowState,
		LinkState:     linkStateOf(l.WorkflowState),
		TenantPhone:   notify.MaskPhone(l.TenantPhone),
		Reference:     l.ReferenceNumber,
		DocumentVer:   l.DocumentVersion,
		MonthlyRent:   l.MonthlyRent,
		DepositAmount: l.DepositAmount,
		Currency:      l.Currency,
	}
	sig, err := s.store.LatestSignature(ctx, leaseID)
	switch {
	case err == nil:
		st.HasSignature = true
		st.SignedAt = &sig.SignedAt
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}
	if st.OTPVerified, err = s.otp.HasVerifiedOTP(ctx, leaseID); err != nil {
		return nil, err
	}
	st.CanSign = st.OTPVerified && workflow.CanSign(l.WorkflowState)
	return st, nil
}
