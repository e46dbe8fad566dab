package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/crypto"
	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/limiter"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository"
)

// OTPConfig tunes code issuance and verification.
type OTPConfig struct {
	CodeLength        int
	Expiry            time.Duration
	MaxPerWindow      int
	Window            time.Duration
	MaxVerifyAttempts int
	// VerifiedValidity bounds how long a verified code opens the signing gate; zero means forever.
	VerifiedValidity time.Duration
}

// DefaultOTPConfig returns the production defaults.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:        6,
		Expiry:            10 * time.Minute,
		MaxPerWindow:      3,
		Window:            time.Hour,
		MaxVerifyAttempts: 3,
		VerifiedValidity:  30 * time.Minute,
	}
}

// OTPService issues and verifies one-time codes.
type OTPService interface {
	// GenerateAndSend issues a code for the lease and sends it by SMS. An empty
	// phone uses the tenant's number. Only the digital signing purpose is
	// accepted; an empty purpose means digital signing.
	GenerateAndSend(ctx context.Context, leaseID uuid.UUID, phone, purpose string, actor model.Actor) (*model.OTP, error)
	// Resend expires open codes and issues a fresh one.
	Resend(ctx context.Context, leaseID uuid.UUID, phone string, actor model.Actor) (*model.OTP, error)
	// Verify checks code against the latest open signing code. Every failure is a plain false.
	Verify(ctx context.Context, leaseID uuid.UUID, code string, actor model.Actor) (bool, error)
	// HasVerifiedOTP reports whether a verified signing code is currently valid.
	HasVerifiedOTP(ctx context.Context, leaseID uuid.UUID) (bool, error)
}

type OTPServiceImpl struct {
	store   repository.Store
	audit   *AuditLog
	sender  notify.Sender
	cfg     OTPConfig
	now     Clock
	newCode func(length int) (string, error)
	log     *zap.Logger
}

// NewOTPService constructs OTPService. Zero config fields take the defaults.
func NewOTPService(store repository.Store, audit *AuditLog, sender notify.Sender, cfg OTPConfig, now Clock, log *zap.Logger) *OTPServiceImpl {
	def := DefaultOTPConfig()
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = def.MaxPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxVerifyAttempts <= 0 {
		cfg.MaxVerifyAttempts = def.MaxVerifyAttempts
	}
	return &OTPServiceImpl{
		store:   store,
		audit:   audit,
		sender:  sender,
		cfg:     cfg,
		now:     orClock(now),
		newCode: crypto.NumericCode,
		log:     log,
	}
}

// GenerateAndSend issues a code and sends it.
func (s *OTPServiceImpl) GenerateAndSend(ctx context.Context, leaseID uuid.UUID, phone, purpose string, actor model.Actor) (*model.OTP, error) {
	return s.issue(ctx, leaseID, phone, purpose, false, actor)
}

// Resend invalidates every open code for the lease, then issues a new one.
func (s *OTPServiceImpl) Resend(ctx context.Context, leaseID uuid.UUID, phone string, actor model.Actor) (*model.OTP, error) {
	return s.issue(ctx, leaseID, phone, model.PurposeDigitalSigning, true, actor)
}

func (s *OTPServiceImpl) issue(
	ctx context.Context, leaseID uuid.UUID, phone, purpose string, resend bool, actor model.Actor,
) (*model.OTP, error) {
	if purpose == "" {
		purpose = model.PurposeDigitalSigning
	}
	if purpose != model.PurposeDigitalSigning {
		return nil, invalid("otp purpose %q", purpose)
	}
	var (
		o     *model.OTP
		code  string
		lease *model.Lease
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, leaseID)
		if err != nil {
			return err
		}
		lease = l
		if phone == "" {
			phone = l.TenantPhone
		}
		if !notify.ValidPhone(phone) {
			return invalid("phone number")
		}
		phone = notify.ToInternational(phone, "")

		now := s.now()
		// the hit rolls back with the unit, so a rejected call does not consume the window
		hits, err := tx.OTPLimiter(s.cfg.Window).Hit(ctx, limiter.Key(leaseID.String(), phone, purpose), now)
		if err != nil {
			return err
		}
		if hits > s.cfg.MaxPerWindow {
			return fmt.Errorf("lease %s: %d codes within %s: %w", leaseID, s.cfg.MaxPerWindow, s.cfg.Window, errs.ErrRateLimited)
		}

		expired := 0
		if resend {
			if expired, err = tx.ExpireOpenOTPs(ctx, leaseID, purpose, now); err != nil {
				return err
			}
		}

		if code, err = s.newCode(s.cfg.CodeLength); err != nil {
			return err
		}
		salt, err := crypto.RandBytes(crypto.SaltLen)
		if err != nil {
			return err
		}
		o = &model.OTP{
			ID:        newID(),
			LeaseID:   leaseID,
			Phone:     phone,
			Purpose:   purpose,
			CodeHash:  crypto.HashCode(code, salt),
			CodeSalt:  salt,
			ExpiresAt: now.Add(s.cfg.Expiry),
			CreatedAt: now,
		}
		if err := tx.InsertOTP(ctx, o); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action: model.ActionOTPSent,
			Payload: map[string]any{
				"otp_id":     o.ID.String(),
				"phone":      notify.MaskPhone(phone),
				"purpose":    purpose,
				"expires_at": o.ExpiresAt,
				"resend":     resend,
				"superseded": expired,
			},
			Description: "Verification code sent to " + notify.MaskPhone(phone),
		})
	})
	if err != nil {
		return nil, err
	}

	err = s.sender.Send(ctx, notify.Message{
		Channel: notify.SMS,
		To:      phone,
		Body:    notify.OTPMessage(code, s.cfg.Expiry, lease.ReferenceNumber),
		Meta:    notify.Meta{"type": "otp", "reference": lease.ReferenceNumber},
	})
	if err != nil {
		s.log.Warn("otp delivery failed",
			zap.String("lease_id", leaseID.String()),
			zap.String("otp_id", o.ID.String()),
			zap.String("phone", notify.MaskPhone(phone)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("otp %s: %w", o.ID, errs.ErrSendingFailure)
	}
	return o, nil
}

// Verify checks code. Attempts are recorded even when the answer is false;
// the attempt that exhausts the budget expires the code.
func (s *OTPServiceImpl) Verify(ctx context.Context, leaseID uuid.UUID, code string, actor model.Actor) (bool, error) {
	var ok bool
	err := s.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockLease(ctx, leaseID); err != nil {
			return err
		}
		o, err := tx.LatestOTP(ctx, leaseID, model.PurposeDigitalSigning)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		if !o.Open(now) {
			return nil
		}

		o.Attempts++
		if crypto.VerifyCode(code, o.CodeSalt, o.CodeHash) {
			ok = true
			o.Verified = true
			o.VerifiedAt = &now
			o.VerifiedIP = actor.IP
		} else if o.Attempts >= s.cfg.MaxVerifyAttempts {
			o.Expired = true
		}
		if err := tx.UpdateOTP(ctx, o); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return s.audit.Append(ctx, tx, leaseID, actor, AuditRecord{
			Action:      model.ActionOTPVerified,
			Payload:     map[string]any{"otp_id": o.ID.String(), "attempts": o.Attempts},
			Description: "Verification code confirmed",
		})
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// HasVerifiedOTP reports whether the signing gate is open.
func (s *OTPServiceImpl) HasVerifiedOTP(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	_, err := s.verified(ctx, s.store, leaseID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// verified returns the OTP that currently opens the signing gate.
func (s *OTPServiceImpl) verified(ctx context.Context, r repository.Reader, leaseID uuid.UUID) (*model.OTP, error) {
	var since time.Time
	if s.cfg.VerifiedValidity > 0 {
		since = s.now().Add(-s.cfg.VerifiedValidity)
	}
	return r.LatestVerifiedOTP(ctx, leaseID, model.PurposeDigitalSigning, since)
}
