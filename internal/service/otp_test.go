package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
)

var tenant = model.Actor{Role: model.RoleTenant, IP: "192.0.2.7", UserAgent: "phone"}

func TestOTP_GenerateAndSend(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	o, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	require.Equal(t, model.PurposeDigitalSigning, o.Purpose)
	require.Equal(t, "+254712345678", o.Phone)
	require.Equal(t, e.clock.Now().Add(10*time.Minute), o.ExpiresAt)
	require.Len(t, o.CodeSalt, 16)

	msg := e.sender.last(t)
	require.Equal(t, notify.SMS, msg.Channel)
	require.Equal(t, "+254712345678", msg.To)
	code := e.lastCode(t)
	require.Len(t, code, 6)
	require.NotContains(t, string(o.CodeHash), code)

	require.Contains(t, e.auditActions(t, l.ID), model.ActionOTPSent)
}

func TestOTP_InvalidPhone(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.lease(t, true)

	_, err := e.otp.GenerateAndSend(context.Background(), l.ID, "123", "", tenant)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestOTP_RateLimit(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	for i := range 3 {
		_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
		require.NoError(t, err, "call %d", i+1)
	}
	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", errs.Code(err))

	_, err = e.otp.Resend(ctx, l.ID, "", tenant)
	require.ErrorIs(t, err, errs.ErrRateLimited)

	// another number has its own budget
	_, err = e.otp.GenerateAndSend(ctx, l.ID, "0799000111", "", tenant)
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	_, err = e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
}

func TestOTP_VerifyCorrectCode(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	code := e.lastCode(t)

	ok, err := e.otp.HasVerifiedOTP(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.otp.Verify(ctx, l.ID, code, tenant)
	require.NoError(t, err)
	require.True(t, ok)

	o, err := e.store.LatestOTP(ctx, l.ID, model.PurposeDigitalSigning)
	require.NoError(t, err)
	require.True(t, o.Verified)
	require.Equal(t, tenant.IP, o.VerifiedIP)

	ok, err = e.otp.HasVerifiedOTP(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// a verified code cannot be used twice
	ok, err = e.otp.Verify(ctx, l.ID, code, tenant)
	require.NoError(t, err)
	require.False(t, ok)

	e.clock.Advance(31 * time.Minute)
	ok, err = e.otp.HasVerifiedOTP(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOTP_VerifyExpired(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	code := e.lastCode(t)

	e.clock.Advance(10*time.Minute + time.Second)
	ok, err := e.otp.Verify(ctx, l.ID, code, tenant)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOTP_VerifyWithoutCandidate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.lease(t, true)

	ok, err := e.otp.Verify(context.Background(), l.ID, "123456", tenant)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOTP_AttemptsExhaustCode(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	code := e.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for range 3 {
		ok, err := e.otp.Verify(ctx, l.ID, wrong, tenant)
		require.NoError(t, err)
		require.False(t, ok)
	}
	ok, err := e.otp.Verify(ctx, l.ID, code, tenant)
	require.NoError(t, err)
	require.False(t, ok)

	o, err := e.store.LatestOTP(ctx, l.ID, model.PurposeDigitalSigning)
	require.NoError(t, err)
	require.True(t, o.Expired)
	require.Equal(t, 3, o.Attempts)
}

func TestOTP_ResendExpiresPreviousCode(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	first, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	firstCode := e.lastCode(t)

	e.clock.Advance(time.Second)
	second, err := e.otp.Resend(ctx, l.ID, "", tenant)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	secondCode := e.lastCode(t)

	if firstCode != secondCode {
		ok, err := e.otp.Verify(ctx, l.ID, firstCode, tenant)
		require.NoError(t, err)
		require.False(t, ok)
	}
	ok, err := e.otp.Verify(ctx, l.ID, secondCode, tenant)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOTP_SendFailureKeepsRecord(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)
	e.sender.sendErr = errors.New("gateway down")

	o, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.ErrorIs(t, err, errs.ErrSendingFailure)
	require.Nil(t, o)

	stored, err := e.store.LatestOTP(ctx, l.ID, model.PurposeDigitalSigning)
	require.NoError(t, err)
	require.False(t, stored.Verified)

	ok, err := e.otp.Verify(ctx, l.ID, e.lastCode(t), tenant)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOTP_RateLimitIsRolling(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	gen := func() error {
		_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
		return err
	}
	require.NoError(t, gen())
	e.clock.Advance(58 * time.Minute)
	require.NoError(t, gen())
	e.clock.Advance(time.Minute)
	require.NoError(t, gen())

	// at 61m the first code has aged out, the two late ones have not
	e.clock.Advance(2 * time.Minute)
	require.NoError(t, gen())
	require.ErrorIs(t, gen(), errs.ErrRateLimited)
	require.ErrorIs(t, gen(), errs.ErrRateLimited)
}

func TestOTP_UnknownPurpose(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.lease(t, true)

	ctx := context.Background()
	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "password_reset", tenant)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.store.LatestOTP(ctx, l.ID, "password_reset")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
