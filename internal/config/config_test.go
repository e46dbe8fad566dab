package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/leaseflow/internal/service"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/leases?sslmode=disable")
	t.Setenv("JWT_KEY", "jwt-secret")
	t.Setenv("SIGNING_KEY", "link-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Equal(t, 6, cfg.OTP.CodeLength)
	require.Equal(t, 10*time.Minute, cfg.OTP.Expiry)
	require.Equal(t, 3, cfg.OTP.MaxPerWindow)
	require.Equal(t, time.Hour, cfg.OTP.Window)
	require.Equal(t, 30*time.Minute, cfg.OTP.VerifiedValidity)
	require.Equal(t, 72*time.Hour, cfg.Signing.LinkExpiry)
	require.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, cfg.Dispatch.Backoff)
	require.Equal(t, service.MethodBoth, cfg.SigningConfig().DefaultMethod)
	require.Equal(t, 3, cfg.OTPConfig().MaxVerifyAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_CODE_LENGTH", "8")
	t.Setenv("OTP_MAX_PER_WINDOW", "5")
	t.Setenv("SIGNING_DEFAULT_METHOD", "sms")
	t.Setenv("DISPATCH_BACKOFF", "1s,2s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.OTP.CodeLength)
	require.Equal(t, 5, cfg.OTP.MaxPerWindow)
	require.Equal(t, service.MethodSMS, cfg.SigningConfig().DefaultMethod)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Dispatch.Backoff)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_KEY", "")
	t.Setenv("SIGNING_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_CODE_LENGTH", "2")
	t.Setenv("SIGNING_DEFAULT_METHOD", "fax")
	t.Setenv("TLS_CERT", "cert.pem")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OTP_CODE_LENGTH")
	require.Contains(t, err.Error(), "SIGNING_DEFAULT_METHOD")
	require.Contains(t, err.Error(), "TLS_CERT")
}
