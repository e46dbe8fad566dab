package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOTPMessage(t *testing.T) {
	got := OTPMessage("012345", 10*time.Minute, "LSE-001")
	require.Equal(t, "Your verification code is: 012345. Valid for 10 minutes. Ref: LSE-001. Do not share this code.", got)
}

func TestSigningLinkMessage(t *testing.T) {
	got := SigningLinkMessage("LSE-001", "https://p/sign/x?token=t", 72*time.Hour)
	require.Contains(t, got, "https://p/sign/x?token=t")
	require.Contains(t, got, "72 hours")
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0.00", FormatAmount(0))
	require.Equal(t, "25,000.00", FormatAmount(2500000))
	require.Equal(t, "1,234,567.89", FormatAmount(123456789))
	require.Equal(t, "-10.05", FormatAmount(-1005))
}
