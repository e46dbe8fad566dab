package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToInternational(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0712345678", "+254712345678"},
		{"+254712345678", "+254712345678"},
		{"254712345678", "+254712345678"},
		{"712345678", "+254712345678"},
		{"0712 345-678", "+254712345678"},
		{"+447911123456", "+447911123456"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ToInternational(tc.in, ""), tc.in)
	}
	require.Equal(t, "+256712345678", ToInternational("0712345678", "256"))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "+254****000", MaskPhone("+254700000000"))
	require.Equal(t, "+254****678", MaskPhone("0712345678"))
}

func TestValidPhone(t *testing.T) {
	require.True(t, ValidPhone("0712345678"))
	require.True(t, ValidPhone("+254700000000"))
	require.False(t, ValidPhone("+1234"))
	require.False(t, ValidPhone("+2547123456789012345"))
}
