package ghost

import "testing"

func TestClassifyRejection(t *testing.T) {
	cases := []struct {
		message string
		want    RejectionKind
	}{
		{"Error Message: Slippage tolerance exceeded", RejectionSlippage},
		{"Error Message: Unauthorized resolver", RejectionUnauthorized},
		{"Error Message: Market is not active", RejectionMarketState},
		{"Error Message: Market trading is locked before expiry", RejectionMarketState},
		{"Error Message: Market has not expired yet", RejectionMarketState},
		{"Error Message: Market already resolved", RejectionMarketState},
		{"custom program error: 0x1771", RejectionUnknown},
	}
	for _, tc := range cases {
		got := classifyRejection(tc.message)
		if got.Kind != tc.want {
			t.Errorf("classifyRejection(%q).Kind = %s, want %s", tc.message, got.Kind, tc.want)
		}
		if got.Message != tc.message {
			t.Errorf("classifyRejection(%q) lost the raw message: %q", tc.message, got.Message)
		}
	}
}
