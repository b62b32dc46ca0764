package ghost_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/ghostodds/backend/internal/ghost"
)

func u64ptr(v uint64) *uint64 { return &v }
func i64ptr(v int64) *int64   { return &v }
func boolptr(v bool) *bool    { return &v }

func sampleMarket() *ghost.Market {
	return &ghost.Market{
		MarketID:           42,
		Authority:          solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"),
		Question:           "Will SOL close above $300 on 2026-12-31?",
		Description:        "Resolved against the daily close reported by the resolution source.",
		Category:           "crypto",
		CollateralMint:     solana.WrappedSol,
		YesMint:            solana.MustPublicKeyFromBase58("9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E"),
		NoMint:             solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		Vault:              solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"),
		YesReserve:         500_000_000,
		NoReserve:          500_000_000,
		TotalLiquidity:     1_000_000_000,
		Volume:             123_456,
		ResolutionSource:   "pyth:SOL/USD",
		ResolutionValue:    u64ptr(300_000_000),
		ResolutionOperator: ghost.OperatorGTE,
		CreatedAt:          1_767_225_600,
		ExpiresAt:          1_798_761_600,
		LockTime:           1_798_718_400,
		Status:             ghost.StatusActive,
		FeeBps:             200,
		Bump:               254,
	}
}

func TestMarketRoundTrip(t *testing.T) {
	cases := map[string]*ghost.Market{
		"active": sampleMarket(),
		"resolved": func() *ghost.Market {
			m := sampleMarket()
			m.Status = ghost.StatusResolved
			m.ResolvedAt = i64ptr(1_798_761_700)
			m.Outcome = boolptr(true)
			return m
		}(),
		"no oracle": func() *ghost.Market {
			m := sampleMarket()
			m.ResolutionValue = nil
			m.ResolutionSource = ""
			return m
		}(),
	}
	for name, want := range cases {
		raw, err := ghost.EncodeMarket(want)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		got, err := ghost.DecodeMarket(raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: round trip mismatch:\ngot  %+v\nwant %+v", name, got, want)
		}
	}
}

func TestPlatformRoundTrip(t *testing.T) {
	want := &ghost.Platform{
		Authority:   solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"),
		MarketCount: 17,
		TotalVolume: 9_876_543_210,
		FeeBps:      250,
		Treasury:    solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"),
		Bump:        255,
	}
	raw, err := ghost.EncodePlatform(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ghost.DecodePlatform(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	want := &ghost.Position{
		User:           solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"),
		MarketID:       42,
		YesTokens:      81_939_800,
		NoTokens:       0,
		TotalDeposited: 100_000_000,
		TotalWithdrawn: 0,
		Bump:           253,
	}
	raw, err := ghost.EncodePosition(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ghost.DecodePosition(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

// Discriminators are sha256 of "account:<Name>"; the expected bytes
// here match the on-chain program's IDL.
func TestAccountDiscriminators(t *testing.T) {
	cases := []struct {
		name string
		got  [8]byte
		want []byte
	}{
		{"Platform", ghost.PlatformDiscriminator, []byte{220, 50, 196, 76, 209, 84, 234, 38}},
		{"Market", ghost.MarketDiscriminator, []byte{219, 190, 213, 55, 0, 227, 198, 154}},
		{"UserPosition", ghost.PositionDiscriminator, []byte{251, 248, 209, 162, 48, 175, 183, 74}},
	}
	for _, tc := range cases {
		if !bytes.Equal(tc.got[:], tc.want) {
			t.Errorf("%s discriminator = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestDecodeRejectsWrongDiscriminator(t *testing.T) {
	raw, err := ghost.EncodePlatform(&ghost.Platform{FeeBps: 100})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// A Platform image is long enough to pass Position's length check
	// but carries the wrong tag.
	_, err = ghost.DecodePosition(raw)
	var decodeErr *ghost.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("decoding mismatched bytes returned %v, want DecodeError", err)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	raw, err := ghost.EncodeMarket(sampleMarket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decodeErr *ghost.DecodeError
	if _, err := ghost.DecodeMarket(raw[:40]); !errors.As(err, &decodeErr) {
		t.Errorf("truncated market decode returned %v, want DecodeError", err)
	}
	if _, err := ghost.DecodeMarket(nil); !errors.As(err, &decodeErr) {
		t.Errorf("nil market decode returned %v, want DecodeError", err)
	}
}

// Accounts are allocated at their maximum rent size, so real blobs
// carry zero padding past the last field.
func TestDecodeMarketToleratesTrailingPadding(t *testing.T) {
	want := sampleMarket()
	raw, err := ghost.EncodeMarket(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	padded := append(raw, make([]byte, 200)...)

	got, err := ghost.DecodeMarket(padded)
	if err != nil {
		t.Fatalf("decode padded: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("padded decode mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestDecodeRejectsImpossibleRecords(t *testing.T) {
	var decodeErr *ghost.DecodeError

	badStatus := sampleMarket()
	badStatus.Status = 9
	raw, err := ghost.EncodeMarket(badStatus)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ghost.DecodeMarket(raw); !errors.As(err, &decodeErr) {
		t.Errorf("impossible status decode returned %v, want DecodeError", err)
	}

	missingOutcome := sampleMarket()
	missingOutcome.Status = ghost.StatusResolved
	raw, err = ghost.EncodeMarket(missingOutcome)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ghost.DecodeMarket(raw); !errors.As(err, &decodeErr) {
		t.Errorf("resolved-without-outcome decode returned %v, want DecodeError", err)
	}
}
