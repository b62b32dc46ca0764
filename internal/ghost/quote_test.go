package ghost_test

import (
	"math/big"
	"testing"

	"github.com/ghostodds/backend/internal/ghost"
)

func balancedMarket(yes, no uint64, feeBps uint16) *ghost.Market {
	return &ghost.Market{
		MarketID:   7,
		YesReserve: yes,
		NoReserve:  no,
		Status:     ghost.StatusActive,
		FeeBps:     feeBps,
	}
}

// TestQuoteBuyReference pins the arithmetic against a hand-computed
// trade. Pure integer math, no I/O.
//
//	yesReserve = 500_000_000, noReserve = 500_000_000, fee = 200 bps
//	buy YES with 100_000_000 collateral:
//	  fee       = ceil(100_000_000 × 200 / 10_000) = 2_000_000
//	  afterFee  = 98_000_000
//	  newNo     = 598_000_000
//	  k         = 500_000_000 × 500_000_000
//	  newYes    = k / 598_000_000 = 418_060_200 (truncated)
//	  tokensOut = 500_000_000 - 418_060_200 = 81_939_800
func TestQuoteBuyReference(t *testing.T) {
	m := balancedMarket(500_000_000, 500_000_000, 200)

	q, err := ghost.QuoteBuy(m, true, 100_000_000)
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}

	if q.FeeAmount != 2_000_000 {
		t.Errorf("fee = %d, want 2_000_000", q.FeeAmount)
	}
	if q.NewNoReserve != 598_000_000 {
		t.Errorf("newNoReserve = %d, want 598_000_000", q.NewNoReserve)
	}
	if q.NewYesReserve != 418_060_200 {
		t.Errorf("newYesReserve = %d, want 418_060_200", q.NewYesReserve)
	}
	if q.AmountOut != 81_939_800 {
		t.Errorf("tokensOut = %d, want 81_939_800", q.AmountOut)
	}

	// YES got scarcer, so its implied probability must rise above 0.5.
	after := balancedMarket(q.NewYesReserve, q.NewNoReserve, 200)
	if p := ghost.SpotPrice(after, true); p <= 0.5 {
		t.Errorf("post-trade YES price = %f, want > 0.5", p)
	}
}

// TestQuoteBuyPreservesInvariant checks that the product of reserves
// after a quoted buy never drops below the pre-trade product. Fees and
// truncation both round in the pool's favour, so the product may only
// grow.
func TestQuoteBuyPreservesInvariant(t *testing.T) {
	cases := []struct {
		yes, no, in uint64
		feeBps      uint16
	}{
		{500_000_000, 500_000_000, 100_000_000, 200},
		{1_000_000, 900_000_000, 50_000, 30},
		{123_456_789, 987_654_321, 10_000_000, 1000},
		{2, 2, 2, 0},
	}
	for _, tc := range cases {
		m := balancedMarket(tc.yes, tc.no, tc.feeBps)
		q, err := ghost.QuoteBuy(m, true, tc.in)
		if err != nil {
			t.Fatalf("QuoteBuy(%+v): %v", tc, err)
		}
		before := new(big.Int).Mul(
			new(big.Int).SetUint64(tc.yes),
			new(big.Int).SetUint64(tc.no),
		)
		after := new(big.Int).Mul(
			new(big.Int).SetUint64(q.NewYesReserve),
			new(big.Int).SetUint64(q.NewNoReserve),
		)
		if after.Cmp(before) < 0 {
			t.Errorf("reserves %d/%d in=%d: product shrank from %s to %s",
				tc.yes, tc.no, tc.in, before, after)
		}
	}
}

func TestQuoteSellInvariantAndFee(t *testing.T) {
	m := balancedMarket(400_000_000, 600_000_000, 250)

	q, err := ghost.QuoteSell(m, true, 20_000_000)
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}

	// Selling YES grows the YES reserve by exactly the input.
	if q.NewYesReserve != 420_000_000 {
		t.Errorf("newYesReserve = %d, want 420_000_000", q.NewYesReserve)
	}

	// gross = 600_000_000 - k/420_000_000; fee = ceil(gross × 250/10_000)
	gross := q.AmountOut + q.FeeAmount
	wantFee := (gross*250 + 9_999) / 10_000
	if q.FeeAmount != wantFee {
		t.Errorf("fee = %d, want %d (gross %d)", q.FeeAmount, wantFee, gross)
	}

	before := new(big.Int).Mul(big.NewInt(400_000_000), big.NewInt(600_000_000))
	after := new(big.Int).Mul(
		new(big.Int).SetUint64(q.NewYesReserve),
		new(big.Int).SetUint64(q.NewNoReserve),
	)
	if after.Cmp(before) < 0 {
		t.Errorf("product shrank from %s to %s", before, after)
	}
}

// TestEffectivePriceMonotonic verifies convexity: bigger buys pay a
// strictly worse price per token.
func TestEffectivePriceMonotonic(t *testing.T) {
	m := balancedMarket(500_000_000, 500_000_000, 200)

	small, err := ghost.QuoteBuy(m, true, 10_000_000)
	if err != nil {
		t.Fatalf("small quote: %v", err)
	}
	large, err := ghost.QuoteBuy(m, true, 200_000_000)
	if err != nil {
		t.Fatalf("large quote: %v", err)
	}
	if large.EffectivePrice <= small.EffectivePrice {
		t.Errorf("large trade price %f should exceed small trade price %f",
			large.EffectivePrice, small.EffectivePrice)
	}

	smallSell, err := ghost.QuoteSell(m, true, 10_000_000)
	if err != nil {
		t.Fatalf("small sell: %v", err)
	}
	largeSell, err := ghost.QuoteSell(m, true, 200_000_000)
	if err != nil {
		t.Fatalf("large sell: %v", err)
	}
	smallPer := float64(smallSell.AmountOut) / float64(smallSell.AmountIn)
	largePer := float64(largeSell.AmountOut) / float64(largeSell.AmountIn)
	if largePer >= smallPer {
		t.Errorf("large sell %f per token should be worse than small sell %f", largePer, smallPer)
	}
}

func TestSpotPriceBounds(t *testing.T) {
	cases := []struct{ yes, no uint64 }{
		{1, 1},
		{1, 1_000_000_000_000},
		{1_000_000_000_000, 1},
		{500_000_000, 500_000_000},
	}
	for _, tc := range cases {
		m := balancedMarket(tc.yes, tc.no, 0)
		p := ghost.SpotPrice(m, true)
		if p <= 0 || p >= 1 {
			t.Errorf("SpotPrice(%d, %d) = %f, want in (0, 1)", tc.yes, tc.no, p)
		}
		// YES and NO prices are complementary.
		if q := ghost.SpotPrice(m, false); p+q < 0.999 || p+q > 1.001 {
			t.Errorf("YES %f + NO %f should sum to ~1", p, q)
		}
	}

	empty := balancedMarket(0, 0, 0)
	if p := ghost.SpotPrice(empty, true); p != 0.5 {
		t.Errorf("empty market YES price = %f, want 0.5", p)
	}
}

func TestMinOutNeverLooser(t *testing.T) {
	for _, tol := range []uint16{0, 1, 50, 100, 9_999, 10_000} {
		got, err := ghost.MinOut(81_939_800, tol)
		if err != nil {
			t.Fatalf("MinOut(tol=%d): %v", tol, err)
		}
		if got > 81_939_800 {
			t.Errorf("MinOut(tol=%d) = %d exceeds expected output", tol, got)
		}
		if tol == 0 && got != 81_939_800 {
			t.Errorf("MinOut(tol=0) = %d, want exact expected output", got)
		}
		if tol > 0 && got >= 81_939_800 {
			t.Errorf("MinOut(tol=%d) = %d, want strictly below expected", tol, got)
		}
	}

	if _, err := ghost.MinOut(1, 10_001); err == nil {
		t.Error("tolerance above 10_000 bps should be rejected")
	}
}

func TestQuoteRejectsBadInput(t *testing.T) {
	m := balancedMarket(500, 500, 100)

	if _, err := ghost.QuoteBuy(m, true, 0); err == nil {
		t.Error("zero buy amount should be rejected")
	}
	if _, err := ghost.QuoteSell(m, false, 0); err == nil {
		t.Error("zero sell amount should be rejected")
	}

	drained := balancedMarket(0, 500, 100)
	if _, err := ghost.QuoteBuy(drained, true, 100); err == nil {
		t.Error("quoting against an empty reserve should be rejected")
	}
}

func TestHighImpactFlag(t *testing.T) {
	m := balancedMarket(100_000_000, 900_000_000, 100)

	// 30% of the smaller reserve is 30_000_000.
	small, err := ghost.QuoteBuy(m, true, 30_000_000)
	if err != nil {
		t.Fatalf("small quote: %v", err)
	}
	if small.HighImpact {
		t.Error("trade at the 30%% threshold should not be flagged")
	}

	large, err := ghost.QuoteBuy(m, true, 30_000_001)
	if err != nil {
		t.Fatalf("large quote: %v", err)
	}
	if !large.HighImpact {
		t.Error("trade above 30%% of the smaller reserve should be flagged")
	}
}
