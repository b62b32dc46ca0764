package ghost

import (
	"math/big"
)

// highImpactNumer/Denom flag trades larger than 30% of the smaller reserve.
const (
	highImpactNumer = 3
	highImpactDenom = 10
)

// Quote is the projected outcome of a single swap against a reserve
// snapshot. Amounts are exact integer math mirroring the on-chain
// program; prices are float approximations for display only.
type Quote struct {
	AmountIn      uint64
	FeeAmount     uint64
	AmountOut     uint64
	NewYesReserve uint64
	NewNoReserve  uint64

	SpotPrice      float64
	EffectivePrice float64
	PriceImpact    float64
	HighImpact     bool
}

// QuoteBuy projects buying outcome tokens with amountIn collateral.
// Buying YES routes collateral through the NO reserve and drains the
// YES reserve; buying NO is the mirror. The fee is taken from the input
// and rounds up, and the constant-product division truncates, both
// matching the program's u128 arithmetic exactly.
func QuoteBuy(m *Market, outcomeYes bool, amountIn uint64) (*Quote, error) {
	if amountIn == 0 {
		return nil, invalidArgf("amount must be positive")
	}
	if m.YesReserve == 0 || m.NoReserve == 0 {
		return nil, invalidArgf("market has empty reserves")
	}

	fee := ceilDiv(mul(amountIn, uint64(m.FeeBps)), BpsDenominator)
	afterFee := new(big.Int).Sub(big.NewInt(0).SetUint64(amountIn), fee)
	if afterFee.Sign() <= 0 {
		return nil, invalidArgf("amount too small to cover fee")
	}

	inReserve, outReserve := m.NoReserve, m.YesReserve
	if !outcomeYes {
		inReserve, outReserve = m.YesReserve, m.NoReserve
	}

	k := mul(inReserve, outReserve)
	newIn := new(big.Int).Add(u128(inReserve), afterFee)
	newOut := new(big.Int).Quo(k, newIn)
	tokensOut := new(big.Int).Sub(u128(outReserve), newOut)
	if tokensOut.Sign() <= 0 {
		return nil, invalidArgf("amount too small for current reserves")
	}

	q := &Quote{
		AmountIn:   amountIn,
		FeeAmount:  fee.Uint64(),
		AmountOut:  tokensOut.Uint64(),
		HighImpact: highImpact(amountIn, m.YesReserve, m.NoReserve),
	}
	if outcomeYes {
		q.NewNoReserve = newIn.Uint64()
		q.NewYesReserve = newOut.Uint64()
	} else {
		q.NewYesReserve = newIn.Uint64()
		q.NewNoReserve = newOut.Uint64()
	}
	q.fillPrices(m, outcomeYes)
	return q, nil
}

// QuoteSell projects selling amountIn outcome tokens back for
// collateral. The sold side's reserve grows, the opposite reserve pays
// out, and the fee is taken from the payout, rounded up.
func QuoteSell(m *Market, outcomeYes bool, amountIn uint64) (*Quote, error) {
	if amountIn == 0 {
		return nil, invalidArgf("amount must be positive")
	}
	if m.YesReserve == 0 || m.NoReserve == 0 {
		return nil, invalidArgf("market has empty reserves")
	}

	inReserve, outReserve := m.YesReserve, m.NoReserve
	if !outcomeYes {
		inReserve, outReserve = m.NoReserve, m.YesReserve
	}

	k := mul(inReserve, outReserve)
	newIn := new(big.Int).Add(u128(inReserve), u128(amountIn))
	newOut := new(big.Int).Quo(k, newIn)
	gross := new(big.Int).Sub(u128(outReserve), newOut)
	if gross.Sign() <= 0 {
		return nil, invalidArgf("amount too small for current reserves")
	}

	fee := ceilDiv(new(big.Int).Mul(gross, u128(uint64(m.FeeBps))), BpsDenominator)
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 {
		return nil, invalidArgf("amount too small to cover fee")
	}

	q := &Quote{
		AmountIn:   amountIn,
		FeeAmount:  fee.Uint64(),
		AmountOut:  net.Uint64(),
		HighImpact: highImpact(amountIn, m.YesReserve, m.NoReserve),
	}
	if outcomeYes {
		q.NewYesReserve = newIn.Uint64()
		q.NewNoReserve = newOut.Uint64()
	} else {
		q.NewNoReserve = newIn.Uint64()
		q.NewYesReserve = newOut.Uint64()
	}
	q.fillPrices(m, outcomeYes)
	return q, nil
}

// MinOut converts an expected output into the hard floor embedded in
// the instruction payload. Truncation keeps the bound at or below the
// requested tolerance.
func MinOut(expectedOut uint64, toleranceBps uint16) (uint64, error) {
	if toleranceBps > BpsDenominator {
		return 0, invalidArgf("tolerance %d exceeds %d bps", toleranceBps, BpsDenominator)
	}
	v := new(big.Int).Quo(
		mul(expectedOut, BpsDenominator-uint64(toleranceBps)),
		big.NewInt(BpsDenominator),
	)
	return v.Uint64(), nil
}

// SpotPrice returns the implied probability of the requested outcome.
// An uninitialized market with both reserves at zero reads as 0.5.
func SpotPrice(m *Market, outcomeYes bool) float64 {
	if m.YesReserve == 0 && m.NoReserve == 0 {
		return 0.5
	}
	total := new(big.Float).Add(
		new(big.Float).SetUint64(m.YesReserve),
		new(big.Float).SetUint64(m.NoReserve),
	)
	opposite := m.NoReserve
	if !outcomeYes {
		opposite = m.YesReserve
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetUint64(opposite), total).Float64()
	return out
}

func (q *Quote) fillPrices(m *Market, outcomeYes bool) {
	q.SpotPrice = SpotPrice(m, outcomeYes)
	if q.AmountOut > 0 {
		q.EffectivePrice = float64(q.AmountIn) / float64(q.AmountOut)
	}
	if q.SpotPrice > 0 {
		impact := (q.EffectivePrice - q.SpotPrice) / q.SpotPrice
		if impact < 0 {
			impact = -impact
		}
		q.PriceImpact = impact
	}
}

func highImpact(amountIn, yesReserve, noReserve uint64) bool {
	smaller := yesReserve
	if noReserve < smaller {
		smaller = noReserve
	}
	threshold := new(big.Int).Quo(mul(smaller, highImpactNumer), big.NewInt(highImpactDenom))
	return u128(amountIn).Cmp(threshold) > 0
}

func u128(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func mul(a, b uint64) *big.Int { return new(big.Int).Mul(u128(a), u128(b)) }

func ceilDiv(numer *big.Int, denom int64) *big.Int {
	d := big.NewInt(denom)
	sum := new(big.Int).Add(numer, new(big.Int).Sub(d, big.NewInt(1)))
	return sum.Quo(sum, d)
}
