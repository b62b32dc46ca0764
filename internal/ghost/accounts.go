package ghost

import "github.com/gagliardetto/solana-go"

// Market lifecycle status. Transitions are one-way: Active -> Resolved or
// Active -> Cancelled.
const (
	StatusActive    uint8 = 0
	StatusResolved  uint8 = 2
	StatusCancelled uint8 = 3
)

// Resolution comparison operators for oracle-settled markets.
const (
	OperatorGTE uint8 = 0
	OperatorLTE uint8 = 1
	OperatorEQ  uint8 = 2
)

// Client-side argument limits, mirroring the program's require! guards.
const (
	MaxQuestionLen         = 128
	MaxDescriptionLen      = 200
	MaxCategoryLen         = 32
	MaxResolutionSourceLen = 64
	MaxFeeBps              = 1000
	BpsDenominator         = 10_000
)

// Platform is the singleton program state account.
type Platform struct {
	Authority   solana.PublicKey
	MarketCount uint64
	TotalVolume uint64
	FeeBps      uint16
	Treasury    solana.PublicKey
	Bump        uint8
}

// Market is one binary prediction market. YesReserve and NoReserve are the
// two sides of the constant-product pool; both are strictly positive while
// the market is Active.
type Market struct {
	MarketID           uint64
	Authority          solana.PublicKey
	Question           string
	Description        string
	Category           string
	CollateralMint     solana.PublicKey
	YesMint            solana.PublicKey
	NoMint             solana.PublicKey
	Vault              solana.PublicKey
	YesReserve         uint64
	NoReserve          uint64
	TotalLiquidity     uint64
	Volume             uint64
	ResolutionSource   string
	ResolutionValue    *uint64
	ResolutionOperator uint8
	CreatedAt          int64
	ExpiresAt          int64
	LockTime           int64
	ResolvedAt         *int64
	Outcome            *bool
	Status             uint8
	FeeBps             uint16
	Bump               uint8
}

// Position tracks one user's holdings in one market. Created lazily on first
// buy, never deleted; zero balances are a valid terminal state.
type Position struct {
	User           solana.PublicKey
	MarketID       uint64
	YesTokens      uint64
	NoTokens       uint64
	TotalDeposited uint64
	TotalWithdrawn uint64
	Bump           uint8
}

// Byte offset of Position.User, used as a server-side memcmp filter. Must
// stay in lock-step with the decode layout.
const positionUserOffset = 8

// Active reports whether the market accepts trades at the given unix time.
func (m *Market) Active(now int64) bool {
	return m.Status == StatusActive && now < m.LockTime
}

// OracleResolved reports whether the market settles against an oracle price
// rather than a manual authority decision.
func (m *Market) OracleResolved() bool {
	return m.ResolutionValue != nil
}

// validate enforces invariants that a correctly functioning program can never
// break. A violation means the codec disagrees with the remote layout, so it
// is a hard DecodeError rather than a coerced value.
func (m *Market) validate() error {
	switch m.Status {
	case StatusActive, StatusResolved, StatusCancelled:
	default:
		return decodeErrorf("market %d has impossible status %d", m.MarketID, m.Status)
	}
	if m.FeeBps > BpsDenominator {
		return decodeErrorf("market %d fee %d exceeds %d bps", m.MarketID, m.FeeBps, BpsDenominator)
	}
	if m.Status == StatusResolved && m.Outcome == nil {
		return decodeErrorf("market %d resolved without an outcome", m.MarketID)
	}
	if m.Status == StatusActive && (m.YesReserve == 0 || m.NoReserve == 0) {
		return decodeErrorf("market %d active with empty reserve (yes=%d no=%d)", m.MarketID, m.YesReserve, m.NoReserve)
	}
	return nil
}

func (p *Platform) validate() error {
	if p.FeeBps > BpsDenominator {
		return decodeErrorf("platform fee %d exceeds %d bps", p.FeeBps, BpsDenominator)
	}
	return nil
}
