package ghost

import (
	"github.com/gagliardetto/solana-go"
)

// Constants mirrored from the on-chain program's validation so bad
// arguments are rejected locally before touching the network.
const (
	MinMarketDuration = 86_400
	LockBeforeExpiry  = 43_200

	// After expiry only the market authority may resolve until this window
	// elapses; then resolution is permissionless for oracle markets.
	ResolutionGracePeriod = 86_400
)

// CreateMarketArgs carries the create_market instruction arguments in
// declaration order.
type CreateMarketArgs struct {
	Question           string
	Description        string
	Category           string
	ResolutionSource   string
	ResolutionValue    *uint64
	ResolutionOperator uint8
	ExpiresAt          int64
	InitialLiquidity   uint64
}

func (a *CreateMarketArgs) validate() error {
	if a.Question == "" || len(a.Question) > MaxQuestionLen {
		return invalidArgf("question length %d outside 1..%d", len(a.Question), MaxQuestionLen)
	}
	if len(a.Description) > MaxDescriptionLen {
		return invalidArgf("description length %d exceeds %d", len(a.Description), MaxDescriptionLen)
	}
	if len(a.Category) > MaxCategoryLen {
		return invalidArgf("category length %d exceeds %d", len(a.Category), MaxCategoryLen)
	}
	if len(a.ResolutionSource) > MaxResolutionSourceLen {
		return invalidArgf("resolution source length %d exceeds %d", len(a.ResolutionSource), MaxResolutionSourceLen)
	}
	if a.ResolutionOperator > OperatorEQ {
		return invalidArgf("unknown resolution operator %d", a.ResolutionOperator)
	}
	if a.InitialLiquidity < 2 {
		return invalidArgf("initial liquidity %d too small to split across reserves", a.InitialLiquidity)
	}
	return nil
}

// NewInitializePlatformInstruction builds the one-time platform setup
// instruction.
func NewInitializePlatformInstruction(programID, authority, treasury solana.PublicKey, feeBps uint16) (solana.Instruction, error) {
	if feeBps > MaxFeeBps {
		return nil, invalidArgf("platform fee %d exceeds %d bps", feeBps, MaxFeeBps)
	}
	platform, _, err := DerivePlatformPDA(programID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(initializePlatformDisc)
	w.u16(feeBps)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(platform, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(treasury, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewCreateMarketInstruction builds create_market for the next market
// id. marketID must be the platform's current market counter; the
// program derives the market PDA from it and bumps the counter.
func NewCreateMarketInstruction(programID, authority, collateralMint, authorityCollateral solana.PublicKey, marketID uint64, args CreateMarketArgs) (solana.Instruction, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	platform, _, err := DerivePlatformPDA(programID)
	if err != nil {
		return nil, err
	}
	pdas, err := deriveMarketPDASet(programID, marketID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(createMarketDisc)
	w.str(args.Question)
	w.str(args.Description)
	w.str(args.Category)
	w.str(args.ResolutionSource)
	w.optionU64(args.ResolutionValue)
	w.u8(args.ResolutionOperator)
	w.i64(args.ExpiresAt)
	w.u64(args.InitialLiquidity)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(platform, true, false),
		solana.NewAccountMeta(pdas.Market, true, false),
		solana.NewAccountMeta(pdas.YesMint, true, false),
		solana.NewAccountMeta(pdas.NoMint, true, false),
		solana.NewAccountMeta(collateralMint, false, false),
		solana.NewAccountMeta(pdas.Vault, true, false),
		solana.NewAccountMeta(authorityCollateral, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}, data), nil
}

// NewBuyOutcomeInstruction builds buy_outcome. treasury is the platform
// treasury that receives the fee; user token accounts are the
// associated token accounts for the collateral and both outcome mints.
func NewBuyOutcomeInstruction(programID, user, collateralMint, treasury solana.PublicKey, marketID uint64, outcomeYes bool, amount, minTokensOut uint64) (solana.Instruction, error) {
	if amount == 0 {
		return nil, invalidArgf("amount must be positive")
	}
	accounts, err := tradeAccounts(programID, user, collateralMint, marketID)
	if err != nil {
		return nil, err
	}
	platform, _, err := DerivePlatformPDA(programID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(buyOutcomeDisc)
	w.u64(amount)
	w.boolean(outcomeYes)
	w.u64(minTokensOut)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.market, true, false),
		solana.NewAccountMeta(platform, true, false),
		solana.NewAccountMeta(accounts.yesMint, true, false),
		solana.NewAccountMeta(accounts.noMint, true, false),
		solana.NewAccountMeta(accounts.vault, true, false),
		solana.NewAccountMeta(treasury, true, false),
		solana.NewAccountMeta(accounts.userCollateral, true, false),
		solana.NewAccountMeta(accounts.userYes, true, false),
		solana.NewAccountMeta(accounts.userNo, true, false),
		solana.NewAccountMeta(accounts.position, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewSellOutcomeInstruction builds sell_outcome. Same account set as
// buy minus the system program; the position already exists by the
// time a user can sell.
func NewSellOutcomeInstruction(programID, user, collateralMint, treasury solana.PublicKey, marketID uint64, outcomeYes bool, amount, minCollateralOut uint64) (solana.Instruction, error) {
	if amount == 0 {
		return nil, invalidArgf("amount must be positive")
	}
	accounts, err := tradeAccounts(programID, user, collateralMint, marketID)
	if err != nil {
		return nil, err
	}
	platform, _, err := DerivePlatformPDA(programID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(sellOutcomeDisc)
	w.u64(amount)
	w.boolean(outcomeYes)
	w.u64(minCollateralOut)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.market, true, false),
		solana.NewAccountMeta(platform, true, false),
		solana.NewAccountMeta(accounts.yesMint, true, false),
		solana.NewAccountMeta(accounts.noMint, true, false),
		solana.NewAccountMeta(accounts.vault, true, false),
		solana.NewAccountMeta(treasury, true, false),
		solana.NewAccountMeta(accounts.userCollateral, true, false),
		solana.NewAccountMeta(accounts.userYes, true, false),
		solana.NewAccountMeta(accounts.userNo, true, false),
		solana.NewAccountMeta(accounts.position, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, data), nil
}

// NewResolveMarketInstruction builds resolve_market. pythAccount feeds
// the oracle-checked path; pass nil for a manual resolution and the
// program id is placed in the slot as the conventional none marker.
func NewResolveMarketInstruction(programID, resolver solana.PublicKey, pythAccount *solana.PublicKey, marketID uint64, outcome bool) (solana.Instruction, error) {
	market, _, err := DeriveMarketPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	pyth := programID
	if pythAccount != nil {
		pyth = *pythAccount
	}
	w := newBorshWriter(resolveMarketDisc)
	w.boolean(outcome)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(resolver, false, true),
		solana.NewAccountMeta(pyth, false, false),
	}, data), nil
}

// NewRedeemWinningsInstruction builds redeem_winnings for a resolved
// market.
func NewRedeemWinningsInstruction(programID, user, collateralMint solana.PublicKey, marketID uint64) (solana.Instruction, error) {
	accounts, err := tradeAccounts(programID, user, collateralMint, marketID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(redeemWinningsDisc)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.market, false, false),
		solana.NewAccountMeta(accounts.yesMint, true, false),
		solana.NewAccountMeta(accounts.noMint, true, false),
		solana.NewAccountMeta(accounts.vault, true, false),
		solana.NewAccountMeta(accounts.userCollateral, true, false),
		solana.NewAccountMeta(accounts.userYes, true, false),
		solana.NewAccountMeta(accounts.userNo, true, false),
		solana.NewAccountMeta(accounts.position, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, data), nil
}

// NewCancelMarketInstruction builds cancel_market; only the market
// authority (or platform authority) may sign it.
func NewCancelMarketInstruction(programID, authority solana.PublicKey, marketID uint64) (solana.Instruction, error) {
	market, _, err := DeriveMarketPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(cancelMarketDisc)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, data), nil
}

// NewRedeemCancelledInstruction builds redeem_cancelled. Unlike
// redeem_winnings the program reprices both sides pro rata and does
// not touch the position account.
func NewRedeemCancelledInstruction(programID, user, collateralMint solana.PublicKey, marketID uint64) (solana.Instruction, error) {
	accounts, err := tradeAccounts(programID, user, collateralMint, marketID)
	if err != nil {
		return nil, err
	}
	w := newBorshWriter(redeemCancelledDisc)
	data, err := w.finish()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.market, false, false),
		solana.NewAccountMeta(accounts.yesMint, true, false),
		solana.NewAccountMeta(accounts.noMint, true, false),
		solana.NewAccountMeta(accounts.vault, true, false),
		solana.NewAccountMeta(accounts.userCollateral, true, false),
		solana.NewAccountMeta(accounts.userYes, true, false),
		solana.NewAccountMeta(accounts.userNo, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, data), nil
}

// MarketPDASet bundles every address derived from one market id.
type MarketPDASet struct {
	Market  solana.PublicKey
	YesMint solana.PublicKey
	NoMint  solana.PublicKey
	Vault   solana.PublicKey
}

func deriveMarketPDASet(programID solana.PublicKey, marketID uint64) (*MarketPDASet, error) {
	market, _, err := DeriveMarketPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	yesMint, _, err := DeriveYesMintPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	noMint, _, err := DeriveNoMintPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	vault, _, err := DeriveVaultPDA(programID, marketID)
	if err != nil {
		return nil, err
	}
	return &MarketPDASet{Market: market, YesMint: yesMint, NoMint: noMint, Vault: vault}, nil
}

type tradeAccountSet struct {
	market         solana.PublicKey
	yesMint        solana.PublicKey
	noMint         solana.PublicKey
	vault          solana.PublicKey
	position       solana.PublicKey
	userCollateral solana.PublicKey
	userYes        solana.PublicKey
	userNo         solana.PublicKey
}

func tradeAccounts(programID, user, collateralMint solana.PublicKey, marketID uint64) (*tradeAccountSet, error) {
	pdas, err := deriveMarketPDASet(programID, marketID)
	if err != nil {
		return nil, err
	}
	position, _, err := DerivePositionPDA(programID, marketID, user)
	if err != nil {
		return nil, err
	}
	userCollateral, err := DeriveHoldingAddress(user, collateralMint)
	if err != nil {
		return nil, err
	}
	userYes, err := DeriveHoldingAddress(user, pdas.YesMint)
	if err != nil {
		return nil, err
	}
	userNo, err := DeriveHoldingAddress(user, pdas.NoMint)
	if err != nil {
		return nil, err
	}
	return &tradeAccountSet{
		market:         pdas.Market,
		yesMint:        pdas.YesMint,
		noMint:         pdas.NoMint,
		vault:          pdas.Vault,
		position:       position,
		userCollateral: userCollateral,
		userYes:        userYes,
		userNo:         userNo,
	}, nil
}
