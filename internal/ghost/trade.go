package ghost

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// TradePlan is a quoted, ready-to-submit instruction batch. The quote
// reflects the reserve snapshot the plan was built against; the
// embedded minimum-output bound is what actually protects the trade
// once reserves move.
type TradePlan struct {
	Instructions []solana.Instruction
	Quote        *Quote
	MinOut       uint64
}

// PlanBuy quotes a buy against current reserves and assembles the full
// instruction batch, creating the user's outcome-token holding
// accounts first when they do not exist yet.
func (c *Client) PlanBuy(ctx context.Context, user solana.PublicKey, marketID uint64, outcomeYes bool, amount uint64, toleranceBps uint16) (*TradePlan, error) {
	market, platform, err := c.tradableMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	quote, err := QuoteBuy(market, outcomeYes, amount)
	if err != nil {
		return nil, err
	}
	minOut, err := MinOut(quote.AmountOut, toleranceBps)
	if err != nil {
		return nil, err
	}

	creates, err := c.EnsureHoldingInstructions(ctx, user, user, market.YesMint, market.NoMint)
	if err != nil {
		return nil, err
	}
	buy, err := NewBuyOutcomeInstruction(c.programID, user, market.CollateralMint, platform.Treasury, marketID, outcomeYes, amount, minOut)
	if err != nil {
		return nil, err
	}
	return &TradePlan{
		Instructions: append(creates, buy),
		Quote:        quote,
		MinOut:       minOut,
	}, nil
}

// PlanSell quotes a sell and assembles the instruction batch. The
// collateral holding account is created first when missing so the
// payout has somewhere to land.
func (c *Client) PlanSell(ctx context.Context, user solana.PublicKey, marketID uint64, outcomeYes bool, amount uint64, toleranceBps uint16) (*TradePlan, error) {
	market, platform, err := c.tradableMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	quote, err := QuoteSell(market, outcomeYes, amount)
	if err != nil {
		return nil, err
	}
	minOut, err := MinOut(quote.AmountOut, toleranceBps)
	if err != nil {
		return nil, err
	}

	creates, err := c.EnsureHoldingInstructions(ctx, user, user, market.CollateralMint)
	if err != nil {
		return nil, err
	}
	sell, err := NewSellOutcomeInstruction(c.programID, user, market.CollateralMint, platform.Treasury, marketID, outcomeYes, amount, minOut)
	if err != nil {
		return nil, err
	}
	return &TradePlan{
		Instructions: append(creates, sell),
		Quote:        quote,
		MinOut:       minOut,
	}, nil
}

// PlanRedeemWinnings assembles the winning-side redemption batch for a
// resolved market.
func (c *Client) PlanRedeemWinnings(ctx context.Context, user solana.PublicKey, marketID uint64) ([]solana.Instruction, error) {
	market, err := c.FetchMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != StatusResolved {
		return nil, invalidArgf("market %d is not resolved", marketID)
	}
	creates, err := c.EnsureHoldingInstructions(ctx, user, user, market.CollateralMint)
	if err != nil {
		return nil, err
	}
	redeem, err := NewRedeemWinningsInstruction(c.programID, user, market.CollateralMint, marketID)
	if err != nil {
		return nil, err
	}
	return append(creates, redeem), nil
}

// PlanRedeemCancelled assembles the pro-rata refund batch for a
// cancelled market.
func (c *Client) PlanRedeemCancelled(ctx context.Context, user solana.PublicKey, marketID uint64) ([]solana.Instruction, error) {
	market, err := c.FetchMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != StatusCancelled {
		return nil, invalidArgf("market %d is not cancelled", marketID)
	}
	creates, err := c.EnsureHoldingInstructions(ctx, user, user, market.CollateralMint)
	if err != nil {
		return nil, err
	}
	redeem, err := NewRedeemCancelledInstruction(c.programID, user, market.CollateralMint, marketID)
	if err != nil {
		return nil, err
	}
	return append(creates, redeem), nil
}

// tradableMarket loads the market and platform and rejects trades
// against locked, resolved or cancelled markets before anything is
// built. The program enforces the same guards; failing locally saves a
// doomed submission.
func (c *Client) tradableMarket(ctx context.Context, marketID uint64) (*Market, *Platform, error) {
	market, err := c.FetchMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	if !market.Active(time.Now().Unix()) {
		return nil, nil, invalidArgf("market %d is not open for trading", marketID)
	}
	platform, err := c.FetchPlatform(ctx)
	if err != nil {
		return nil, nil, err
	}
	return market, platform, nil
}
