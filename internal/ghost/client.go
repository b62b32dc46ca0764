package ghost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	defaultCacheTTL      = 5 * time.Second
	confirmationPollStep = 700 * time.Millisecond
)

// Client is the read/write surface against the deployed program. Reads
// go through a short-lived decode cache keyed by address; writes build
// and sign transactions locally and poll for confirmation.
type Client struct {
	rpc        *rpc.Client
	programID  solana.PublicKey
	commitment rpc.CommitmentType
	logger     *slog.Logger

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[solana.PublicKey]cachedAccount

	computeUnitLimit uint32
	computeUnitPrice uint64
	skipPreflight    bool
}

type cachedAccount struct {
	data      []byte
	fetchedAt time.Time
}

// ClientOption adjusts optional Client behaviour.
type ClientOption func(*Client)

// WithCommitment overrides the default confirmed commitment.
func WithCommitment(c rpc.CommitmentType) ClientOption {
	return func(cl *Client) { cl.commitment = c }
}

// WithCacheTTL changes the read cache lifetime; zero disables caching.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(cl *Client) { cl.cacheTTL = ttl }
}

// WithComputeBudget prepends compute budget instructions to every
// submitted transaction. Zero values leave the cluster defaults.
func WithComputeBudget(unitLimit uint32, unitPriceMicroLamports uint64) ClientOption {
	return func(cl *Client) {
		cl.computeUnitLimit = unitLimit
		cl.computeUnitPrice = unitPriceMicroLamports
	}
}

// WithSkipPreflight disables preflight simulation on submit.
func WithSkipPreflight() ClientOption {
	return func(cl *Client) { cl.skipPreflight = true }
}

func NewClient(rpcClient *rpc.Client, programID solana.PublicKey, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:        rpcClient,
		programID:  programID,
		commitment: rpc.CommitmentConfirmed,
		logger:     logger,
		cacheTTL:   defaultCacheTTL,
		cache:      make(map[solana.PublicKey]cachedAccount),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProgramID returns the program this client targets.
func (c *Client) ProgramID() solana.PublicKey { return c.programID }

// FetchPlatform reads and decodes the singleton platform account.
func (c *Client) FetchPlatform(ctx context.Context) (*Platform, error) {
	addr, _, err := DerivePlatformPDA(c.programID)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodePlatform(data)
}

// FetchMarket reads and decodes the market with the given id.
func (c *Client) FetchMarket(ctx context.Context, marketID uint64) (*Market, error) {
	addr, _, err := DeriveMarketPDA(c.programID, marketID)
	if err != nil {
		return nil, err
	}
	return c.FetchMarketByAddress(ctx, addr)
}

// FetchMarketByAddress reads and decodes a market account directly.
func (c *Client) FetchMarketByAddress(ctx context.Context, addr solana.PublicKey) (*Market, error) {
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodeMarket(data)
}

// FetchPosition reads the caller's position for one market. Returns
// ErrNotFound when the user has never traded the market.
func (c *Client) FetchPosition(ctx context.Context, marketID uint64, user solana.PublicKey) (*Position, error) {
	addr, _, err := DerivePositionPDA(c.programID, marketID, user)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodePosition(data)
}

// MarketEntry pairs a decoded market with its account address.
type MarketEntry struct {
	Address solana.PublicKey
	Market  *Market
}

// PositionEntry pairs a decoded position with its account address.
type PositionEntry struct {
	Address  solana.PublicKey
	Position *Position
}

// FetchAllMarkets scans every market account owned by the program.
// Transport failures degrade to an empty slice so callers render "no
// data yet" instead of crashing; accounts that fail to decode are
// skipped with a warning because a single corrupt account must not
// hide the rest.
func (c *Client) FetchAllMarkets(ctx context.Context) []MarketEntry {
	raw, err := c.scanProgramAccounts(ctx, MarketDiscriminator, nil)
	if err != nil {
		c.logger.Warn("market scan failed", "error", err)
		return nil
	}
	entries := make([]MarketEntry, 0, len(raw))
	for _, item := range raw {
		market, err := DecodeMarket(item.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("skipping undecodable market account", "account", item.Pubkey, "error", err)
			continue
		}
		entries = append(entries, MarketEntry{Address: item.Pubkey, Market: market})
	}
	return entries
}

// FetchPositionsByUser scans every position owned by one wallet using
// a server-side filter on the user field.
func (c *Client) FetchPositionsByUser(ctx context.Context, user solana.PublicKey) []PositionEntry {
	filters := []rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: positionUserOffset, Bytes: solana.Base58(user.Bytes())}},
	}
	raw, err := c.scanProgramAccounts(ctx, PositionDiscriminator, filters)
	if err != nil {
		c.logger.Warn("position scan failed", "user", user, "error", err)
		return nil
	}
	entries := make([]PositionEntry, 0, len(raw))
	for _, item := range raw {
		position, err := DecodePosition(item.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("skipping undecodable position account", "account", item.Pubkey, "error", err)
			continue
		}
		entries = append(entries, PositionEntry{Address: item.Pubkey, Position: position})
	}
	return entries
}

// AccountExists reports whether an account is funded at the address.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := c.fetchAccountData(ctx, addr)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) scanProgramAccounts(ctx context.Context, disc [8]byte, extra []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	filters := append([]rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])}},
	}, extra...)
	return c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Filters:    filters,
	})
}

func (c *Client) fetchAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if c.cacheTTL > 0 {
		c.cacheMu.Lock()
		entry, ok := c.cache[addr]
		c.cacheMu.Unlock()
		if ok && time.Since(entry.fetchedAt) < c.cacheTTL {
			return entry.data, nil
		}
	}

	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		if err == rpc.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch account %s: %w", addr, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, ErrNotFound
	}
	data := resp.Value.Data.GetBinary()

	if c.cacheTTL > 0 {
		c.cacheMu.Lock()
		c.cache[addr] = cachedAccount{data: data, fetchedAt: time.Now()}
		c.cacheMu.Unlock()
	}
	return data, nil
}

// InvalidateCache drops any cached read for the address, used after a
// confirmed write to that account.
func (c *Client) InvalidateCache(addr solana.PublicKey) {
	c.cacheMu.Lock()
	delete(c.cache, addr)
	c.cacheMu.Unlock()
}

// EnsureHoldingInstructions returns create instructions for each of
// the owner's associated token accounts that do not exist yet, in mint
// order. The existence check reads current chain state; the returned
// instructions are prepended to the trade so the whole batch lands
// atomically.
func (c *Client) EnsureHoldingInstructions(ctx context.Context, payer, owner solana.PublicKey, mints ...solana.PublicKey) ([]solana.Instruction, error) {
	var out []solana.Instruction
	for _, mint := range mints {
		holding, err := DeriveHoldingAddress(owner, mint)
		if err != nil {
			return nil, err
		}
		exists, err := c.AccountExists(ctx, holding)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build holding account create for mint %s: %w", mint, err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// Submit signs and sends one atomic batch of instructions. Reserves may
// move between quoting and execution, so the minimum-output bound inside
// the trade instruction is the only settlement guard; the client never
// re-checks it.
func (c *Client) Submit(ctx context.Context, signer solana.PrivateKey, instructions []solana.Instruction) (solana.Signature, error) {
	if len(instructions) == 0 {
		return solana.Signature{}, invalidArgf("no instructions to submit")
	}

	prelude, err := c.computeBudgetPrelude()
	if err != nil {
		return solana.Signature{}, err
	}
	instructions = append(prelude, instructions...)

	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, classifyRejection(err.Error())
	}
	return sig, nil
}

// Confirm polls signature status until the cluster confirms or rejects
// the transaction, or ctx expires. A rejection surfaces the cluster's
// message so callers see exactly why the program refused it.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(confirmationPollStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return classifyRejection(fmt.Sprintf("transaction %s failed: %v", sig, status.Err))
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// SubmitAndConfirm submits the batch and waits for confirmation.
func (c *Client) SubmitAndConfirm(ctx context.Context, signer solana.PrivateKey, instructions []solana.Instruction) (solana.Signature, error) {
	sig, err := c.Submit(ctx, signer, instructions)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := c.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) computeBudgetPrelude() ([]solana.Instruction, error) {
	var out []solana.Instruction
	if c.computeUnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(c.computeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit: %w", err)
		}
		out = append(out, ix)
	}
	if c.computeUnitPrice > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(c.computeUnitPrice).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price: %w", err)
		}
		out = append(out, ix)
	}
	return out, nil
}
