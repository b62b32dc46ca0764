package keeper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/ghostodds/backend/internal/config"
	"github.com/ghostodds/backend/internal/ghost"
)

// Oracle prices are compared against market resolution values in 6-decimal
// fixed point, regardless of the feed's native exponent.
const (
	priceScale = uint64(1_000_000)

	// Program-side oracle gates, mirrored so the keeper does not burn fees
	// on transactions the program will reject.
	pythMaxStaleness = int64(300)
	pythMaxConfBps   = uint64(500)

	bpsDenom = uint64(10_000)
)

var (
	pythPushOracleProgramID    = solana.MustPublicKeyFromBase58("pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT")
	pythLegacyOracleProgramID  = solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")
	priceUpdateV2Discriminator = [8]byte{34, 241, 35, 99, 157, 126, 244, 205}

	errInvalidOracle            = errors.New("invalid oracle price update account")
	errStaleOracle              = errors.New("stale oracle")
	errUnexpectedOracleEncoding = errors.New("unexpected oracle payload encoding")
	errSkipMarket               = errors.New("skip market")
)

type Service struct {
	cfg    config.KeeperConfig
	rpc    *rpc.Client
	client *ghost.Client
	signer solana.PrivateKey
	logger *slog.Logger
}

type oracleSnapshot struct {
	feedID      [32]byte
	price       uint64
	conf        uint64
	publishTime int64
}

func New(cfg config.KeeperConfig, logger *slog.Logger) (*Service, error) {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.KeypairPath, err)
	}

	rpcClient := rpc.New(cfg.RPCURL)
	opts := []ghost.ClientOption{
		ghost.WithCommitment(cfg.Commitment),
		ghost.WithComputeBudget(cfg.ComputeUnitLimit, cfg.ComputeUnitPriceMicroLamports),
	}
	if cfg.SkipPreflight {
		opts = append(opts, ghost.WithSkipPreflight())
	}

	return &Service{
		cfg:    cfg,
		rpc:    rpcClient,
		client: ghost.NewClient(rpcClient, cfg.ProgramID, logger, opts...),
		signer: signer,
		logger: logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("keeper started",
		"rpc", s.cfg.RPCURL,
		"commitment", s.cfg.Commitment,
		"resolver", s.signer.PublicKey(),
		"program", s.cfg.ProgramID,
	)

	if err := s.tick(ctx); err != nil {
		s.logger.Error("keeper tick failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("keeper tick failed", "err", err)
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	markets := s.client.FetchAllMarkets(ctx)
	if len(markets) == 0 {
		return nil
	}

	now := s.getClusterUnixTime(ctx)

	candidates := make([]ghost.MarketEntry, 0, len(markets))
	for _, entry := range markets {
		if entry.Market.Status != ghost.StatusActive {
			continue
		}
		if entry.Market.ExpiresAt > now {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return nil
	}

	// Oldest expiries first so long-overdue markets are never starved by
	// the per-tick cap.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Market.ExpiresAt != candidates[j].Market.ExpiresAt {
			return candidates[i].Market.ExpiresAt < candidates[j].Market.ExpiresAt
		}
		return candidates[i].Market.MarketID < candidates[j].Market.MarketID
	})

	limit := s.cfg.MaxResolutionsPerTick
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	resolved := 0
	skipped := 0
	for idx := 0; idx < limit; idx++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		candidate := candidates[idx]
		err := s.resolveMarket(ctx, candidate, now)
		if err == nil {
			resolved++
			continue
		}
		skipped++
		if errors.Is(err, errSkipMarket) {
			s.logger.Debug("market skipped", "market_id", candidate.Market.MarketID, "reason", err)
			continue
		}
		s.logger.Warn("market resolution failed", "market_id", candidate.Market.MarketID, "err", err)
	}

	s.logger.Info("keeper tick complete",
		"expired", len(candidates),
		"attempted", limit,
		"resolved", resolved,
		"skipped", skipped,
	)
	return nil
}

func (s *Service) resolveMarket(ctx context.Context, entry ghost.MarketEntry, now int64) error {
	market := entry.Market

	// Within the grace window after expiry only the market authority may
	// resolve. A permissionless keeper has to wait it out.
	withinGrace := now < market.ExpiresAt+ghost.ResolutionGracePeriod
	if withinGrace && !s.signer.PublicKey().Equals(market.Authority) {
		return fmt.Errorf("%w: within grace window and resolver is not the authority", errSkipMarket)
	}

	if market.ResolutionValue == nil {
		// Manually judged market. Only the authority can decide those, so
		// leave the account for the operator tooling.
		return fmt.Errorf("%w: no oracle criteria", errSkipMarket)
	}

	source := strings.ToLower(strings.TrimSpace(market.ResolutionSource))
	pythAccount, ok := s.cfg.PythPriceAccountBySource[source]
	if !ok {
		return fmt.Errorf("%w: no price account configured for source %q", errSkipMarket, market.ResolutionSource)
	}

	oracle, err := s.fetchOracleSnapshot(ctx, pythAccount, now)
	if err != nil {
		return err
	}
	if now-oracle.publishTime > pythMaxStaleness {
		return fmt.Errorf("%w: last publish %d is older than %ds", errStaleOracle, oracle.publishTime, pythMaxStaleness)
	}
	if confBps := mulDivFloor(oracle.conf, bpsDenom, oracle.price); confBps > pythMaxConfBps {
		return fmt.Errorf("%w: confidence too wide (conf_bps=%d, max=%d)", errSkipMarket, confBps, pythMaxConfBps)
	}

	outcome, err := evaluateResolution(oracle.price, *market.ResolutionValue, market.ResolutionOperator)
	if err != nil {
		return err
	}

	ix, err := ghost.NewResolveMarketInstruction(s.cfg.ProgramID, s.signer.PublicKey(), &pythAccount, market.MarketID, outcome)
	if err != nil {
		return fmt.Errorf("build resolve instruction: %w", err)
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	sig, err := s.client.SubmitAndConfirm(txCtx, s.signer, []solana.Instruction{ix})
	if err != nil {
		return fmt.Errorf("submit resolve: %w", err)
	}
	s.client.InvalidateCache(entry.Address)

	s.logger.Info("market resolved",
		"market_id", market.MarketID,
		"outcome", outcome,
		"oracle_price", oracle.price,
		"resolution_value", *market.ResolutionValue,
		"operator", market.ResolutionOperator,
		"signature", sig,
	)
	return nil
}

// evaluateResolution applies the market's comparison operator to the scaled
// oracle price. Both sides are 6-decimal fixed point.
func evaluateResolution(oraclePrice, resolutionValue uint64, operator uint8) (bool, error) {
	switch operator {
	case ghost.OperatorGTE:
		return oraclePrice >= resolutionValue, nil
	case ghost.OperatorLTE:
		return oraclePrice <= resolutionValue, nil
	case ghost.OperatorEQ:
		return oraclePrice == resolutionValue, nil
	default:
		return false, fmt.Errorf("%w: unknown resolution operator %d", errSkipMarket, operator)
	}
}

func (s *Service) fetchOracleSnapshot(ctx context.Context, pythAccount solana.PublicKey, now int64) (*oracleSnapshot, error) {
	result, err := s.rpc.GetAccountInfoWithOpts(ctx, pythAccount, &rpc.GetAccountInfoOpts{
		Commitment: s.cfg.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch oracle account %s: %w", pythAccount, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: account %s missing", errInvalidOracle, pythAccount)
	}
	return decodeOracleAccount(result.Value, now)
}

// decodeOracleAccount understands both the push-oracle price-update accounts
// and the classic pyth-sdk price accounts, dispatching on the owner program.
func decodeOracleAccount(account *rpc.Account, now int64) (*oracleSnapshot, error) {
	if account == nil {
		return nil, errInvalidOracle
	}
	switch {
	case account.Owner.Equals(pythPushOracleProgramID):
		return decodePythPriceUpdateAccount(account, now)
	case account.Owner.Equals(pythLegacyOracleProgramID):
		return decodeLegacyPythPriceAccount(account, now)
	default:
		return nil, fmt.Errorf("%w: owner mismatch (%s)", errInvalidOracle, account.Owner)
	}
}

func mulDivFloor(a, b, denominator uint64) uint64 {
	if denominator == 0 {
		return math.MaxUint64
	}
	out := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	out.Div(out, new(big.Int).SetUint64(denominator))
	if !out.IsUint64() {
		return math.MaxUint64
	}
	return out.Uint64()
}

func (s *Service) getClusterUnixTime(ctx context.Context) int64 {
	slot, err := s.rpc.GetSlot(ctx, s.cfg.Commitment)
	if err != nil {
		s.logger.Warn("using local clock because getSlot failed", "err", err)
		return time.Now().Unix()
	}

	blockTime, err := s.rpc.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		s.logger.Warn("using local clock because getBlockTime unavailable", "slot", slot, "err", err)
		return time.Now().Unix()
	}

	return int64(*blockTime)
}

func decodePythPriceUpdateAccount(account *rpc.Account, now int64) (*oracleSnapshot, error) {
	if account == nil {
		return nil, errInvalidOracle
	}
	if !account.Owner.Equals(pythPushOracleProgramID) {
		return nil, fmt.Errorf("%w: owner mismatch (%s)", errInvalidOracle, account.Owner)
	}

	data := account.Data.GetBinary()
	if len(data) < len(priceUpdateV2Discriminator) {
		return nil, fmt.Errorf("%w: payload too short", errInvalidOracle)
	}
	if !bytes.Equal(data[:8], priceUpdateV2Discriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator mismatch", errInvalidOracle)
	}

	offset := 8
	if len(data) < offset+32 {
		return nil, fmt.Errorf("%w: missing write authority", errInvalidOracle)
	}
	offset += 32 // write_authority

	if len(data) < offset+1 {
		return nil, fmt.Errorf("%w: missing verification level", errInvalidOracle)
	}
	verificationVariant := data[offset]
	offset++
	switch verificationVariant {
	case 1: // Full
		// no payload
	case 0: // Partial { num_signatures: u8 }
		if len(data) < offset+1 {
			return nil, fmt.Errorf("%w: missing partial signature count", errInvalidOracle)
		}
		return nil, fmt.Errorf("%w: verification level is partial", errInvalidOracle)
	default:
		return nil, fmt.Errorf("%w: unknown verification level %d", errInvalidOracle, verificationVariant)
	}

	feedID, offset, err := readFixed32(data, offset)
	if err != nil {
		return nil, err
	}
	price, offset, err := readI64(data, offset)
	if err != nil {
		return nil, err
	}
	conf, offset, err := readU64(data, offset)
	if err != nil {
		return nil, err
	}
	exponent, offset, err := readI32(data, offset)
	if err != nil {
		return nil, err
	}
	publishTime, offset, err := readI64(data, offset)
	if err != nil {
		return nil, err
	}
	_, offset, err = readI64(data, offset) // prev_publish_time
	if err != nil {
		return nil, err
	}
	_, offset, err = readI64(data, offset) // ema_price
	if err != nil {
		return nil, err
	}
	_, offset, err = readU64(data, offset) // ema_conf
	if err != nil {
		return nil, err
	}
	_, offset, err = readU64(data, offset) // posted_slot
	if err != nil {
		return nil, err
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%w: trailing bytes in payload", errUnexpectedOracleEncoding)
	}

	scaledPrice, err := scaleSignedPrice(price, exponent)
	if err != nil {
		return nil, err
	}
	scaledConf, err := scaleConfidence(conf, exponent)
	if err != nil {
		return nil, err
	}
	if publishTime < 0 || publishTime > now {
		return nil, fmt.Errorf("%w: invalid publish time %d", errInvalidOracle, publishTime)
	}

	return &oracleSnapshot{
		feedID:      feedID,
		price:       scaledPrice,
		conf:        scaledConf,
		publishTime: publishTime,
	}, nil
}

// Classic pyth-sdk price account layout. Only the header and the aggregate
// price slice matter here.
const (
	legacyPythMagic     = uint32(0xa1b2c3d4)
	legacyPythVersion   = uint32(2)
	legacyPythPriceType = uint32(3)
	legacyPythMinLen    = 240
	legacyStatusTrading = uint32(1)
	legacyExpoOffset    = 20
	legacyTimestampOff  = 96
	legacyProductOff    = 112
	legacyPrevPriceOff  = 184
	legacyPrevConfOff   = 192
	legacyPrevTimeOff   = 200
	legacyAggPriceOff   = 208
	legacyAggConfOff    = 216
	legacyAggStatusOff  = 224
)

func decodeLegacyPythPriceAccount(account *rpc.Account, now int64) (*oracleSnapshot, error) {
	data := account.Data.GetBinary()
	if len(data) < legacyPythMinLen {
		return nil, fmt.Errorf("%w: payload too short for price account", errInvalidOracle)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != legacyPythMagic {
		return nil, fmt.Errorf("%w: bad magic", errInvalidOracle)
	}
	if binary.LittleEndian.Uint32(data[4:8]) != legacyPythVersion {
		return nil, fmt.Errorf("%w: unsupported account version", errInvalidOracle)
	}
	if binary.LittleEndian.Uint32(data[8:12]) != legacyPythPriceType {
		return nil, fmt.Errorf("%w: not a price account", errInvalidOracle)
	}

	exponent := int32(binary.LittleEndian.Uint32(data[legacyExpoOffset : legacyExpoOffset+4]))

	// The aggregate is only trustworthy while the feed reports trading;
	// otherwise fall back to the previous published value, as the sdk does.
	var price int64
	var conf uint64
	var publishTime int64
	if binary.LittleEndian.Uint32(data[legacyAggStatusOff:legacyAggStatusOff+4]) == legacyStatusTrading {
		price = int64(binary.LittleEndian.Uint64(data[legacyAggPriceOff : legacyAggPriceOff+8]))
		conf = binary.LittleEndian.Uint64(data[legacyAggConfOff : legacyAggConfOff+8])
		publishTime = int64(binary.LittleEndian.Uint64(data[legacyTimestampOff : legacyTimestampOff+8]))
	} else {
		price = int64(binary.LittleEndian.Uint64(data[legacyPrevPriceOff : legacyPrevPriceOff+8]))
		conf = binary.LittleEndian.Uint64(data[legacyPrevConfOff : legacyPrevConfOff+8])
		publishTime = int64(binary.LittleEndian.Uint64(data[legacyPrevTimeOff : legacyPrevTimeOff+8]))
	}

	scaledPrice, err := scaleSignedPrice(price, exponent)
	if err != nil {
		return nil, err
	}
	scaledConf, err := scaleConfidence(conf, exponent)
	if err != nil {
		return nil, err
	}
	if publishTime < 0 || publishTime > now {
		return nil, fmt.Errorf("%w: invalid publish time %d", errInvalidOracle, publishTime)
	}

	var product [32]byte
	copy(product[:], data[legacyProductOff:legacyProductOff+32])

	return &oracleSnapshot{
		feedID:      product,
		price:       scaledPrice,
		conf:        scaledConf,
		publishTime: publishTime,
	}, nil
}

func readFixed32(data []byte, offset int) ([32]byte, int, error) {
	if len(data) < offset+32 {
		return [32]byte{}, offset, fmt.Errorf("%w: truncated feed id", errInvalidOracle)
	}
	var out [32]byte
	copy(out[:], data[offset:offset+32])
	return out, offset + 32, nil
}

func readU64(data []byte, offset int) (uint64, int, error) {
	if len(data) < offset+8 {
		return 0, offset, fmt.Errorf("%w: truncated u64 field", errInvalidOracle)
	}
	value := binary.LittleEndian.Uint64(data[offset : offset+8])
	return value, offset + 8, nil
}

func readI64(data []byte, offset int) (int64, int, error) {
	u, next, err := readU64(data, offset)
	if err != nil {
		return 0, offset, err
	}
	return int64(u), next, nil
}

func readI32(data []byte, offset int) (int32, int, error) {
	if len(data) < offset+4 {
		return 0, offset, fmt.Errorf("%w: truncated i32 field", errInvalidOracle)
	}
	value := binary.LittleEndian.Uint32(data[offset : offset+4])
	return int32(value), offset + 4, nil
}

func scaleSignedPrice(price int64, exponent int32) (uint64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive oracle price", errInvalidOracle)
	}
	base := new(big.Int).SetInt64(price)
	scaled, err := scaleByExponent(base, exponent, false)
	if err != nil {
		return 0, err
	}
	if scaled.Sign() <= 0 || !scaled.IsUint64() {
		return 0, fmt.Errorf("%w: scaled oracle price overflow", errInvalidOracle)
	}
	return scaled.Uint64(), nil
}

func scaleConfidence(conf uint64, exponent int32) (uint64, error) {
	base := new(big.Int).SetUint64(conf)
	scaled, err := scaleByExponent(base, exponent, true)
	if err != nil {
		return 0, err
	}
	if scaled.Sign() < 0 || !scaled.IsUint64() {
		return 0, fmt.Errorf("%w: scaled oracle confidence overflow", errInvalidOracle)
	}
	return scaled.Uint64(), nil
}

func scaleByExponent(value *big.Int, exponent int32, ceil bool) (*big.Int, error) {
	if exponent > 38 || exponent < -38 {
		return nil, fmt.Errorf("%w: unsupported oracle exponent %d", errInvalidOracle, exponent)
	}
	tenPow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(exponent))), nil)
	priceScaleBig := new(big.Int).SetUint64(priceScale)

	if exponent >= 0 {
		out := new(big.Int).Mul(value, tenPow)
		out.Mul(out, priceScaleBig)
		return out, nil
	}

	numerator := new(big.Int).Mul(value, priceScaleBig)
	if ceil {
		numerator.Add(numerator, new(big.Int).Sub(tenPow, big.NewInt(1)))
	}
	out := new(big.Int).Div(numerator, tenPow)
	return out, nil
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
