package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/ghostodds/backend/internal/config"
	"github.com/ghostodds/backend/internal/ghost"
)

// Service mirrors the program's accounts into Postgres on a fixed
// interval so the API layer never has to touch the chain.
type Service struct {
	cfg    config.IndexerConfig
	rpc    *rpc.Client
	store  *Store
	logger *slog.Logger
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &Service{
		cfg:    cfg,
		rpc:    rpc.New(cfg.RPCURL),
		store:  store,
		logger: logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"rpc", s.cfg.RPCURL,
		"program", s.cfg.ProgramID,
		"db_driver", "postgres",
		"commitment", s.cfg.Commitment,
	)

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}
	if s.cfg.EnablePythPriceStream {
		go s.runPythPriceStream(ctx)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) error {
	slot, err := s.rpc.GetSlot(ctx, s.cfg.Commitment)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	stats := map[string]int{}

	err = s.store.WithTx(ctx, func(tx *Tx) error {
		if err := s.syncPlatform(ctx, tx, slot, stats); err != nil {
			return err
		}
		if err := s.syncMarkets(ctx, tx, slot, stats); err != nil {
			return err
		}
		if err := s.syncPositions(ctx, tx, slot, stats); err != nil {
			return err
		}
		return s.store.UpsertSyncStateTx(ctx, tx, slot)
	})
	if err != nil {
		return err
	}

	s.logger.Info(
		"sync complete",
		"slot", slot,
		"markets", stats["markets"],
		"positions", stats["positions"],
	)

	return nil
}

func (s *Service) syncPlatform(ctx context.Context, tx *Tx, slot uint64, stats map[string]int) error {
	return s.scanAndStore(ctx, tx, slot, "Platform", ghost.PlatformDiscriminator,
		func(item *rpc.KeyedAccount) error {
			platform, err := ghost.DecodePlatform(item.Account.Data.GetBinary())
			if err != nil {
				return err
			}
			stats["platform"]++
			return s.store.UpsertPlatformTx(ctx, tx, item.Pubkey, slot, platform)
		})
}

func (s *Service) syncMarkets(ctx context.Context, tx *Tx, slot uint64, stats map[string]int) error {
	return s.scanAndStore(ctx, tx, slot, "Market", ghost.MarketDiscriminator,
		func(item *rpc.KeyedAccount) error {
			market, err := ghost.DecodeMarket(item.Account.Data.GetBinary())
			if err != nil {
				return err
			}
			stats["markets"]++
			return s.store.UpsertMarketTx(ctx, tx, item.Pubkey, slot, market)
		})
}

func (s *Service) syncPositions(ctx context.Context, tx *Tx, slot uint64, stats map[string]int) error {
	return s.scanAndStore(ctx, tx, slot, "UserPosition", ghost.PositionDiscriminator,
		func(item *rpc.KeyedAccount) error {
			position, err := ghost.DecodePosition(item.Account.Data.GetBinary())
			if err != nil {
				return err
			}
			stats["positions"]++
			return s.store.UpsertPositionTx(ctx, tx, item.Pubkey, slot, position)
		})
}

func (s *Service) scanAndStore(
	ctx context.Context,
	tx *Tx,
	slot uint64,
	accountType string,
	discriminator [8]byte,
	handler func(item *rpc.KeyedAccount) error,
) error {
	accounts, err := s.scanWithRetry(ctx, accountType, discriminator)
	if err != nil {
		return fmt.Errorf("scan %s accounts: %w", accountType, err)
	}

	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		if err := handler(item); err != nil {
			s.logger.Warn("failed to index account",
				"account_type", accountType,
				"pubkey", item.Pubkey,
				"slot", slot,
				"err", err,
			)
		}
	}
	return nil
}

// scanWithRetry backs off exponentially on transient RPC failures; the
// tick loop tolerates a skipped cycle better than a hammered endpoint.
func (s *Service) scanWithRetry(ctx context.Context, accountType string, discriminator [8]byte) (rpc.GetProgramAccountsResult, error) {
	delay := s.cfg.RPCRetryBaseDelay
	var lastErr error

	for attempt := 0; attempt <= s.cfg.RPCMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.cfg.RPCRetryMaxDelay {
				delay = s.cfg.RPCRetryMaxDelay
			}
		}

		accounts, err := s.rpc.GetProgramAccountsWithOpts(ctx, s.cfg.ProgramID, &rpc.GetProgramAccountsOpts{
			Commitment: s.cfg.Commitment,
			Filters: []rpc.RPCFilter{
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(discriminator[:])}},
			},
		})
		if err == nil {
			return accounts, nil
		}
		lastErr = err
		s.logger.Warn("program account scan failed",
			"account_type", accountType,
			"attempt", attempt+1,
			"err", err,
		)
	}

	return nil, lastErr
}
