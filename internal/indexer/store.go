package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/ghostodds/backend/internal/ghost"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

// rebindPostgresPlaceholders turns `?` placeholders into `$n`, skipping
// literals inside single quotes.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// Reserve and volume columns are TEXT: u64 does not fit BIGINT at the
// top of its range.
func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			last_slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS platform (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			pubkey TEXT NOT NULL,
			authority TEXT NOT NULL,
			market_count BIGINT NOT NULL,
			total_volume TEXT NOT NULL,
			fee_bps INTEGER NOT NULL,
			treasury TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS markets (
			pubkey TEXT PRIMARY KEY,
			market_id BIGINT NOT NULL UNIQUE,
			authority TEXT NOT NULL,
			question TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			collateral_mint TEXT NOT NULL,
			yes_mint TEXT NOT NULL,
			no_mint TEXT NOT NULL,
			vault TEXT NOT NULL,
			yes_reserve TEXT NOT NULL,
			no_reserve TEXT NOT NULL,
			total_liquidity TEXT NOT NULL,
			volume TEXT NOT NULL,
			resolution_source TEXT NOT NULL,
			resolution_value TEXT,
			resolution_operator INTEGER NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			lock_time BIGINT NOT NULL,
			resolved_at BIGINT,
			outcome INTEGER,
			status INTEGER NOT NULL,
			fee_bps INTEGER NOT NULL,
			yes_price DOUBLE PRECISION NOT NULL,
			no_price DOUBLE PRECISION NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_markets_status_expiry ON markets(status, expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_markets_category ON markets(category);`,
		`CREATE TABLE IF NOT EXISTS positions (
			pubkey TEXT PRIMARY KEY,
			user_pubkey TEXT NOT NULL,
			market_id BIGINT NOT NULL,
			yes_tokens TEXT NOT NULL,
			no_tokens TEXT NOT NULL,
			total_deposited TEXT NOT NULL,
			total_withdrawn TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_market ON positions(user_pubkey, market_id);`,
		`CREATE TABLE IF NOT EXISTS price_ticks (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			source TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			slot BIGINT NOT NULL,
			publish_time BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			conf DOUBLE PRECISION NOT NULL,
			expo INTEGER NOT NULL,
			received_at BIGINT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_price_ticks_dedupe ON price_ticks(symbol, source, publish_time, slot);`,
		`CREATE INDEX IF NOT EXISTS idx_price_ticks_symbol_time ON price_ticks(symbol, publish_time DESC, slot DESC, id DESC);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, slot uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_slot, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_slot = EXCLUDED.last_slot,
			updated_at = EXCLUDED.updated_at
	`, int64(slot), time.Now().Unix())
	return err
}

func (s *Store) UpsertPlatformTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, p *ghost.Platform) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO platform (
			id, pubkey, authority, market_count, total_volume, fee_bps, treasury, slot, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			pubkey = EXCLUDED.pubkey,
			authority = EXCLUDED.authority,
			market_count = EXCLUDED.market_count,
			total_volume = EXCLUDED.total_volume,
			fee_bps = EXCLUDED.fee_bps,
			treasury = EXCLUDED.treasury,
			slot = EXCLUDED.slot,
			updated_at = EXCLUDED.updated_at
	`,
		pubkey.String(),
		p.Authority.String(),
		int64(p.MarketCount),
		strconv.FormatUint(p.TotalVolume, 10),
		int32(p.FeeBps),
		p.Treasury.String(),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertMarketTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, m *ghost.Market) error {
	var resolutionValue any
	if m.ResolutionValue != nil {
		resolutionValue = strconv.FormatUint(*m.ResolutionValue, 10)
	}
	var resolvedAt any
	if m.ResolvedAt != nil {
		resolvedAt = *m.ResolvedAt
	}
	var outcome any
	if m.Outcome != nil {
		if *m.Outcome {
			outcome = 1
		} else {
			outcome = 0
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO markets (
			pubkey, market_id, authority, question, description, category,
			collateral_mint, yes_mint, no_mint, vault,
			yes_reserve, no_reserve, total_liquidity, volume,
			resolution_source, resolution_value, resolution_operator,
			created_at, expires_at, lock_time, resolved_at, outcome,
			status, fee_bps, yes_price, no_price, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pubkey) DO UPDATE SET
			yes_reserve = EXCLUDED.yes_reserve,
			no_reserve = EXCLUDED.no_reserve,
			total_liquidity = EXCLUDED.total_liquidity,
			volume = EXCLUDED.volume,
			resolved_at = EXCLUDED.resolved_at,
			outcome = EXCLUDED.outcome,
			status = EXCLUDED.status,
			yes_price = EXCLUDED.yes_price,
			no_price = EXCLUDED.no_price,
			slot = EXCLUDED.slot,
			updated_at = EXCLUDED.updated_at
	`,
		pubkey.String(),
		int64(m.MarketID),
		m.Authority.String(),
		m.Question,
		m.Description,
		m.Category,
		m.CollateralMint.String(),
		m.YesMint.String(),
		m.NoMint.String(),
		m.Vault.String(),
		strconv.FormatUint(m.YesReserve, 10),
		strconv.FormatUint(m.NoReserve, 10),
		strconv.FormatUint(m.TotalLiquidity, 10),
		strconv.FormatUint(m.Volume, 10),
		m.ResolutionSource,
		resolutionValue,
		int32(m.ResolutionOperator),
		m.CreatedAt,
		m.ExpiresAt,
		m.LockTime,
		resolvedAt,
		outcome,
		int32(m.Status),
		int32(m.FeeBps),
		ghost.SpotPrice(m, true),
		ghost.SpotPrice(m, false),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertPositionTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, p *ghost.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (
			pubkey, user_pubkey, market_id,
			yes_tokens, no_tokens, total_deposited, total_withdrawn,
			slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pubkey) DO UPDATE SET
			yes_tokens = EXCLUDED.yes_tokens,
			no_tokens = EXCLUDED.no_tokens,
			total_deposited = EXCLUDED.total_deposited,
			total_withdrawn = EXCLUDED.total_withdrawn,
			slot = EXCLUDED.slot,
			updated_at = EXCLUDED.updated_at
	`,
		pubkey.String(),
		p.User.String(),
		int64(p.MarketID),
		strconv.FormatUint(p.YesTokens, 10),
		strconv.FormatUint(p.NoTokens, 10),
		strconv.FormatUint(p.TotalDeposited, 10),
		strconv.FormatUint(p.TotalWithdrawn, 10),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

type PriceTickInput struct {
	Symbol      string
	Source      string
	FeedID      string
	Slot        int64
	PublishTime int64
	Price       float64
	Conf        float64
	Expo        int32
	ReceivedAt  int64
	RawJSON     string
}

// InsertPriceTick is idempotent: duplicate (symbol, source,
// publish_time, slot) ticks from reconnects are dropped.
func (s *Store) InsertPriceTick(ctx context.Context, tick PriceTickInput) (bool, error) {
	raw := strings.TrimSpace(tick.RawJSON)
	if raw == "" {
		raw = "{}"
	} else if !json.Valid([]byte(raw)) {
		return false, fmt.Errorf("invalid raw tick json for %s", tick.Symbol)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO price_ticks (
			symbol, source, feed_id, slot, publish_time,
			price, conf, expo, received_at, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, source, publish_time, slot) DO NOTHING
	`,
		tick.Symbol,
		tick.Source,
		tick.FeedID,
		tick.Slot,
		tick.PublishTime,
		tick.Price,
		tick.Conf,
		tick.Expo,
		tick.ReceivedAt,
		raw,
	)
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}
