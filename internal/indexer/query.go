package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ErrNoRows is returned by point lookups when nothing matches.
var ErrNoRows = errors.New("no rows")

type MarketFilter struct {
	Status   *int
	Category string
	Limit    int
	Offset   int
}

type MarketRecord struct {
	Pubkey             string  `json:"pubkey"`
	MarketID           uint64  `json:"market_id"`
	Authority          string  `json:"authority"`
	Question           string  `json:"question"`
	Description        string  `json:"description"`
	Category           string  `json:"category"`
	CollateralMint     string  `json:"collateral_mint"`
	YesMint            string  `json:"yes_mint"`
	NoMint             string  `json:"no_mint"`
	Vault              string  `json:"vault"`
	YesReserve         string  `json:"yes_reserve"`
	NoReserve          string  `json:"no_reserve"`
	TotalLiquidity     string  `json:"total_liquidity"`
	Volume             string  `json:"volume"`
	ResolutionSource   string  `json:"resolution_source"`
	ResolutionValue    *string `json:"resolution_value,omitempty"`
	ResolutionOperator int     `json:"resolution_operator"`
	CreatedAt          int64   `json:"created_at"`
	ExpiresAt          int64   `json:"expires_at"`
	LockTime           int64   `json:"lock_time"`
	ResolvedAt         *int64  `json:"resolved_at,omitempty"`
	Outcome            *bool   `json:"outcome,omitempty"`
	Status             int     `json:"status"`
	FeeBps             int     `json:"fee_bps"`
	YesPrice           float64 `json:"yes_price"`
	NoPrice            float64 `json:"no_price"`
	Slot               uint64  `json:"slot"`
	UpdatedAt          int64   `json:"updated_at"`
}

type PositionFilter struct {
	UserPubkey string
	MarketID   *uint64
	Limit      int
	Offset     int
}

type PositionRecord struct {
	Pubkey         string `json:"pubkey"`
	UserPubkey     string `json:"user_pubkey"`
	MarketID       uint64 `json:"market_id"`
	YesTokens      string `json:"yes_tokens"`
	NoTokens       string `json:"no_tokens"`
	TotalDeposited string `json:"total_deposited"`
	TotalWithdrawn string `json:"total_withdrawn"`
	Slot           uint64 `json:"slot"`
	UpdatedAt      int64  `json:"updated_at"`
}

type PlatformRecord struct {
	Pubkey      string `json:"pubkey"`
	Authority   string `json:"authority"`
	MarketCount uint64 `json:"market_count"`
	TotalVolume string `json:"total_volume"`
	FeeBps      int    `json:"fee_bps"`
	Treasury    string `json:"treasury"`
	Slot        uint64 `json:"slot"`
	UpdatedAt   int64  `json:"updated_at"`
}

type PriceTickRecord struct {
	ID          int64   `json:"id"`
	Symbol      string  `json:"symbol"`
	Source      string  `json:"source"`
	FeedID      string  `json:"feed_id"`
	Slot        int64   `json:"slot"`
	PublishTime int64   `json:"publish_time"`
	Price       float64 `json:"price"`
	Conf        float64 `json:"conf"`
	Expo        int32   `json:"expo"`
	ReceivedAt  int64   `json:"received_at"`
}

const marketColumns = `
	pubkey, market_id, authority, question, description, category,
	collateral_mint, yes_mint, no_mint, vault,
	yes_reserve, no_reserve, total_liquidity, volume,
	resolution_source, resolution_value, resolution_operator,
	created_at, expires_at, lock_time, resolved_at, outcome,
	status, fee_bps, yes_price, no_price, slot, updated_at`

func (s *Store) ListMarkets(ctx context.Context, filter MarketFilter) ([]MarketRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM markets
		WHERE %s
		ORDER BY market_id ASC
		LIMIT ? OFFSET ?
	`, marketColumns, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]MarketRecord, 0, limit)
	for rows.Next() {
		item, err := scanMarketRecord(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) GetMarket(ctx context.Context, marketID uint64) (MarketRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM markets WHERE market_id = ?
	`, marketColumns), int64(marketID))
	if err != nil {
		return MarketRecord{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return MarketRecord{}, err
		}
		return MarketRecord{}, ErrNoRows
	}
	return scanMarketRecord(rows)
}

func scanMarketRecord(rows *sql.Rows) (MarketRecord, error) {
	var item MarketRecord
	var marketID, slot int64
	var resolutionValue sql.NullString
	var resolvedAt sql.NullInt64
	var outcome sql.NullInt64
	if err := rows.Scan(
		&item.Pubkey,
		&marketID,
		&item.Authority,
		&item.Question,
		&item.Description,
		&item.Category,
		&item.CollateralMint,
		&item.YesMint,
		&item.NoMint,
		&item.Vault,
		&item.YesReserve,
		&item.NoReserve,
		&item.TotalLiquidity,
		&item.Volume,
		&item.ResolutionSource,
		&resolutionValue,
		&item.ResolutionOperator,
		&item.CreatedAt,
		&item.ExpiresAt,
		&item.LockTime,
		&resolvedAt,
		&outcome,
		&item.Status,
		&item.FeeBps,
		&item.YesPrice,
		&item.NoPrice,
		&slot,
		&item.UpdatedAt,
	); err != nil {
		return MarketRecord{}, err
	}
	item.MarketID = uint64(marketID)
	item.Slot = uint64(slot)
	if resolutionValue.Valid {
		item.ResolutionValue = &resolutionValue.String
	}
	if resolvedAt.Valid {
		item.ResolvedAt = &resolvedAt.Int64
	}
	if outcome.Valid {
		v := outcome.Int64 != 0
		item.Outcome = &v
	}
	return item, nil
}

func (s *Store) ListPositions(ctx context.Context, filter PositionFilter) ([]PositionRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.UserPubkey != "" {
		clauses = append(clauses, "user_pubkey = ?")
		args = append(args, filter.UserPubkey)
	}
	if filter.MarketID != nil {
		clauses = append(clauses, "market_id = ?")
		args = append(args, int64(*filter.MarketID))
	}

	query := fmt.Sprintf(`
		SELECT
			pubkey, user_pubkey, market_id,
			yes_tokens, no_tokens, total_deposited, total_withdrawn,
			slot, updated_at
		FROM positions
		WHERE %s
		ORDER BY updated_at DESC, pubkey ASC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PositionRecord, 0, limit)
	for rows.Next() {
		var item PositionRecord
		var marketID, slot int64
		if err := rows.Scan(
			&item.Pubkey,
			&item.UserPubkey,
			&marketID,
			&item.YesTokens,
			&item.NoTokens,
			&item.TotalDeposited,
			&item.TotalWithdrawn,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.MarketID = uint64(marketID)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) GetPlatform(ctx context.Context) (PlatformRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pubkey, authority, market_count, total_volume, fee_bps, treasury, slot, updated_at
		FROM platform WHERE id = 1
	`)

	var item PlatformRecord
	var marketCount, slot int64
	if err := row.Scan(
		&item.Pubkey,
		&item.Authority,
		&marketCount,
		&item.TotalVolume,
		&item.FeeBps,
		&item.Treasury,
		&slot,
		&item.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlatformRecord{}, ErrNoRows
		}
		return PlatformRecord{}, err
	}
	item.MarketCount = uint64(marketCount)
	item.Slot = uint64(slot)
	return item, nil
}

// ListPriceTicks returns recent oracle ticks for one symbol, newest
// first.
func (s *Store) ListPriceTicks(ctx context.Context, symbol string, limit, offset int) ([]PriceTickRecord, int, int, error) {
	normalizedLimit, normalizedOffset := normalizePagination(limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, source, feed_id, slot, publish_time, price, conf, expo, received_at
		FROM price_ticks
		WHERE symbol = ?
		ORDER BY publish_time DESC, slot DESC, id DESC
		LIMIT ? OFFSET ?
	`, symbol, normalizedLimit, normalizedOffset)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PriceTickRecord, 0, normalizedLimit)
	for rows.Next() {
		var item PriceTickRecord
		if err := rows.Scan(
			&item.ID,
			&item.Symbol,
			&item.Source,
			&item.FeedID,
			&item.Slot,
			&item.PublishTime,
			&item.Price,
			&item.Conf,
			&item.Expo,
			&item.ReceivedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, normalizedLimit, normalizedOffset, nil
}

func (s *Store) LastSyncedSlot(ctx context.Context) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_slot FROM sync_state WHERE id = 1`)
	var slot int64
	if err := row.Scan(&slot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(slot), nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
