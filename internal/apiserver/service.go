package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ghostodds/backend/internal/config"
	"github.com/ghostodds/backend/internal/ghost"
	"github.com/ghostodds/backend/internal/indexer"
)

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	store            *indexer.Store
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	store, err := indexer.NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		store:            store,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/platform", s.handlePlatform)
	mux.HandleFunc("/api/v1/markets", s.handleMarkets)
	mux.HandleFunc("/api/v1/markets/", s.handleMarketByID)
	mux.HandleFunc("/api/v1/positions", s.handlePositions)
	mux.HandleFunc("/api/v1/price-ticks", s.handlePriceTicks)
	mux.HandleFunc("/ws", s.handleWebsocket)

	handler := s.withCORS(mux)
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"db_driver", "postgres",
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK         bool   `json:"ok"`
	SyncedSlot uint64 `json:"synced_slot"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	slot, err := s.store.LastSyncedSlot(r.Context())
	if err != nil {
		s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true, SyncedSlot: slot})
}

func (s *Service) handlePlatform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	platform, err := s.store.GetPlatform(r.Context())
	if err != nil {
		if errors.Is(err, indexer.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "platform not indexed yet")
			return
		}
		s.logger.Error("get platform failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to get platform")
		return
	}
	s.respondJSON(w, http.StatusOK, platform)
}

func (s *Service) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	status, err := parseOptionalStatus(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.store.ListMarkets(r.Context(), indexer.MarketFilter{
		Status:   status,
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("list markets failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.MarketRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

// handleMarketByID serves /api/v1/markets/{id} and /api/v1/markets/{id}/quote.
func (s *Service) handleMarketByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/markets/"), "/")
	raw, isQuote := strings.CutSuffix(raw, "/quote")
	marketID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "market id must be an unsigned integer")
		return
	}
	if isQuote {
		s.handleQuote(w, r, marketID)
		return
	}

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		if errors.Is(err, indexer.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "market not found")
			return
		}
		s.logger.Error("get market failed", "err", err, "market_id", marketID)
		s.respondError(w, http.StatusInternalServerError, "failed to get market")
		return
	}
	s.respondJSON(w, http.StatusOK, market)
}

func (s *Service) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	marketID, err := parseOptionalUint64(r, "market_id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.store.ListPositions(r.Context(), indexer.PositionFilter{
		UserPubkey: strings.TrimSpace(r.URL.Query().Get("user")),
		MarketID:   marketID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("list positions failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.PositionRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

type quoteResponse struct {
	MarketID       uint64  `json:"market_id"`
	Action         string  `json:"action"`
	Side           string  `json:"side"`
	AmountIn       uint64  `json:"amount_in"`
	FeeAmount      uint64  `json:"fee_amount"`
	AmountOut      uint64  `json:"amount_out"`
	MinAmountOut   uint64  `json:"min_amount_out"`
	SlippageBps    uint16  `json:"slippage_bps"`
	SpotPrice      float64 `json:"spot_price"`
	EffectivePrice float64 `json:"effective_price"`
	PriceImpact    float64 `json:"price_impact"`
	HighImpact     bool    `json:"high_impact"`
}

const defaultQuoteSlippageBps = 100

func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request, marketID uint64) {
	query := r.URL.Query()

	amount, err := strconv.ParseUint(strings.TrimSpace(query.Get("amount")), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "amount must be an unsigned integer")
		return
	}

	action := strings.ToLower(strings.TrimSpace(query.Get("action")))
	if action != "buy" && action != "sell" {
		s.respondError(w, http.StatusBadRequest, "action must be buy or sell")
		return
	}
	side := strings.ToLower(strings.TrimSpace(query.Get("side")))
	if side != "yes" && side != "no" {
		s.respondError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}

	slippageBps := uint16(defaultQuoteSlippageBps)
	if raw := strings.TrimSpace(query.Get("slippage_bps")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || parsed > ghost.BpsDenominator {
			s.respondError(w, http.StatusBadRequest, "slippage_bps must be between 0 and 10000")
			return
		}
		slippageBps = uint16(parsed)
	}

	record, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		if errors.Is(err, indexer.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "market not found")
			return
		}
		s.logger.Error("get market failed", "err", err, "market_id", marketID)
		s.respondError(w, http.StatusInternalServerError, "failed to get market")
		return
	}
	if record.Status != int(ghost.StatusActive) {
		s.respondError(w, http.StatusConflict, "market is not active")
		return
	}

	market, err := marketForQuote(record)
	if err != nil {
		s.logger.Error("market record is not quotable", "err", err, "market_id", marketID)
		s.respondError(w, http.StatusInternalServerError, "market record is not quotable")
		return
	}

	sideYes := side == "yes"
	var quote *ghost.Quote
	if action == "buy" {
		quote, err = ghost.QuoteBuy(market, sideYes, amount)
	} else {
		quote, err = ghost.QuoteSell(market, sideYes, amount)
	}
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	minOut, err := ghost.MinOut(quote.AmountOut, slippageBps)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, quoteResponse{
		MarketID:       marketID,
		Action:         action,
		Side:           side,
		AmountIn:       quote.AmountIn,
		FeeAmount:      quote.FeeAmount,
		AmountOut:      quote.AmountOut,
		MinAmountOut:   minOut,
		SlippageBps:    slippageBps,
		SpotPrice:      quote.SpotPrice,
		EffectivePrice: quote.EffectivePrice,
		PriceImpact:    quote.PriceImpact,
		HighImpact:     quote.HighImpact,
	})
}

// marketForQuote rebuilds the on-chain reserve state from an indexed row.
// Reserves are stored as TEXT, so a corrupt row surfaces here instead of in
// the math.
func marketForQuote(record indexer.MarketRecord) (*ghost.Market, error) {
	yesReserve, err := strconv.ParseUint(record.YesReserve, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse yes reserve: %w", err)
	}
	noReserve, err := strconv.ParseUint(record.NoReserve, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse no reserve: %w", err)
	}
	if record.FeeBps < 0 || record.FeeBps > int(ghost.MaxFeeBps) {
		return nil, fmt.Errorf("fee bps %d out of range", record.FeeBps)
	}
	return &ghost.Market{
		MarketID:   record.MarketID,
		YesReserve: yesReserve,
		NoReserve:  noReserve,
		Status:     uint8(record.Status),
		FeeBps:     uint16(record.FeeBps),
		ExpiresAt:  record.ExpiresAt,
		LockTime:   record.LockTime,
	}, nil
}

func (s *Service) handlePriceTicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.store.ListPriceTicks(r.Context(), symbol, limit, offset)
	if err != nil {
		s.logger.Error("list price ticks failed", "err", err, "symbol", symbol)
		s.respondError(w, http.StatusInternalServerError, "failed to list price ticks")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.PriceTickRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if s.allowAllOrigins {
		return true
	}
	_, allowed := s.allowedOriginSet[origin]
	return allowed
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseOptionalStatus(r *http.Request) (*int, error) {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if raw == "" {
		return nil, nil
	}
	var status int
	switch raw {
	case "active":
		status = int(ghost.StatusActive)
	case "resolved":
		status = int(ghost.StatusResolved)
	case "cancelled":
		status = int(ghost.StatusCancelled)
	default:
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("status must be active, resolved, cancelled, or a numeric code")
		}
		status = parsed
	}
	return &status, nil
}

func parseOptionalUint64(r *http.Request, key string) (*uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
