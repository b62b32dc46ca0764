package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const pythPriceSource = "pyth"

// pythStream tails the Hermes SSE endpoint and records every parsed update
// for the configured feed as a price tick row. It owns its own reconnect
// loop so a dropped stream never disturbs the account sync ticker.
type pythStream struct {
	endpoint  string
	feedID    string
	symbol    string
	reconnect time.Duration
	client    *http.Client
	store     *Store
	logger    *slog.Logger
}

type pythStreamEnvelope struct {
	Parsed []pythPriceUpdate `json:"parsed"`
}

type pythPriceUpdate struct {
	ID       string            `json:"id"`
	Price    pythPriceSnapshot `json:"price"`
	Metadata pythMetadata      `json:"metadata"`
}

type pythPriceSnapshot struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type pythMetadata struct {
	Slot int64 `json:"slot"`
}

func (s *Service) runPythPriceStream(ctx context.Context) {
	stream := &pythStream{
		endpoint:  strings.TrimSpace(s.cfg.PythStreamURL),
		feedID:    strings.ToLower(strings.TrimSpace(s.cfg.PythFeedID)),
		symbol:    normalizeSymbolWithDefault(s.cfg.PythSymbol),
		reconnect: s.cfg.PythReconnectInterval,
		client:    &http.Client{},
		store:     s.store,
		logger:    s.logger,
	}
	if stream.endpoint == "" || stream.feedID == "" {
		s.logger.Warn("pyth price stream disabled due to missing endpoint or feed id")
		return
	}
	if stream.reconnect <= 0 {
		stream.reconnect = 3 * time.Second
	}
	stream.run(ctx)
}

func (p *pythStream) run(ctx context.Context) {
	p.logger.Info("pyth price stream enabled",
		"endpoint", p.endpoint,
		"feed_id", p.feedID,
		"symbol", p.symbol,
		"reconnect_delay", p.reconnect.String(),
	)

	for ctx.Err() == nil {
		err := p.connectOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("pyth price stream disconnected", "err", err, "retry_in", p.reconnect.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.reconnect):
		}
	}
}

func (p *pythStream) connectOnce(ctx context.Context) error {
	streamURL, err := buildPythStreamURL(p.endpoint, p.feedID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("build pyth stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("open pyth stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open pyth stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return p.tail(ctx, resp.Body)
}

// tail reads SSE frames until the stream closes. A frame is one or more
// data: lines terminated by a blank line.
func (p *pythStream) tail(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024), 64*1024*1024)

	var frame strings.Builder
	flush := func() {
		if frame.Len() == 0 {
			return
		}
		if err := p.handleEvent(ctx, frame.String()); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("failed to process pyth stream event", "err", err)
		}
		frame.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if frame.Len() > 0 {
			frame.WriteByte('\n')
		}
		frame.WriteString(payload)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pyth stream: %w", err)
	}
	return io.EOF
}

func (p *pythStream) handleEvent(ctx context.Context, rawEvent string) error {
	payload := strings.TrimSpace(rawEvent)
	if payload == "" || payload == "[DONE]" {
		return nil
	}

	var event pythStreamEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return fmt.Errorf("decode pyth stream event: %w", err)
	}

	now := time.Now().Unix()
	for _, update := range event.Parsed {
		updateID := strings.ToLower(strings.TrimSpace(update.ID))
		if updateID != p.feedID {
			continue
		}

		price, err := decodePythPrice(update.Price.Price, update.Price.Expo)
		if err != nil || price <= 0 {
			continue
		}
		conf, err := decodePythPrice(update.Price.Conf, update.Price.Expo)
		if err != nil {
			conf = 0
		}

		publishTime := update.Price.PublishTime
		if publishTime <= 0 {
			publishTime = now
		}

		rawUpdate, err := json.Marshal(update)
		if err != nil {
			rawUpdate = []byte("{}")
		}

		_, err = p.store.InsertPriceTick(ctx, PriceTickInput{
			Symbol:      p.symbol,
			Source:      pythPriceSource,
			FeedID:      updateID,
			Slot:        update.Metadata.Slot,
			PublishTime: publishTime,
			Price:       price,
			Conf:        conf,
			Expo:        update.Price.Expo,
			ReceivedAt:  now,
			RawJSON:     string(rawUpdate),
		})
		if err != nil {
			return fmt.Errorf("store pyth tick: %w", err)
		}
	}

	return nil
}

func buildPythStreamURL(endpoint string, feedID string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse pyth endpoint: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid pyth endpoint: %q", endpoint)
	}

	query := parsedURL.Query()
	query.Del("ids[]")
	query.Add("ids[]", feedID)
	if strings.TrimSpace(query.Get("parsed")) == "" {
		query.Set("parsed", "true")
	}
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

func decodePythPrice(raw string, expo int32) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty price")
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}

	switch {
	case expo < 0:
		return value / math.Pow10(int(-expo)), nil
	case expo > 0:
		return value * math.Pow10(int(expo)), nil
	default:
		return value, nil
	}
}

func normalizeSymbolWithDefault(raw string) string {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "SOLUSD"
	}
	return symbol
}
