package apiserver

import (
	"net/http/httptest"
	"testing"

	"github.com/ghostodds/backend/internal/ghost"
	"github.com/ghostodds/backend/internal/indexer"
)

func TestParseOptionalStatus(t *testing.T) {
	cases := []struct {
		query string
		want  *int
		ok    bool
	}{
		{"", nil, true},
		{"status=active", intPtr(int(ghost.StatusActive)), true},
		{"status=resolved", intPtr(int(ghost.StatusResolved)), true},
		{"status=cancelled", intPtr(int(ghost.StatusCancelled)), true},
		{"status=2", intPtr(2), true},
		{"status=pending", nil, false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/api/v1/markets?"+tc.query, nil)
		got, err := parseOptionalStatus(r)
		if tc.ok != (err == nil) {
			t.Fatalf("query %q: err = %v", tc.query, err)
		}
		if !tc.ok {
			continue
		}
		if (got == nil) != (tc.want == nil) {
			t.Fatalf("query %q: got %v, want %v", tc.query, got, tc.want)
		}
		if got != nil && *got != *tc.want {
			t.Fatalf("query %q: got %d, want %d", tc.query, *got, *tc.want)
		}
	}
}

func TestMarketForQuote(t *testing.T) {
	record := indexer.MarketRecord{
		MarketID:   7,
		YesReserve: "500000000",
		NoReserve:  "500000000",
		Status:     int(ghost.StatusActive),
		FeeBps:     200,
	}

	market, err := marketForQuote(record)
	if err != nil {
		t.Fatalf("marketForQuote: %v", err)
	}
	if market.YesReserve != 500_000_000 || market.NoReserve != 500_000_000 {
		t.Fatalf("reserves = %d/%d", market.YesReserve, market.NoReserve)
	}

	quote, err := ghost.QuoteBuy(market, true, 100_000_000)
	if err != nil {
		t.Fatalf("QuoteBuy on rebuilt market: %v", err)
	}
	if quote.AmountOut == 0 {
		t.Fatal("expected a nonzero quote from a live market row")
	}
}

func TestMarketForQuoteRejectsCorruptRows(t *testing.T) {
	cases := []indexer.MarketRecord{
		{YesReserve: "not-a-number", NoReserve: "1"},
		{YesReserve: "1", NoReserve: "-5"},
		{YesReserve: "1", NoReserve: "1", FeeBps: 20_000},
	}
	for idx, record := range cases {
		if _, err := marketForQuote(record); err == nil {
			t.Fatalf("case %d: corrupt row should not be quotable", idx)
		}
	}
}

func intPtr(v int) *int { return &v }
