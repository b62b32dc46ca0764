package indexer

import (
	"math"
	"strings"
	"testing"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM markets WHERE market_id = ?", "SELECT * FROM markets WHERE market_id = $1"},
		{"INSERT INTO positions (a, b, c) VALUES (?, ?, ?)", "INSERT INTO positions (a, b, c) VALUES ($1, $2, $3)"},
		{"SELECT * FROM markets WHERE question = 'what?' AND status = ?", "SELECT * FROM markets WHERE question = 'what?' AND status = $1"},
		{"SELECT * FROM markets WHERE question = 'it''s?' AND status = ?", "SELECT * FROM markets WHERE question = 'it''s?' AND status = $1"},
	}
	for _, tc := range cases {
		if got := rebindPostgresPlaceholders(tc.in); got != tc.want {
			t.Fatalf("rebind %q:\n got %q\nwant %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePagination(t *testing.T) {
	cases := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, defaultPageLimit, 0},
		{-3, -7, defaultPageLimit, 0},
		{25, 10, 25, 10},
		{maxPageLimit + 1, 0, maxPageLimit, 0},
	}
	for _, tc := range cases {
		limit, offset := normalizePagination(tc.limit, tc.offset)
		if limit != tc.wantLimit || offset != tc.wantOffset {
			t.Fatalf("normalizePagination(%d, %d) = (%d, %d), want (%d, %d)",
				tc.limit, tc.offset, limit, offset, tc.wantLimit, tc.wantOffset)
		}
	}
}

func TestNormalizeSymbolWithDefault(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "SOLUSD"},
		{"   ", "SOLUSD"},
		{"solusd", "SOLUSD"},
		{"  EthUsd ", "ETHUSD"},
	}
	for _, tc := range cases {
		if got := normalizeSymbolWithDefault(tc.in); got != tc.want {
			t.Fatalf("normalizeSymbolWithDefault(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodePythPrice(t *testing.T) {
	price, err := decodePythPrice("12345678900", -8)
	if err != nil {
		t.Fatalf("decodePythPrice: %v", err)
	}
	if math.Abs(price-123.456789) > 1e-9 {
		t.Fatalf("price = %v, want 123.456789", price)
	}

	if _, err := decodePythPrice("not-a-number", -8); err == nil {
		t.Fatal("garbage input should fail")
	}
}

func TestBuildPythStreamURL(t *testing.T) {
	url, err := buildPythStreamURL("https://hermes.pyth.network/v2/updates/price/stream", "ef0d8b6f")
	if err != nil {
		t.Fatalf("buildPythStreamURL: %v", err)
	}
	if want := "ids%5B%5D=ef0d8b6f"; !strings.Contains(url, want) {
		t.Fatalf("url %q missing feed id query %q", url, want)
	}
	if !strings.Contains(url, "parsed=true") {
		t.Fatalf("url %q missing parsed flag", url)
	}
}
