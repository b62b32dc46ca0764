package ghost_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/ghostodds/backend/internal/ghost"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A read source that fails at the transport layer must surface as "no
// data", not as an error or a panic.
func TestScansDegradeToEmptyOnTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := ghost.NewClient(rpc.New(server.URL), ghost.DefaultProgramID, testLogger())

	if markets := client.FetchAllMarkets(context.Background()); len(markets) != 0 {
		t.Errorf("FetchAllMarkets on broken transport = %d entries, want 0", len(markets))
	}
	user := solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	if positions := client.FetchPositionsByUser(context.Background(), user); len(positions) != 0 {
		t.Errorf("FetchPositionsByUser on broken transport = %d entries, want 0", len(positions))
	}
}

func TestFetchMarketDecodesAccountData(t *testing.T) {
	want := sampleMarket()
	raw, err := ghost.EncodeMarket(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":{"lamports":5000000,"owner":"%s","data":["%s","base64"],"executable":false,"rentEpoch":0}}}`,
			ghost.DefaultProgramID, encoded)
	}))
	defer server.Close()

	client := ghost.NewClient(rpc.New(server.URL), ghost.DefaultProgramID, testLogger())

	addr, _, err := ghost.DeriveMarketPDA(ghost.DefaultProgramID, want.MarketID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	got, err := client.FetchMarketByAddress(context.Background(), addr)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Question != want.Question || got.YesReserve != want.YesReserve {
		t.Errorf("fetched market mismatch: got %+v", got)
	}

	// Second read within the cache TTL must not hit the transport.
	if _, err := client.FetchMarketByAddress(context.Background(), addr); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("transport calls = %d, want 1 (second read served from cache)", n)
	}

	client.InvalidateCache(addr)
	if _, err := client.FetchMarketByAddress(context.Background(), addr); err != nil {
		t.Fatalf("fetch after invalidate: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("transport calls = %d, want 2 after invalidation", n)
	}
}

func TestFetchMissingAccountReturnsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":null}}`)
	}))
	defer server.Close()

	client := ghost.NewClient(rpc.New(server.URL), ghost.DefaultProgramID, testLogger())

	_, err := client.FetchMarket(context.Background(), 42)
	if err != ghost.ErrNotFound {
		t.Errorf("fetch of missing market = %v, want ErrNotFound", err)
	}

	exists, err := client.AccountExists(context.Background(), ghost.DefaultProgramID)
	if err != nil {
		t.Fatalf("AccountExists: %v", err)
	}
	if exists {
		t.Error("missing account reported as existing")
	}
}

func TestFetchAllMarketsSkipsUndecodableAccounts(t *testing.T) {
	good, err := ghost.EncodeMarket(sampleMarket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	goodAddr, _, err := ghost.DeriveMarketPDA(ghost.DefaultProgramID, 42)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	badAddr, _, err := ghost.DeriveMarketPDA(ghost.DefaultProgramID, 43)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	entry := func(addr solana.PublicKey, data []byte) map[string]any {
		return map[string]any{
			"pubkey": addr.String(),
			"account": map[string]any{
				"lamports":   5_000_000,
				"owner":      ghost.DefaultProgramID.String(),
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"rentEpoch":  0,
			},
		}
	}
	// One healthy account plus one with a corrupt body.
	result, err := json.Marshal([]map[string]any{
		entry(goodAddr, good),
		entry(badAddr, good[:40]),
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}))
	defer server.Close()

	client := ghost.NewClient(rpc.New(server.URL), ghost.DefaultProgramID, testLogger())

	markets := client.FetchAllMarkets(context.Background())
	if len(markets) != 1 {
		t.Fatalf("FetchAllMarkets = %d entries, want 1 (corrupt account skipped)", len(markets))
	}
	if !markets[0].Address.Equals(goodAddr) {
		t.Errorf("surviving entry = %s, want %s", markets[0].Address, goodAddr)
	}
}
