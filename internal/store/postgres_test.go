package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/policast/market-engine/internal/model"
)

// newPostgresStore connects to TEST_DATABASE_URL and migrates a private
// schema that is dropped when the test ends.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := fmt.Sprintf("store_test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestLedgerQueriesBreakTimestampTies(t *testing.T) {
	if !strings.Contains(ledgerOrder, "timestamp, seq") {
		t.Errorf("ledger order %q has no tiebreaker", ledgerOrder)
	}
	if !strings.Contains(Schema, "seq       BIGSERIAL") {
		t.Error("trade_records has no seq column")
	}
}

func TestPostgresStore_SameInstantBuyThenSell(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	seedMarket(t, s, 1, "0.5")
	seedAccount(t, s, "0xa11ce", "100")

	// Ids sort sell-first; only insertion order puts the buy ahead.
	buy := record("z-buy", "0xa11ce", 1, 1, model.SideBuy, 10, "0.5", 0)
	sell := record("a-sell", "0xa11ce", 1, 1, model.SideSell, 4, "0.5", 0)
	for _, r := range []*model.TradeRecord{buy, sell} {
		if err := s.ApplyTrade(ctx, r); err != nil {
			t.Fatalf("apply %s: %v", r.ID, err)
		}
	}

	trades, err := s.GetTradesByUser(ctx, "0xa11ce")
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].ID != "z-buy" || trades[1].ID != "a-sell" {
		t.Fatalf("ledger order = %+v", trades)
	}

	positions, err := s.GetUserPositions(ctx, "0xa11ce")
	if err != nil {
		t.Fatal(err)
	}
	if HeldShares(positions, 1, 1) != 6 {
		t.Errorf("held = %d, want 6", HeldShares(positions, 1, 1))
	}
}

func TestPostgresStore_RejectsUnheldSell(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	seedMarket(t, s, 1, "0.5")
	seedAccount(t, s, "0xa11ce", "0")

	err := s.ApplyTrade(ctx, record("t1", "0xa11ce", 1, 1, model.SideSell, 1000, "1", 0))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	acct, _ := s.GetAccount(ctx, "0xa11ce")
	if !acct.Balance.IsZero() {
		t.Errorf("balance credited on rejected sell: %s", acct.Balance.Display())
	}
}
