package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func amt(s string) fixedpoint.Amount {
	a, err := fixedpoint.ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return a
}

func seedMarket(t *testing.T, s Store, id uint64, yes string) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:       id,
		Question: "Will it rain?",
		EndTime:  t0.Add(30 * 24 * time.Hour),
		Options: []model.Option{
			{ID: 1, Name: "Yes", CurrentPrice: amt(yes)},
			{ID: 2, Name: "No", CurrentPrice: fixedpoint.One.Sub(amt(yes))},
		},
	}
	if err := s.UpsertMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return m
}

func seedAccount(t *testing.T, s Store, addr, balance string) {
	t.Helper()
	if err := s.UpsertAccount(context.Background(), &model.Account{Address: addr, Balance: amt(balance)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func record(id, addr string, marketID, optionID uint64, side model.Side, qty int64, price string, offset time.Duration) *model.TradeRecord {
	p := amt(price)
	return &model.TradeRecord{
		ID:        id,
		Address:   addr,
		MarketID:  marketID,
		OptionID:  optionID,
		Side:      side,
		Quantity:  qty,
		Price:     p,
		Total:     p.MulShares(qty),
		Timestamp: t0.Add(offset),
	}
}

func TestMemoryStore_Markets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 2, "0.4")
	seedMarket(t, s, 1, "0.7")

	m, err := s.GetMarket(ctx, 1)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if !m.Options[0].CurrentPrice.Equal(amt("0.7")) {
		t.Errorf("price = %s", m.Options[0].CurrentPrice)
	}

	list, _ := s.ListMarkets(ctx)
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Errorf("ListMarkets should be in id order, got %+v", list)
	}

	if _, err := s.GetMarket(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 1, "0.7")

	m, _ := s.GetMarket(ctx, 1)
	m.Options[0].CurrentPrice = fixedpoint.Zero
	m.Question = "mutated"

	again, _ := s.GetMarket(ctx, 1)
	if again.Question == "mutated" || again.Options[0].CurrentPrice.IsZero() {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryStore_ApplyTradeSettlesBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 1, "0.72")
	seedAccount(t, s, "0xa11ce", "100")

	if err := s.ApplyTrade(ctx, record("t1", "0xa11ce", 1, 1, model.SideBuy, 50, "0.72", 0)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	acct, _ := s.GetAccount(ctx, "0xa11ce")
	if !acct.Balance.Equal(amt("64")) {
		t.Errorf("balance after buy = %s, want 64", acct.Balance.Display())
	}

	if err := s.ApplyTrade(ctx, record("t2", "0xa11ce", 1, 1, model.SideSell, 10, "0.8", time.Hour)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	acct, _ = s.GetAccount(ctx, "0xa11ce")
	if !acct.Balance.Equal(amt("72")) {
		t.Errorf("balance after sell = %s, want 72", acct.Balance.Display())
	}

	trades, _ := s.GetTradesByUser(ctx, "0xa11ce")
	if len(trades) != 2 || trades[0].ID != "t1" || trades[1].ID != "t2" {
		t.Errorf("ledger = %+v", trades)
	}
	byMarket, _ := s.GetTradesByMarket(ctx, 1)
	if len(byMarket) != 2 {
		t.Errorf("market ledger has %d entries", len(byMarket))
	}
}

func TestMemoryStore_ApplyTradeRejectsOverdraft(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 1, "0.72")
	seedAccount(t, s, "0xa11ce", "10")

	err := s.ApplyTrade(ctx, record("t1", "0xa11ce", 1, 1, model.SideBuy, 50, "0.72", 0))
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
	acct, _ := s.GetAccount(ctx, "0xa11ce")
	if !acct.Balance.Equal(amt("10")) {
		t.Errorf("balance changed on rejected trade: %s", acct.Balance.Display())
	}
	if trades, _ := s.GetTradesByUser(ctx, "0xa11ce"); len(trades) != 0 {
		t.Errorf("rejected trade was recorded")
	}
}

func TestMemoryStore_ApplyTradeUnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	err := s.ApplyTrade(context.Background(), record("t1", "0xnobody", 1, 1, model.SideBuy, 1, "0.5", 0))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAccount(context.Background(), "0xnobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_GetUserPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 1, "0.72")
	seedMarket(t, s, 2, "0.3")
	seedAccount(t, s, "0xa11ce", "1000")
	seedAccount(t, s, "0xb0b", "1000")

	for _, r := range []*model.TradeRecord{
		record("t1", "0xa11ce", 2, 2, model.SideBuy, 10, "0.7", 0),
		record("t2", "0xa11ce", 1, 1, model.SideBuy, 50, "0.6", time.Hour),
		record("t3", "0xb0b", 1, 1, model.SideBuy, 5, "0.6", 2*time.Hour),
		record("t4", "0xa11ce", 1, 1, model.SideSell, 10, "0.7", 3*time.Hour),
	} {
		if err := s.ApplyTrade(ctx, r); err != nil {
			t.Fatalf("apply %s: %v", r.ID, err)
		}
	}

	positions, err := s.GetUserPositions(ctx, "0xa11ce")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	p := positions[0]
	if p.MarketID != 1 || p.Shares != 40 {
		t.Errorf("first position = market %d, %d shares", p.MarketID, p.Shares)
	}
	if !p.Invested.Equal(amt("24")) || !p.AvgPrice.Equal(amt("0.6")) {
		t.Errorf("invested=%s avg=%s", p.Invested.Display(), p.AvgPrice.Display())
	}
	if !p.CurrentPrice.Equal(amt("0.72")) {
		t.Errorf("current price = %s", p.CurrentPrice.Display())
	}
	if HeldShares(positions, 2, 2) != 10 || HeldShares(positions, 2, 1) != 0 {
		t.Error("HeldShares mismatch")
	}
}

func TestMemoryStore_ApplyTradeRejectsUnheldSell(t *testing.T) {
	s := NewMemoryStore()
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
	if trades, _ := s.GetTradesByUser(ctx, "0xa11ce"); len(trades) != 0 {
		t.Error("rejected sell was recorded")
	}
}

func TestMemoryStore_SellLimitedToHolding(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, 1, "0.5")
	seedAccount(t, s, "0xa11ce", "100")
	seedAccount(t, s, "0xb0b", "100")

	for _, r := range []*model.TradeRecord{
		record("t1", "0xa11ce", 1, 1, model.SideBuy, 10, "0.5", 0),
		record("t2", "0xb0b", 1, 1, model.SideBuy, 50, "0.5", 0),
		record("t3", "0xa11ce", 1, 2, model.SideBuy, 50, "0.5", 0),
		record("t4", "0xa11ce", 1, 1, model.SideSell, 6, "0.5", time.Hour),
	} {
		if err := s.ApplyTrade(ctx, r); err != nil {
			t.Fatalf("apply %s: %v", r.ID, err)
		}
	}

	// 4 left; other traders and other options do not count.
	err := s.ApplyTrade(ctx, record("t5", "0xa11ce", 1, 1, model.SideSell, 5, "0.5", 2*time.Hour))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if err := s.ApplyTrade(ctx, record("t6", "0xa11ce", 1, 1, model.SideSell, 4, "0.5", 2*time.Hour)); err != nil {
		t.Fatalf("selling the full holding: %v", err)
	}
}
