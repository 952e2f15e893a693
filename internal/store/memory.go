package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/policast/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[uint64]*model.Market
	accounts map[string]*model.Account
	ledger   []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[uint64]*model.Market),
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) UpsertMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := *a
	s.accounts[a.Address] = &acct
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[address]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	acct := *a
	return &acct, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, t *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[t.Address]
	if !ok {
		return fmt.Errorf("account %s: %w", t.Address, ErrNotFound)
	}
	if t.Side == model.SideSell {
		if err := checkSell(t, holding(s.ledger, t.Address, t.MarketID, t.OptionID)); err != nil {
			return err
		}
	}
	next := a.Balance.Add(balanceDelta(t))
	if next.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeBalance, t.Address)
	}
	a.Balance = next
	s.ledger = append(s.ledger, *t)
	return nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, address string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.ledger {
		if t.Address == address {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID uint64) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.ledger {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

// GetUserPositions aggregates ledger entries into positions and marks them
// at the current option prices.
func (s *MemoryStore) GetUserPositions(_ context.Context, address string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Direct map access, already under RLock.
	lookup := func(id uint64) (model.Market, bool) {
		m, ok := s.markets[id]
		if !ok {
			return model.Market{}, false
		}
		return *m, true
	}
	return BuildPositions(address, s.ledger, lookup), nil
}

// cloneMarket copies m deeply enough that callers cannot mutate stored state.
func cloneMarket(m *model.Market) *model.Market {
	c := *m
	c.Options = append([]model.Option(nil), m.Options...)
	if m.WinningOptionID != nil {
		w := *m.WinningOptionID
		c.WinningOptionID = &w
	}
	return &c
}
