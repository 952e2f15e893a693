package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/policast/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Accounts are never cached: the order path must see the latest balance.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpsertMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketsKey)
	s.cache(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, t *model.TradeRecord) error {
	if err := s.primary.ApplyTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate position cache for this user.
	s.rdb.Del(ctx, positionsKey(t.Address))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	var m model.Market
	if s.load(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	var markets []model.Market
	if s.load(ctx, marketsKey, &markets) {
		return markets, nil
	}

	markets, err := s.primary.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketsKey, markets)
	return markets, nil
}

// GetUserPositions caches holdings per user until their next trade. Prices
// move on every market update, so marks are re-read from the market cache
// on each call.
func (s *CachedStore) GetUserPositions(ctx context.Context, address string) ([]model.Position, error) {
	var positions []model.Position
	if !s.load(ctx, positionsKey(address), &positions) {
		fresh, err := s.primary.GetUserPositions(ctx, address)
		if err != nil {
			return nil, err
		}
		s.cache(ctx, positionsKey(address), fresh)
		positions = fresh
	}
	s.mark(ctx, positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	return s.primary.UpsertAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, address)
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, address string) ([]model.TradeRecord, error) {
	return s.primary.GetTradesByUser(ctx, address)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, marketID uint64) ([]model.TradeRecord, error) {
	return s.primary.GetTradesByMarket(ctx, marketID)
}

// --- Cache helpers ---

// mark sets each position's CurrentPrice from its market. Positions whose
// market or option cannot be read keep the price they had.
func (s *CachedStore) mark(ctx context.Context, positions []model.Position) {
	markets := make(map[uint64]*model.Market)
	for i := range positions {
		p := &positions[i]
		m, ok := markets[p.MarketID]
		if !ok {
			m, _ = s.GetMarket(ctx, p.MarketID)
			markets[p.MarketID] = m
		}
		if m == nil {
			continue
		}
		if o, ok := m.Option(p.OptionID); ok {
			p.CurrentPrice = o.CurrentPrice
		}
	}
}

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const marketsKey = "markets:all"

func marketKey(id uint64) string     { return fmt.Sprintf("market:%d", id) }
func positionsKey(addr string) string { return fmt.Sprintf("positions:%s", addr) }
