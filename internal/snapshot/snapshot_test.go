package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policast/market-engine/internal/model"
	"github.com/policast/market-engine/internal/store"
)

const fixture = `
as_of: 2026-03-01T00:00:00Z
markets:
  - id: 1
    question: Will it rain?
    category: WEATHER
    market_type: PAID
    end_time: 2026-03-10T00:00:00Z
    options:
      - {id: 1, name: "Yes", current_price: "700000000000000000"}
      - {id: 2, name: "No", current_price: "300000000000000000"}
accounts:
  - {address: "0xa", balance: "100000000000000000000"}
trades:
  - id: late
    address: "0xa"
    market_id: 1
    option_id: 1
    side: sell
    quantity: 5
    price: "600000000000000000"
    total: "3000000000000000000"
    timestamp: 2026-02-10T00:00:00Z
  - id: early
    address: "0xa"
    market_id: 1
    option_id: 1
    side: buy
    quantity: 10
    price: "500000000000000000"
    total: "5000000000000000000"
    timestamp: 2026-02-01T00:00:00Z
`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(fixture))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), snap.Now())
	require.Len(t, snap.Markets, 1)
	assert.Equal(t, model.CategoryWeather, snap.Markets[0].Category)
	require.Len(t, snap.Trades, 2)
	assert.Equal(t, "early", snap.Trades[0].ID, "trades are put in time order")
	assert.Equal(t, model.SideSell, snap.Trades[1].Side)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("markets:\n  - id: 1\n  - id: 1\n"))
	assert.ErrorIs(t, err, ErrDuplicateMarket)

	_, err = Parse([]byte("markets:\n  - id: 1\n    category: ASTROLOGY\n"))
	assert.ErrorIs(t, err, model.ErrUnknownCategory)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNow_DefaultsToWallClock(t *testing.T) {
	snap := &Snapshot{}
	assert.WithinDuration(t, time.Now(), snap.Now(), time.Minute)
}

func TestSeed_BalancesMatchSnapshot(t *testing.T) {
	snap, err := Parse([]byte(fixture))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, snap.Seed(ctx, st))

	acct, err := st.GetAccount(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "100.0000", acct.Balance.Display(), "final balance is the snapshot's")

	positions, err := st.GetUserPositions(ctx, "0xa")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].Shares)
	assert.Equal(t, "0.7000", positions[0].CurrentPrice.Display())

	markets, err := st.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}

func TestSeed_TradersWithoutAccounts(t *testing.T) {
	snap := &Snapshot{
		Trades: []model.TradeRecord{{
			ID: "x", Address: "0xghost", MarketID: 1, OptionID: 1,
			Side: model.SideBuy, Quantity: 1,
		}},
	}
	st := store.NewMemoryStore()
	require.NoError(t, snap.Seed(context.Background(), st))

	acct, err := st.GetAccount(context.Background(), "0xghost")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
}

func TestSeed_RejectsUnbackedSell(t *testing.T) {
	snap := &Snapshot{
		Accounts: []model.Account{{Address: "0xa"}},
		Trades: []model.TradeRecord{{
			ID: "x", Address: "0xa", MarketID: 1, OptionID: 1,
			Side: model.SideSell, Quantity: 3,
		}},
	}
	err := snap.Seed(context.Background(), store.NewMemoryStore())
	assert.ErrorIs(t, err, store.ErrInsufficientShares)
}
