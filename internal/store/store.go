// Package store holds the market and account snapshots the engine reads,
// plus the append-only trade ledger. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for testing).
//
// The store stands in for the contract-query layer; it never computes
// prices itself.
package store

import (
	"context"
	"errors"

	"github.com/policast/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market or account does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNegativeBalance is returned when applying a trade would overdraw
	// the account.
	ErrNegativeBalance = errors.New("store: trade would overdraw account")

	// ErrInsufficientShares is returned when a sell exceeds the shares the
	// ledger shows the seller holding.
	ErrInsufficientShares = errors.New("store: sell exceeds held shares")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market snapshots ---

	// UpsertMarket inserts or replaces a market and its options.
	UpsertMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets in id order.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Accounts ---

	// UpsertAccount inserts or replaces an account balance.
	UpsertAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by address.
	GetAccount(ctx context.Context, address string) (*model.Account, error)

	// --- Immutable ledger ---

	// ApplyTrade appends a trade record and settles its total against the
	// account balance in one step. Sells are checked against the holding
	// rebuilt from the ledger under the same lock.
	ApplyTrade(ctx context.Context, record *model.TradeRecord) error

	// GetTradesByUser returns all trades for an address in time order.
	GetTradesByUser(ctx context.Context, address string) ([]model.TradeRecord, error)

	// GetTradesByMarket returns all trades for a market in time order.
	GetTradesByMarket(ctx context.Context, marketID uint64) ([]model.TradeRecord, error)

	// --- Position queries ---

	// GetUserPositions derives open positions from the ledger.
	GetUserPositions(ctx context.Context, address string) ([]model.Position, error)
}
