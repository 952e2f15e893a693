// Package model defines the core domain types shared across the market engine.
// All monetary values use fixedpoint.Amount (18-decimal base units), never
// float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/policast/market-engine/internal/fixedpoint"
)

// Market is a snapshot of one prediction market and its options, as
// supplied by the contract-query layer. Market and Options form a single
// aggregate.
type Market struct {
	ID               uint64            `json:"id" yaml:"id"`
	Question         string            `json:"question" yaml:"question"`
	Description      string            `json:"description" yaml:"description"`
	Category         Category          `json:"category" yaml:"category"`
	Type             MarketType        `json:"market_type" yaml:"market_type"`
	EndTime          time.Time         `json:"end_time" yaml:"end_time"`
	CreatedAt        time.Time         `json:"created_at" yaml:"created_at"`
	Resolved         bool              `json:"resolved" yaml:"resolved"`
	Disputed         bool              `json:"disputed" yaml:"disputed"`
	Validated        bool              `json:"validated" yaml:"validated"`
	WinningOptionID  *uint64           `json:"winning_option_id,omitempty" yaml:"winning_option_id,omitempty"`
	Options          []Option          `json:"options" yaml:"options"`
	TotalVolume      fixedpoint.Amount `json:"total_volume" yaml:"total_volume"`
	ParticipantCount int64             `json:"participant_count" yaml:"participant_count"`
}

// Option returns the option with the given id.
func (m Market) Option(id uint64) (Option, bool) {
	for _, o := range m.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Option is one possible outcome of a Market. CurrentPrice is a probability
// in base units; sibling prices sum to roughly 10^18.
type Option struct {
	ID           uint64            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description" yaml:"description"`
	CurrentPrice fixedpoint.Amount `json:"current_price" yaml:"current_price"`
	TotalShares  int64             `json:"total_shares" yaml:"total_shares"`
	TotalVolume  fixedpoint.Amount `json:"total_volume" yaml:"total_volume"`
}

// Position is a user's stake in one option of one market.
// Invested is the remaining cost basis of the held shares.
type Position struct {
	Address      string            `json:"address" yaml:"address"`
	MarketID     uint64            `json:"market_id" yaml:"market_id"`
	OptionID     uint64            `json:"option_id" yaml:"option_id"`
	Shares       int64             `json:"shares" yaml:"shares"`
	AvgPrice     fixedpoint.Amount `json:"avg_price" yaml:"avg_price"`
	Invested     fixedpoint.Amount `json:"invested" yaml:"invested"`
	CurrentPrice fixedpoint.Amount `json:"current_price" yaml:"current_price"`
}

// CurrentValue is shares × current price.
func (p Position) CurrentValue() fixedpoint.Amount {
	return p.CurrentPrice.MulShares(p.Shares)
}

// UnrealizedPnL is current value minus invested.
func (p Position) UnrealizedPnL() fixedpoint.Amount {
	return p.CurrentValue().Sub(p.Invested)
}

// TradeRecord is an immutable ledger entry. Once created, it is never
// modified or deleted; Total is fixed at the execution price.
type TradeRecord struct {
	ID        string            `json:"id" yaml:"id"`
	Address   string            `json:"address" yaml:"address"`
	MarketID  uint64            `json:"market_id" yaml:"market_id"`
	OptionID  uint64            `json:"option_id" yaml:"option_id"`
	Side      Side              `json:"side" yaml:"side"`
	Quantity  int64             `json:"quantity" yaml:"quantity"`
	Price     fixedpoint.Amount `json:"price" yaml:"price"`
	Total     fixedpoint.Amount `json:"total" yaml:"total"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
}

// Account is the caller's spendable balance as reported by the token contract.
type Account struct {
	Address string            `json:"address" yaml:"address"`
	Balance fixedpoint.Amount `json:"balance" yaml:"balance"`
}

// HoldingKey identifies an option within a market for share lookups.
func HoldingKey(marketID, optionID uint64) string {
	return fmt.Sprintf("%d:%d", marketID, optionID)
}
