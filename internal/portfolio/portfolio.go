// Package portfolio folds a user's positions and trade ledger into
// portfolio-level metrics and per-position P&L.
//
// All money stays in fixedpoint.Amount so the identities
//
//	totalValue == totalInvested + unrealizedPnL
//	totalPnL   == realizedPnL + unrealizedPnL
//
// hold exactly. Percentages are derived at the end.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// PercentScale is the number of decimal places kept in percentages.
const PercentScale int32 = 2

var hundred = decimal.NewFromInt(100)

// PositionStatus is the settlement state of a position.
type PositionStatus uint8

const (
	StatusActive PositionStatus = iota
	StatusWon
	StatusLost
	StatusExpired
)

func (s PositionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWon:
		return "won"
	case StatusLost:
		return "lost"
	case StatusExpired:
		return "expired"
	}
	return fmt.Sprintf("PositionStatus(%d)", uint8(s))
}

func (s PositionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settled reports whether the position's market has been resolved.
func (s PositionStatus) Settled() bool {
	return s == StatusWon || s == StatusLost
}

// StatusOf derives the status of p from its market at now. A position only
// becomes won or lost once the market is resolved; an unresolved market past
// its end time is expired.
func StatusOf(p model.Position, m model.Market, now time.Time) PositionStatus {
	if m.Resolved {
		if m.WinningOptionID != nil && *m.WinningOptionID == p.OptionID {
			return StatusWon
		}
		return StatusLost
	}
	if !now.Before(m.EndTime) {
		return StatusExpired
	}
	return StatusActive
}

// Input is the snapshot to aggregate. Markets is keyed by market id;
// positions whose market is missing are treated as active.
type Input struct {
	Positions []model.Position
	Trades    []model.TradeRecord
	Markets   map[uint64]model.Market
	Now       time.Time
}

// PositionReport is the per-position breakdown.
type PositionReport struct {
	model.Position
	Status       PositionStatus    `json:"status"`
	CurrentValue fixedpoint.Amount `json:"current_value"`
	PnL          fixedpoint.Amount `json:"pnl"`
	PnLPercent   decimal.Decimal   `json:"pnl_percent"`
	Allocation   decimal.Decimal   `json:"allocation"`
}

// AllocationPercent is Allocation scaled to a percentage.
func (r PositionReport) AllocationPercent() decimal.Decimal {
	return r.Allocation.Mul(hundred).Round(PercentScale)
}

// CategoryPerformance is the per-category slice of a portfolio. PnL sums
// the position reports in the category; ledger legs are not included.
type CategoryPerformance struct {
	Category      model.Category    `json:"category"`
	TradeCount    int               `json:"trade_count"`
	TradedVolume  fixedpoint.Amount `json:"traded_volume"`
	OpenPositions int               `json:"open_positions"`
	WonPositions  int               `json:"won_positions"`
	LostPositions int               `json:"lost_positions"`
	WinRate       decimal.Decimal   `json:"win_rate"`
	PnL           fixedpoint.Amount `json:"pnl"`
}

// Summary is the top-level portfolio view.
type Summary struct {
	TotalInvested fixedpoint.Amount `json:"total_invested"`
	UnrealizedPnL fixedpoint.Amount `json:"unrealized_pnl"`
	RealizedPnL   fixedpoint.Amount `json:"realized_pnl"`
	TotalValue    fixedpoint.Amount `json:"total_value"`
	TotalPnL      fixedpoint.Amount `json:"total_pnl"`
	WinRate       decimal.Decimal   `json:"win_rate"`
	AvgReturn     decimal.Decimal   `json:"avg_return"`

	ActivePositions int `json:"active_positions"`
	WonPositions    int `json:"won_positions"`
	LostPositions   int `json:"lost_positions"`

	TradeCount       int               `json:"trade_count"`
	TradedVolume     fixedpoint.Amount `json:"traded_volume"`
	BestTrade        fixedpoint.Amount `json:"best_trade"`
	WorstTrade       fixedpoint.Amount `json:"worst_trade"`
	UnmatchedSellQty int64             `json:"unmatched_sell_qty"`

	Positions  []PositionReport      `json:"positions"`
	Categories []CategoryPerformance `json:"categories"`
}

// Aggregate computes the portfolio summary for in.
func Aggregate(in Input) Summary {
	var s Summary
	s.Positions = make([]PositionReport, 0, len(in.Positions))

	var legs []fixedpoint.Amount
	var closedReturns []decimal.Decimal

	for _, p := range in.Positions {
		st := StatusActive
		if m, ok := in.Markets[p.MarketID]; ok {
			st = StatusOf(p, m, in.Now)
		}

		value := p.CurrentValue()
		switch st {
		case StatusWon:
			value = fixedpoint.One.MulShares(p.Shares)
		case StatusLost:
			value = fixedpoint.Zero
		}
		pnl := value.Sub(p.Invested)

		r := PositionReport{
			Position:     p,
			Status:       st,
			CurrentValue: value,
			PnL:          pnl,
			PnLPercent:   pnl.Percent(p.Invested).Round(PercentScale),
			Allocation:   decimal.Zero,
		}
		s.Positions = append(s.Positions, r)

		if st.Settled() {
			s.RealizedPnL = s.RealizedPnL.Add(pnl)
			legs = append(legs, pnl)
			closedReturns = append(closedReturns, r.PnLPercent)
			if st == StatusWon {
				s.WonPositions++
			} else {
				s.LostPositions++
			}
			continue
		}
		s.ActivePositions++
		s.TotalInvested = s.TotalInvested.Add(p.Invested)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(pnl)
	}

	realized := realizeLedger(in.Trades)
	s.TradeCount = len(in.Trades)
	s.TradedVolume = realized.volume
	s.UnmatchedSellQty = realized.unmatchedQty
	s.RealizedPnL = s.RealizedPnL.Add(realized.pnl)
	legs = append(legs, realized.legs...)

	s.TotalValue = s.TotalInvested.Add(s.UnrealizedPnL)
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)

	for i := range s.Positions {
		if s.Positions[i].Status.Settled() {
			continue
		}
		s.Positions[i].Allocation = s.Positions[i].CurrentValue.Ratio(s.TotalValue)
	}

	closed := s.WonPositions + s.LostPositions
	s.WinRate = decimal.Zero
	if closed > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WonPositions)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(hundred).
			Round(PercentScale)
	}

	s.AvgReturn = decimal.Zero
	if len(closedReturns) > 0 {
		s.AvgReturn = decimal.Avg(closedReturns[0], closedReturns[1:]...).Round(PercentScale)
	}

	s.Categories = byCategory(s.Positions, in.Trades, in.Markets)

	for i, leg := range legs {
		if i == 0 || leg.GreaterThan(s.BestTrade) {
			s.BestTrade = leg
		}
		if i == 0 || leg.LessThan(s.WorstTrade) {
			s.WorstTrade = leg
		}
	}

	return s
}

// byCategory buckets position reports and trades by their market's
// category. Only categories with activity are returned, in on-chain order.
// Anything whose market is missing from markets is skipped.
func byCategory(reports []PositionReport, trades []model.TradeRecord, markets map[uint64]model.Market) []CategoryPerformance {
	buckets := make(map[model.Category]*CategoryPerformance)
	bucket := func(marketID uint64) *CategoryPerformance {
		m, ok := markets[marketID]
		if !ok {
			return nil
		}
		b, ok := buckets[m.Category]
		if !ok {
			b = &CategoryPerformance{Category: m.Category}
			buckets[m.Category] = b
		}
		return b
	}

	for _, t := range trades {
		if b := bucket(t.MarketID); b != nil {
			b.TradeCount++
			b.TradedVolume = b.TradedVolume.Add(t.Total)
		}
	}
	for _, r := range reports {
		b := bucket(r.MarketID)
		if b == nil {
			continue
		}
		b.PnL = b.PnL.Add(r.PnL)
		switch r.Status {
		case StatusWon:
			b.WonPositions++
		case StatusLost:
			b.LostPositions++
		default:
			b.OpenPositions++
		}
	}

	out := make([]CategoryPerformance, 0, len(buckets))
	for _, c := range model.Categories {
		b, ok := buckets[c]
		if !ok {
			continue
		}
		b.WinRate = decimal.Zero
		if closed := b.WonPositions + b.LostPositions; closed > 0 {
			b.WinRate = decimal.NewFromInt(int64(b.WonPositions)).
				Div(decimal.NewFromInt(int64(closed))).
				Mul(hundred).
				Round(PercentScale)
		}
		out = append(out, *b)
	}
	return out
}

type ledgerResult struct {
	pnl          fixedpoint.Amount
	volume       fixedpoint.Amount
	legs         []fixedpoint.Amount
	unmatchedQty int64
}

type lot struct {
	shares int64
	cost   fixedpoint.Amount
}

// realizeLedger replays trades in timestamp order with average-cost
// accounting. Totals are taken as recorded, never repriced. Sells with no
// recorded cost basis are counted as unmatched and realize nothing.
func realizeLedger(trades []model.TradeRecord) ledgerResult {
	ordered := make([]model.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var res ledgerResult
	lots := make(map[string]*lot)

	for _, t := range ordered {
		res.volume = res.volume.Add(t.Total)
		key := model.HoldingKey(t.MarketID, t.OptionID)
		l, ok := lots[key]
		if !ok {
			l = &lot{}
			lots[key] = l
		}

		switch t.Side {
		case model.SideBuy:
			l.shares += t.Quantity
			l.cost = l.cost.Add(t.Total)
		case model.SideSell:
			matched := t.Quantity
			if matched > l.shares {
				res.unmatchedQty += matched - l.shares
				matched = l.shares
			}
			if matched == 0 {
				continue
			}
			basis := l.cost.MulShares(matched).DivShares(l.shares)
			proceeds := t.Total
			if matched != t.Quantity {
				proceeds = t.Total.MulShares(matched).DivShares(t.Quantity)
			}
			leg := proceeds.Sub(basis)
			res.pnl = res.pnl.Add(leg)
			res.legs = append(res.legs, leg)

			l.shares -= matched
			l.cost = l.cost.Sub(basis)
		}
	}
	return res
}
