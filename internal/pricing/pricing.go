// Package pricing converts option prices into display probabilities.
// It formats only; sibling probabilities are never normalized here.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// PercentScale is the number of decimal places shown for probabilities.
const PercentScale int32 = 1

var hundred = decimal.NewFromInt(100)

// ProbabilityPercent returns price / 10^18 × 100 rounded to one place and
// clamped to [0, 100].
func ProbabilityPercent(o model.Option) decimal.Decimal {
	p := o.CurrentPrice.ToDecimal().Mul(hundred).Round(PercentScale)
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// UnitPrice returns the display price of one share.
func UnitPrice(o model.Option) decimal.Decimal {
	return o.CurrentPrice.ToDecimal()
}

// DisplayPrice renders the per-share price with fixedpoint.DisplayPlaces.
func DisplayPrice(o model.Option) string {
	return o.CurrentPrice.Display()
}

// OptionView is the per-option display row for a market.
type OptionView struct {
	ID           uint64            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Percent      decimal.Decimal   `json:"percent"`
	DisplayPrice string            `json:"display_price"`
	CurrentPrice fixedpoint.Amount `json:"current_price"`
	TotalShares  int64             `json:"total_shares"`
	TotalVolume  fixedpoint.Amount `json:"total_volume"`
}

// View builds the display rows for every option in m, in option order.
func View(m model.Market) []OptionView {
	views := make([]OptionView, 0, len(m.Options))
	for _, o := range m.Options {
		views = append(views, OptionView{
			ID:           o.ID,
			Name:         o.Name,
			Description:  o.Description,
			Percent:      ProbabilityPercent(o),
			DisplayPrice: DisplayPrice(o),
			CurrentPrice: o.CurrentPrice,
			TotalShares:  o.TotalShares,
			TotalVolume:  o.TotalVolume,
		})
	}
	return views
}

// ImpliedTotal sums the raw option prices. A healthy price source reports
// roughly fixedpoint.One; the value is reported, never corrected.
func ImpliedTotal(m model.Market) fixedpoint.Amount {
	total := fixedpoint.Zero
	for _, o := range m.Options {
		total = total.Add(o.CurrentPrice)
	}
	return total
}
