package store

import (
	"fmt"
	"sort"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// BuildPositions replays trades (assumed in time order) into average-cost
// positions. Sells release cost basis pro rata; fully closed positions are
// dropped. CurrentPrice comes from lookup, which may return false for
// markets it does not know.
func BuildPositions(address string, trades []model.TradeRecord, lookup func(marketID uint64) (model.Market, bool)) []model.Position {
	type agg struct {
		marketID uint64
		optionID uint64
		shares   int64
		invested fixedpoint.Amount
	}

	byKey := make(map[string]*agg)
	var order []string

	for _, t := range trades {
		if t.Address != address {
			continue
		}
		key := model.HoldingKey(t.MarketID, t.OptionID)
		a, ok := byKey[key]
		if !ok {
			a = &agg{marketID: t.MarketID, optionID: t.OptionID}
			byKey[key] = a
			order = append(order, key)
		}

		switch t.Side {
		case model.SideBuy:
			a.shares += t.Quantity
			a.invested = a.invested.Add(t.Total)
		case model.SideSell:
			qty := t.Quantity
			if qty > a.shares {
				qty = a.shares
			}
			if qty == 0 {
				continue
			}
			basis := a.invested.MulShares(qty).DivShares(a.shares)
			a.invested = a.invested.Sub(basis)
			a.shares -= qty
		}
	}

	positions := make([]model.Position, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		if a.shares <= 0 {
			continue
		}
		p := model.Position{
			Address:  address,
			MarketID: a.marketID,
			OptionID: a.optionID,
			Shares:   a.shares,
			AvgPrice: a.invested.DivShares(a.shares),
			Invested: a.invested,
		}
		if m, ok := lookup(a.marketID); ok {
			if o, ok := m.Option(a.optionID); ok {
				p.CurrentPrice = o.CurrentPrice
			}
		}
		positions = append(positions, p)
	}

	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].MarketID != positions[j].MarketID {
			return positions[i].MarketID < positions[j].MarketID
		}
		return positions[i].OptionID < positions[j].OptionID
	})
	return positions
}

// HeldShares returns the shares held in one option, or 0.
func HeldShares(positions []model.Position, marketID, optionID uint64) int64 {
	for _, p := range positions {
		if p.MarketID == marketID && p.OptionID == optionID {
			return p.Shares
		}
	}
	return 0
}

// holding replays trades (in time order) for one option and returns the
// shares still held. Oversells clamp to zero, as in BuildPositions.
func holding(trades []model.TradeRecord, address string, marketID, optionID uint64) int64 {
	var shares int64
	for _, t := range trades {
		if t.Address != address || t.MarketID != marketID || t.OptionID != optionID {
			continue
		}
		switch t.Side {
		case model.SideBuy:
			shares += t.Quantity
		case model.SideSell:
			shares -= min(t.Quantity, shares)
		}
	}
	return shares
}

// checkSell rejects a sell larger than held.
func checkSell(t *model.TradeRecord, held int64) error {
	if t.Side == model.SideSell && t.Quantity > held {
		return fmt.Errorf("%w: %s selling %d of %d/%d, holding %d",
			ErrInsufficientShares, t.Address, t.Quantity, t.MarketID, t.OptionID, held)
	}
	return nil
}

// balanceDelta is the signed balance change of a trade: buys debit, sells credit.
func balanceDelta(t *model.TradeRecord) fixedpoint.Amount {
	if t.Side == model.SideBuy {
		return t.Total.Neg()
	}
	return t.Total
}
