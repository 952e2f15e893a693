// Package quote projects the cost and return of a proposed trade and decides
// whether it can be submitted.
//
// The engine executes at the option's single quoted price; there is no
// slippage or order book. Every call is a pure function of its Request, so
// the host must re-run Validate against a fresh snapshot immediately before
// submitting an order.
package quote

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
	"github.com/policast/market-engine/internal/status"
)

// PercentScale is the number of decimal places kept in ReturnPercent.
const PercentScale int32 = 4

var (
	// ErrValidation covers malformed input: non-positive quantity or an
	// option that does not belong to the market.
	ErrValidation = errors.New("quote: invalid trade request")

	// ErrInsufficientFunds is returned when a buy costs more than the balance.
	ErrInsufficientFunds = errors.New("quote: insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the held shares.
	ErrInsufficientShares = errors.New("quote: insufficient shares")

	// ErrPriceLimit is returned when the quoted price crosses the caller's limit.
	ErrPriceLimit = errors.New("quote: price limit violated")

	// ErrMarketNotTradable is returned for resolved, disputed or expired markets.
	ErrMarketNotTradable = errors.New("quote: market is not tradable")
)

// Reason classifies why a quote is infeasible.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonValidation
	ReasonInsufficientFunds
	ReasonInsufficientShares
	ReasonPriceLimit
	ReasonMarketNotTradable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonValidation:
		return "validation_error"
	case ReasonInsufficientFunds:
		return "insufficient_funds"
	case ReasonInsufficientShares:
		return "insufficient_shares"
	case ReasonPriceLimit:
		return "price_limit_violation"
	case ReasonMarketNotTradable:
		return "market_not_tradable"
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Sentinel returns the error matched by errors.Is for this reason.
func (r Reason) Sentinel() error {
	switch r {
	case ReasonValidation:
		return ErrValidation
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonInsufficientShares:
		return ErrInsufficientShares
	case ReasonPriceLimit:
		return ErrPriceLimit
	case ReasonMarketNotTradable:
		return ErrMarketNotTradable
	}
	return nil
}

// ReasonOf maps an error produced by this package back to its Reason.
func ReasonOf(err error) Reason {
	for _, r := range []Reason{
		ReasonValidation,
		ReasonInsufficientFunds,
		ReasonInsufficientShares,
		ReasonPriceLimit,
		ReasonMarketNotTradable,
	} {
		if errors.Is(err, r.Sentinel()) {
			return r
		}
	}
	return ReasonNone
}

// Request is a snapshot of everything a quote depends on.
type Request struct {
	Market   model.Market
	OptionID uint64
	Side     model.Side
	Quantity int64

	// LimitPrice is the worst acceptable price per share: a ceiling for
	// buys, a floor for sells. Nil means no limit.
	LimitPrice *fixedpoint.Amount

	Balance    fixedpoint.Amount
	HeldShares int64
	Now        time.Time
}

// Quote is the projected outcome of a Request.
type Quote struct {
	OptionID        uint64            `json:"option_id"`
	Side            model.Side        `json:"side"`
	Quantity        int64             `json:"quantity"`
	UnitPrice       fixedpoint.Amount `json:"unit_price"`
	TotalCost       fixedpoint.Amount `json:"total_cost"`
	PotentialReturn fixedpoint.Amount `json:"potential_return"`
	MaxReturn       fixedpoint.Amount `json:"max_return"`
	ReturnPercent   decimal.Decimal   `json:"return_percent"`
	Feasible        bool              `json:"feasible"`
	Reason          Reason            `json:"reason"`
	Err             error             `json:"-"`
}

// Calculate projects req. Failures are reported in the returned Quote, never
// panicked or returned separately; the first failing check wins.
//
//	totalCost       = quantity × price
//	potentialReturn = buy: quantity × (1 − price), sell: quantity × price
//	maxReturn       = quantity × 1
//	returnPercent   = potentialReturn / totalCost × 100
func Calculate(req Request) Quote {
	q := Quote{
		OptionID: req.OptionID,
		Side:     req.Side,
		Quantity: req.Quantity,
	}

	opt, ok := req.Market.Option(req.OptionID)
	if !ok {
		return q.reject(ReasonValidation, "option %d not found on market %d", req.OptionID, req.Market.ID)
	}
	q.UnitPrice = opt.CurrentPrice

	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return q.reject(ReasonValidation, "unknown side %s", req.Side)
	}
	if req.Quantity <= 0 {
		return q.reject(ReasonValidation, "quantity must be positive, got %d", req.Quantity)
	}

	q.project(opt.CurrentPrice)

	res := status.Resolve(req.Market, req.Now)
	if !res.Tradable() || req.Market.Disputed {
		return q.reject(ReasonMarketNotTradable, "market %d is %s", req.Market.ID, res.Status)
	}

	if req.LimitPrice != nil {
		limit := *req.LimitPrice
		switch req.Side {
		case model.SideBuy:
			if opt.CurrentPrice.GreaterThan(limit) {
				return q.reject(ReasonPriceLimit, "price %s above maximum %s",
					opt.CurrentPrice.Display(), limit.Display())
			}
		case model.SideSell:
			if opt.CurrentPrice.LessThan(limit) {
				return q.reject(ReasonPriceLimit, "price %s below minimum %s",
					opt.CurrentPrice.Display(), limit.Display())
			}
		}
	}

	switch req.Side {
	case model.SideBuy:
		if q.TotalCost.GreaterThan(req.Balance) {
			return q.reject(ReasonInsufficientFunds, "cost %s exceeds balance %s",
				q.TotalCost.Display(), req.Balance.Display())
		}
	case model.SideSell:
		if req.Quantity > req.HeldShares {
			return q.reject(ReasonInsufficientShares, "selling %d shares, holding %d",
				req.Quantity, req.HeldShares)
		}
	}

	q.Feasible = true
	return q
}

// Validate is the submission gate: nil when req is feasible, otherwise an
// error wrapping one of the package sentinels.
func Validate(req Request) error {
	return Calculate(req).Err
}

func (q *Quote) project(price fixedpoint.Amount) {
	q.TotalCost = price.MulShares(q.Quantity)
	if q.Side == model.SideBuy {
		q.PotentialReturn = fixedpoint.One.Sub(price).MulShares(q.Quantity)
	} else {
		q.PotentialReturn = q.TotalCost
	}
	q.MaxReturn = fixedpoint.One.MulShares(q.Quantity)
	q.ReturnPercent = q.PotentialReturn.Percent(q.TotalCost).Round(PercentScale)
}

func (q Quote) reject(r Reason, format string, args ...any) Quote {
	q.Feasible = false
	q.Reason = r
	q.Err = fmt.Errorf("%w: "+format, append([]any{r.Sentinel()}, args...)...)
	return q
}

// Summary is the one-line call to action shown on the order button.
func (q Quote) Summary() string {
	verb, noun := "Buy", "purchase"
	if q.Side == model.SideSell {
		verb, noun = "Sell", "sale"
	}
	switch q.Reason {
	case ReasonInsufficientFunds:
		return "Insufficient balance"
	case ReasonInsufficientShares:
		return "Insufficient shares"
	case ReasonMarketNotTradable:
		return "Market closed"
	case ReasonPriceLimit:
		return "Price moved past your limit"
	case ReasonValidation:
		if q.Quantity <= 0 {
			return fmt.Sprintf("Enter %s amount", noun)
		}
		return "Invalid order"
	}
	return fmt.Sprintf("%s %d shares for $%s", verb, q.Quantity, q.TotalCost.Format(2))
}
