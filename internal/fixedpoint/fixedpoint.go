// Package fixedpoint implements the 18-decimal scaled integer used for every
// price, balance and volume in the engine.
//
// An Amount v represents the real number v / 10^18. Arithmetic stays on the
// integer domain; conversion to human-readable decimals happens only at the
// formatting boundary.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of implicit decimal places in an Amount.
const Decimals int32 = 18

// DisplayPlaces is the default number of places used by Display.
const DisplayPlaces int32 = 4

var (
	// ErrInvalidAmount is returned when a base-unit string cannot be parsed.
	ErrInvalidAmount = errors.New("fixedpoint: invalid base-unit amount")

	// ErrFractionalUnits is returned when a value would need fractional base units.
	ErrFractionalUnits = errors.New("fixedpoint: amount has fractional base units")

	// Zero is the zero amount.
	Zero = Amount{}

	// One is 1.0 (10^18 base units), the payout of a winning share.
	One = Amount{units: decimal.New(1, Decimals)}
)

// Amount is a scaled integer with 18 implicit decimals.
// The zero value is 0.
type Amount struct {
	units decimal.Decimal
}

// FromUnits creates an Amount from a raw base-unit count.
func FromUnits(units int64) Amount {
	return Amount{units: decimal.NewFromInt(units)}
}

// FromBig creates an Amount from a raw base-unit count.
func FromBig(units *big.Int) Amount {
	if units == nil {
		return Zero
	}
	return Amount{units: decimal.NewFromBigInt(units, 0)}
}

// ParseUnits parses a base-unit integer string such as "720000000000000000".
func ParseUnits(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromBig(n), nil
}

// FromDecimal converts a display decimal to base units: round(d × 10^18).
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{units: d.Shift(Decimals).Round(0)}
}

// ParseDecimal parses a display decimal string such as "0.72".
func ParseDecimal(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d), nil
}

// FromFloat converts a float display value to base units. Only for values
// arriving from float-typed boundaries; never feed an Amount back through it.
func FromFloat(f float64) Amount {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Units returns the raw base-unit count as a decimal with no fractional part.
func (a Amount) Units() decimal.Decimal {
	return a.units
}

// BigInt returns the raw base-unit count.
func (a Amount) BigInt() *big.Int {
	return a.units.BigInt()
}

// ToDecimal returns the exact display value units / 10^18.
func (a Amount) ToDecimal() decimal.Decimal {
	return a.units.Shift(-Decimals)
}

// Float64 returns the display value as a float. Use for ratios and charts,
// not for money.
func (a Amount) Float64() float64 {
	return a.ToDecimal().InexactFloat64()
}

// Format renders the display value with the given number of places.
func (a Amount) Format(places int32) string {
	return a.ToDecimal().StringFixed(places)
}

// Display renders the display value with DisplayPlaces places.
func (a Amount) Display() string {
	return a.Format(DisplayPlaces)
}

// String returns the base-unit integer string.
func (a Amount) String() string {
	return a.units.String()
}

func (a Amount) Add(b Amount) Amount { return Amount{units: a.units.Add(b.units)} }
func (a Amount) Sub(b Amount) Amount { return Amount{units: a.units.Sub(b.units)} }
func (a Amount) Neg() Amount { return Amount{units: a.units.Neg()} }
func (a Amount) Abs() Amount { return Amount{units: a.units.Abs()} }

// MulShares multiplies a per-share amount by a whole number of shares.
func (a Amount) MulShares(n int64) Amount {
	return Amount{units: a.units.Mul(decimal.NewFromInt(n))}
}

// DivShares divides by a whole number of shares, truncating toward zero so
// the result stays in whole base units. Returns Zero when n is 0.
func (a Amount) DivShares(n int64) Amount {
	if n == 0 {
		return Zero
	}
	q, _ := a.units.QuoRem(decimal.NewFromInt(n), 0)
	return Amount{units: q}
}

// Ratio returns a / b as a decimal, or 0 when b is zero.
func (a Amount) Ratio(b Amount) decimal.Decimal {
	if b.units.IsZero() {
		return decimal.Zero
	}
	return a.units.Div(b.units)
}

// Percent returns a / b × 100, or 0 when b is zero.
func (a Amount) Percent(b Amount) decimal.Decimal {
	return a.Ratio(b).Mul(decimal.NewFromInt(100))
}

func (a Amount) Cmp(b Amount) int { return a.units.Cmp(b.units) }
func (a Amount) Equal(b Amount) bool { return a.units.Equal(b.units) }
func (a Amount) LessThan(b Amount) bool { return a.units.LessThan(b.units) }
func (a Amount) LessThanOrEqual(b Amount) bool { return a.units.LessThanOrEqual(b.units) }
func (a Amount) GreaterThan(b Amount) bool { return a.units.GreaterThan(b.units) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.units.GreaterThanOrEqual(b.units) }
func (a Amount) IsZero() bool { return a.units.IsZero() }
func (a Amount) IsPositive() bool { return a.units.IsPositive() }
func (a Amount) IsNegative() bool { return a.units.IsNegative() }
func (a Amount) Sign() int { return a.units.Sign() }

// Sum adds a list of amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// MarshalText encodes the amount as a base-unit integer string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a base-unit integer string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseUnits(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a quoted base-unit string so values
// above 2^53 survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare base-unit integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*a = Zero
		return nil
	}
	return a.UnmarshalText([]byte(s))
}

// NewFromStringUnits is a convenience for store scans: it parses a NUMERIC
// column rendered as text, rejecting fractional base units.
func NewFromStringUnits(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Truncate(0)) {
		return Zero, fmt.Errorf("%w: %s", ErrFractionalUnits, s)
	}
	return Amount{units: d.Truncate(0)}, nil
}
