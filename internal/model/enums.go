package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCategory   = errors.New("model: unknown market category")
	ErrUnknownMarketType = errors.New("model: unknown market type")
	ErrUnknownSide       = errors.New("model: unknown trade side")
)

// Category is the closed set of market categories. The numeric values match
// the on-chain enum.
type Category uint8

const (
	CategoryPolitics Category = iota
	CategorySports
	CategoryEntertainment
	CategoryTechnology
	CategoryEconomics
	CategoryScience
	CategoryWeather
	CategoryOther
)

// Categories lists every category in on-chain order.
var Categories = []Category{
	CategoryPolitics,
	CategorySports,
	CategoryEntertainment,
	CategoryTechnology,
	CategoryEconomics,
	CategoryScience,
	CategoryWeather,
	CategoryOther,
}

func (c Category) String() string {
	switch c {
	case CategoryPolitics:
		return "POLITICS"
	case CategorySports:
		return "SPORTS"
	case CategoryEntertainment:
		return "ENTERTAINMENT"
	case CategoryTechnology:
		return "TECHNOLOGY"
	case CategoryEconomics:
		return "ECONOMICS"
	case CategoryScience:
		return "SCIENCE"
	case CategoryWeather:
		return "WEATHER"
	case CategoryOther:
		return "OTHER"
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) MarshalText() ([]byte, error) {
	if c > CategoryOther {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarketType distinguishes paid markets from free-entry markets.
type MarketType uint8

const (
	MarketTypePaid MarketType = iota
	MarketTypeFreeEntry
)

func (t MarketType) String() string {
	switch t {
	case MarketTypePaid:
		return "PAID"
	case MarketTypeFreeEntry:
		return "FREE_ENTRY"
	}
	return fmt.Sprintf("MarketType(%d)", uint8(t))
}

// ParseMarketType parses "PAID" or "FREE_ENTRY", case-insensitively.
func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToUpper(s) {
	case "PAID":
		return MarketTypePaid, nil
	case "FREE_ENTRY":
		return MarketTypeFreeEntry, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMarketType, s)
}

func (t MarketType) MarshalText() ([]byte, error) {
	if t > MarketTypeFreeEntry {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMarketType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *MarketType) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Side is the direction of a trade.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

// ParseSide parses "buy" or "sell", case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

func (s Side) MarshalText() ([]byte, error) {
	if s > SideSell {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSide, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
