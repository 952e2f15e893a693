// Package creation validates market drafts before they are submitted for
// on-chain creation and computes the tokens the creator must commit.
package creation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// Draft limits.
const (
	MinDurationDays     = 1
	MaxDurationDays     = 365
	MinInitialLiquidity = 100
	MinOptions          = 2
	MaxOptions          = 10
)

var (
	ErrQuestionRequired    = errors.New("creation: question is required")
	ErrDescriptionRequired = errors.New("creation: description is required")
	ErrDuration            = errors.New("creation: duration out of range")
	ErrLiquidity           = errors.New("creation: initial liquidity below minimum")
	ErrTooFewOptions       = errors.New("creation: at least 2 options are required")
	ErrTooManyOptions      = errors.New("creation: at most 10 options are allowed")
	ErrDuplicateOption     = errors.New("creation: option names must be unique")
	ErrFreeParticipants    = errors.New("creation: free entry needs at least 1 participant")
	ErrFreeTokens          = errors.New("creation: free entry needs at least 1 token per participant")
	ErrAllowanceTooLarge   = errors.New("creation: free entry allowance is too large")
)

// OptionDraft is one proposed outcome.
type OptionDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Draft is a proposed market. Token quantities are whole tokens.
type Draft struct {
	Question             string           `json:"question"`
	Description          string           `json:"description"`
	Category             model.Category   `json:"category"`
	Type                 model.MarketType `json:"market_type"`
	DurationDays         int              `json:"duration_days"`
	InitialLiquidity     int64            `json:"initial_liquidity"`
	EarlyResolution      bool             `json:"early_resolution"`
	MaxFreeParticipants  int64            `json:"max_free_participants"`
	TokensPerParticipant int64            `json:"tokens_per_participant"`
	Options              []OptionDraft    `json:"options"`
}

// Validate reports every problem with d, joined. Blank option rows are
// ignored, matching how the form drops them.
func (d Draft) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Question) == "" {
		errs = append(errs, ErrQuestionRequired)
	}
	if strings.TrimSpace(d.Description) == "" {
		errs = append(errs, ErrDescriptionRequired)
	}
	if d.DurationDays < MinDurationDays || d.DurationDays > MaxDurationDays {
		errs = append(errs, fmt.Errorf("%w: %d days (want %d-%d)",
			ErrDuration, d.DurationDays, MinDurationDays, MaxDurationDays))
	}
	if d.InitialLiquidity < MinInitialLiquidity {
		errs = append(errs, fmt.Errorf("%w: %d < %d", ErrLiquidity, d.InitialLiquidity, MinInitialLiquidity))
	}

	names := d.OptionNames()
	if len(names) < MinOptions {
		errs = append(errs, ErrTooFewOptions)
	}
	if len(names) > MaxOptions {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrTooManyOptions, len(names)))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if seen[key] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateOption, n))
			break
		}
		seen[key] = true
	}

	if d.Type == model.MarketTypeFreeEntry {
		if d.MaxFreeParticipants < 1 {
			errs = append(errs, ErrFreeParticipants)
		}
		if d.TokensPerParticipant < 1 {
			errs = append(errs, ErrFreeTokens)
		}
		if _, ok := d.totalTokens(); !ok {
			errs = append(errs, fmt.Errorf("%w: %d participants x %d tokens",
				ErrAllowanceTooLarge, d.MaxFreeParticipants, d.TokensPerParticipant))
		}
	}

	return errors.Join(errs...)
}

// OptionNames returns the trimmed, non-blank option names in order.
func (d Draft) OptionNames() []string {
	names := make([]string, 0, len(d.Options))
	for _, o := range d.Options {
		if n := strings.TrimSpace(o.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// TotalTokens is the whole-token commitment: initial liquidity plus, for
// free-entry markets, the participant allowance. It saturates at
// math.MaxInt64; Validate rejects drafts that get there.
func (d Draft) TotalTokens() int64 {
	total, _ := d.totalTokens()
	return total
}

// totalTokens reports false when the commitment does not fit in an int64.
func (d Draft) totalTokens() (int64, bool) {
	total := d.InitialLiquidity
	if d.Type != model.MarketTypeFreeEntry || d.MaxFreeParticipants <= 0 || d.TokensPerParticipant <= 0 {
		return total, true
	}
	if d.MaxFreeParticipants > math.MaxInt64/d.TokensPerParticipant {
		return math.MaxInt64, false
	}
	allowance := d.MaxFreeParticipants * d.TokensPerParticipant
	if total > math.MaxInt64-allowance {
		return math.MaxInt64, false
	}
	return total + allowance, true
}

// TotalCost is the commitment in base units. It is computed in decimal, so
// it stays exact even when TotalTokens saturates.
func (d Draft) TotalCost() fixedpoint.Amount {
	cost := fixedpoint.One.MulShares(d.InitialLiquidity)
	if d.Type == model.MarketTypeFreeEntry && d.MaxFreeParticipants > 0 && d.TokensPerParticipant > 0 {
		cost = cost.Add(fixedpoint.One.MulShares(d.MaxFreeParticipants).MulShares(d.TokensPerParticipant))
	}
	return cost
}
