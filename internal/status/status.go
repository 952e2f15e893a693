// Package status derives a market's lifecycle status and time remaining from
// its timestamps and resolution flags.
package status

import (
	"fmt"
	"time"

	"github.com/policast/market-engine/internal/model"
)

const (
	day  = 24 * time.Hour
	hour = time.Hour
)

// Status is the externally visible lifecycle state of a market. It is
// always computed, never stored.
type Status uint8

const (
	Active Status = iota
	Expired
	Resolved
	Disputed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Resolved:
		return "resolved"
	case Disputed:
		return "disputed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolution is the derived status plus the time-remaining breakdown.
type Resolution struct {
	Status         Status        `json:"status"`
	Remaining      time.Duration `json:"-"`
	DaysRemaining  int64         `json:"days_remaining"`
	HoursRemaining int64         `json:"hours_remaining"`
}

// Resolve computes the status of m at now.
//
// Precedence: Resolved > Disputed > Expired > Active. A resolution is final
// and overrides expiry; a pending dispute suppresses the Expired label.
func Resolve(m model.Market, now time.Time) Resolution {
	remaining := m.EndTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	r := Resolution{
		Remaining:      remaining,
		DaysRemaining:  int64(remaining / day),
		HoursRemaining: int64((remaining % day) / hour),
	}

	switch {
	case m.Resolved:
		r.Status = Resolved
	case m.Disputed:
		r.Status = Disputed
	case remaining == 0:
		r.Status = Expired
	default:
		r.Status = Active
	}
	return r
}

// Tradable reports whether orders may be placed.
func (r Resolution) Tradable() bool {
	return r.Status == Active
}

// Label renders the time remaining the way market cards show it.
func (r Resolution) Label() string {
	switch {
	case r.Remaining == 0:
		return "Expired"
	case r.DaysRemaining > 0:
		return fmt.Sprintf("%dd %dh left", r.DaysRemaining, r.HoursRemaining)
	case r.HoursRemaining > 0:
		return fmt.Sprintf("%dh left", r.HoursRemaining)
	default:
		return "Ending soon"
	}
}
