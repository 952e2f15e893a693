// Package listing filters and orders market collections for list views.
package listing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// All is the sentinel filter value that disables a category or type filter.
const All = "all"

var ErrUnknownSortOrder = errors.New("listing: unknown sort order")

// SortOrder selects how filtered markets are ordered.
type SortOrder uint8

const (
	SortNewest SortOrder = iota
	SortEndingSoon
	SortVolume
	SortParticipants
)

func (o SortOrder) String() string {
	switch o {
	case SortNewest:
		return "newest"
	case SortEndingSoon:
		return "ending-soon"
	case SortVolume:
		return "volume"
	case SortParticipants:
		return "participants"
	}
	return fmt.Sprintf("SortOrder(%d)", uint8(o))
}

// ParseSortOrder parses a sort key. The empty string means newest.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newest":
		return SortNewest, nil
	case "ending-soon":
		return SortEndingSoon, nil
	case "volume":
		return SortVolume, nil
	case "participants":
		return SortParticipants, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSortOrder, s)
}

// Criteria is a list query. Nil Category or Type means "all".
type Criteria struct {
	Search   string
	Category *model.Category
	Type     *model.MarketType
	Sort     SortOrder
}

// ParseCriteria builds Criteria from raw query values. "all" and the empty
// string disable the category and type filters.
func ParseCriteria(search, category, marketType, sortOrder string) (Criteria, error) {
	c := Criteria{Search: strings.TrimSpace(search)}

	if category != "" && !strings.EqualFold(category, All) {
		cat, err := model.ParseCategory(category)
		if err != nil {
			return Criteria{}, err
		}
		c.Category = &cat
	}
	if marketType != "" && !strings.EqualFold(marketType, All) {
		t, err := model.ParseMarketType(marketType)
		if err != nil {
			return Criteria{}, err
		}
		c.Type = &t
	}

	order, err := ParseSortOrder(sortOrder)
	if err != nil {
		return Criteria{}, err
	}
	c.Sort = order
	return c, nil
}

// Filter runs search → category → type → sort. The result is a new slice;
// markets is not modified. The sort is stable, so ties keep input order.
func Filter(markets []model.Market, c Criteria) []model.Market {
	needle := strings.ToLower(c.Search)
	out := make([]model.Market, 0, len(markets))
	for _, m := range markets {
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Question), needle) &&
			!strings.Contains(strings.ToLower(m.Description), needle) {
			continue
		}
		if c.Category != nil && m.Category != *c.Category {
			continue
		}
		if c.Type != nil && m.Type != *c.Type {
			continue
		}
		out = append(out, m)
	}
	Sort(out, c.Sort)
	return out
}

// Sort orders markets in place with a stable sort.
func Sort(markets []model.Market, order SortOrder) {
	var less func(a, b model.Market) bool
	switch order {
	case SortNewest:
		less = func(a, b model.Market) bool { return a.ID > b.ID }
	case SortEndingSoon:
		less = func(a, b model.Market) bool { return a.EndTime.Before(b.EndTime) }
	case SortVolume:
		less = func(a, b model.Market) bool { return a.TotalVolume.GreaterThan(b.TotalVolume) }
	case SortParticipants:
		less = func(a, b model.Market) bool { return a.ParticipantCount > b.ParticipantCount }
	default:
		return
	}
	sort.SliceStable(markets, func(i, j int) bool { return less(markets[i], markets[j]) })
}

// Stats summarizes a market collection for the list header.
type Stats struct {
	TotalVolume       fixedpoint.Amount `json:"total_volume"`
	TotalParticipants int64             `json:"total_participants"`
	ActiveMarkets     int               `json:"active_markets"`
}

// Summarize computes Stats. A market counts as active when it is unresolved
// and its end time is after now.
func Summarize(markets []model.Market, now time.Time) Stats {
	var s Stats
	for _, m := range markets {
		s.TotalVolume = s.TotalVolume.Add(m.TotalVolume)
		s.TotalParticipants += m.ParticipantCount
		if !m.Resolved && m.EndTime.After(now) {
			s.ActiveMarkets++
		}
	}
	return s
}

// SharePlaces is the number of decimal places kept in CategoryStats.Share.
const SharePlaces int32 = 2

// CategoryStats is one row of the category breakdown.
type CategoryStats struct {
	Category     model.Category    `json:"category"`
	Markets      int               `json:"markets"`
	Volume       fixedpoint.Amount `json:"volume"`
	Share        decimal.Decimal   `json:"share"` // percent of total volume
	Participants int64             `json:"participants"`
}

// ByCategory groups markets by category. Every category appears, in
// on-chain order, even when it has no markets. Markets with an unknown
// category are left out of the rows and of the share denominator.
func ByCategory(markets []model.Market) []CategoryStats {
	rows := make([]CategoryStats, len(model.Categories))
	index := make(map[model.Category]int, len(model.Categories))
	for i, c := range model.Categories {
		rows[i] = CategoryStats{Category: c, Share: decimal.Zero}
		index[c] = i
	}

	var total fixedpoint.Amount
	for _, m := range markets {
		i, ok := index[m.Category]
		if !ok {
			continue
		}
		rows[i].Markets++
		rows[i].Volume = rows[i].Volume.Add(m.TotalVolume)
		rows[i].Participants += m.ParticipantCount
		total = total.Add(m.TotalVolume)
	}
	for i := range rows {
		rows[i].Share = rows[i].Volume.Percent(total).Round(SharePlaces)
	}
	return rows
}

// Trending returns up to n markets by volume, highest first.
func Trending(markets []model.Market, n int) []model.Market {
	return limit(Filter(markets, Criteria{Sort: SortVolume}), n)
}

// EndingSoon returns up to n unresolved markets by end time, soonest first.
func EndingSoon(markets []model.Market, n int) []model.Market {
	open := make([]model.Market, 0, len(markets))
	for _, m := range markets {
		if !m.Resolved {
			open = append(open, m)
		}
	}
	Sort(open, SortEndingSoon)
	return limit(open, n)
}

// FreeEntry returns the free-entry markets, newest first.
func FreeEntry(markets []model.Market) []model.Market {
	t := model.MarketTypeFreeEntry
	return Filter(markets, Criteria{Type: &t, Sort: SortNewest})
}

func limit(markets []model.Market, n int) []model.Market {
	if n >= 0 && len(markets) > n {
		return markets[:n]
	}
	return markets
}
