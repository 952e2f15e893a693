// Package snapshot reads YAML fixtures of markets, accounts and ledger
// entries. The server seeds its store from one; marketctl evaluates one
// offline.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/policast/market-engine/internal/model"
	"github.com/policast/market-engine/internal/store"
)

var ErrDuplicateMarket = errors.New("snapshot: duplicate market id")

// Snapshot is the on-disk fixture. Amounts are base-unit integers.
type Snapshot struct {
	// AsOf pins the evaluation time. Zero means "now".
	AsOf     time.Time           `yaml:"as_of"`
	Markets  []model.Market      `yaml:"markets"`
	Accounts []model.Account     `yaml:"accounts"`
	Trades   []model.TradeRecord `yaml:"trades"`
}

// Load reads and parses the snapshot at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a snapshot and checks that market ids are unique.
func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot.Parse: %w", err)
	}

	seen := make(map[uint64]bool, len(snap.Markets))
	for _, m := range snap.Markets {
		if seen[m.ID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateMarket, m.ID)
		}
		seen[m.ID] = true
	}

	// Ledger replay depends on time order.
	sort.SliceStable(snap.Trades, func(i, j int) bool {
		return snap.Trades[i].Timestamp.Before(snap.Trades[j].Timestamp)
	})
	return &snap, nil
}

// Now returns AsOf, or the wall clock when AsOf is unset.
func (s *Snapshot) Now() time.Time {
	if s.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return s.AsOf
}

// Seed writes the snapshot into st. Balances in the snapshot are taken to
// be post-trade; each account starts from its balance with the ledger
// unwound, and replaying the trades brings it back.
func (s *Snapshot) Seed(ctx context.Context, st store.Store) error {
	for i := range s.Markets {
		if err := st.UpsertMarket(ctx, &s.Markets[i]); err != nil {
			return fmt.Errorf("seed market %d: %w", s.Markets[i].ID, err)
		}
	}

	// Credit each trade back before applying it so the final balance
	// matches the snapshot.
	pending := make(map[string]model.Account, len(s.Accounts))
	for _, a := range s.Accounts {
		pending[a.Address] = a
	}
	for _, t := range s.Trades {
		a := pending[t.Address]
		a.Address = t.Address
		if t.Side == model.SideBuy {
			a.Balance = a.Balance.Add(t.Total)
		} else {
			a.Balance = a.Balance.Sub(t.Total)
		}
		pending[t.Address] = a
	}
	for _, a := range pending {
		acct := a
		if err := st.UpsertAccount(ctx, &acct); err != nil {
			return fmt.Errorf("seed account %s: %w", a.Address, err)
		}
	}

	for i := range s.Trades {
		if err := st.ApplyTrade(ctx, &s.Trades[i]); err != nil {
			return fmt.Errorf("seed trade %s: %w", s.Trades[i].ID, err)
		}
	}
	return nil
}
