package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func amt(s string) fixedpoint.Amount {
	a, err := fixedpoint.ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return a
}

func u64(v uint64) *uint64 { return &v }

func twoWay(id uint64, yes string, end time.Time) model.Market {
	return model.Market{
		ID:      id,
		EndTime: end,
		Options: []model.Option{
			{ID: 1, Name: "Yes", CurrentPrice: amt(yes)},
			{ID: 2, Name: "No", CurrentPrice: fixedpoint.One.Sub(amt(yes))},
		},
	}
}

func trade(id string, marketID, optionID uint64, side model.Side, qty int64, price string, day int) model.TradeRecord {
	p := amt(price)
	return model.TradeRecord{
		ID:        id,
		Address:   "0xa11ce",
		MarketID:  marketID,
		OptionID:  optionID,
		Side:      side,
		Quantity:  qty,
		Price:     p,
		Total:     p.MulShares(qty),
		Timestamp: time.Date(2026, 1, day, 10, 0, 0, 0, time.UTC),
	}
}

// fixture is one open winner, one resolved winner, one open loser-in-waiting
// and one resolved loser, plus a partial sell.
func fixture() Input {
	future := now.Add(20 * 24 * time.Hour)
	past := now.Add(-10 * 24 * time.Hour)

	m1 := twoWay(1, "0.72", future)
	m2 := twoWay(2, "1", past)
	m2.Resolved, m2.WinningOptionID = true, u64(1)
	m3 := twoWay(3, "0.45", future)
	m4 := twoWay(4, "0.9", past)
	m4.Resolved, m4.WinningOptionID = true, u64(1)

	return Input{
		Positions: []model.Position{
			{MarketID: 1, OptionID: 1, Shares: 40, AvgPrice: amt("0.6"), Invested: amt("24"), CurrentPrice: amt("0.72")},
			{MarketID: 2, OptionID: 1, Shares: 100, AvgPrice: amt("0.5"), Invested: amt("50"), CurrentPrice: amt("1")},
			{MarketID: 3, OptionID: 2, Shares: 40, AvgPrice: amt("0.5"), Invested: amt("20"), CurrentPrice: amt("0.55")},
			{MarketID: 4, OptionID: 2, Shares: 10, AvgPrice: amt("0.4"), Invested: amt("4"), CurrentPrice: amt("0.1")},
		},
		Trades: []model.TradeRecord{
			trade("t1", 1, 1, model.SideBuy, 50, "0.6", 15),
			trade("t2", 2, 1, model.SideBuy, 100, "0.5", 16),
			trade("t3", 1, 1, model.SideSell, 10, "0.7", 20),
			trade("t4", 3, 2, model.SideBuy, 40, "0.5", 22),
			trade("t5", 4, 2, model.SideBuy, 10, "0.4", 23),
		},
		Markets: map[uint64]model.Market{1: m1, 2: m2, 3: m3, 4: m4},
		Now:     now,
	}
}

func TestAggregate_Totals(t *testing.T) {
	s := Aggregate(fixture())

	checks := []struct {
		name string
		got  fixedpoint.Amount
		want string
	}{
		{"total invested", s.TotalInvested, "44"},
		{"unrealized", s.UnrealizedPnL, "6.8"},
		{"realized", s.RealizedPnL, "47"}, // +50 won, -4 lost, +1 sell leg
		{"total value", s.TotalValue, "50.8"},
		{"total pnl", s.TotalPnL, "53.8"},
		{"traded volume", s.TradedVolume, "111"},
		{"best trade", s.BestTrade, "50"},
		{"worst trade", s.WorstTrade, "-4"},
	}
	for _, c := range checks {
		if !c.got.Equal(amt(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got.Display(), c.want)
		}
	}

	if s.ActivePositions != 2 || s.WonPositions != 1 || s.LostPositions != 1 {
		t.Errorf("counts active=%d won=%d lost=%d", s.ActivePositions, s.WonPositions, s.LostPositions)
	}
	if s.TradeCount != 5 {
		t.Errorf("trade count = %d", s.TradeCount)
	}
	if s.UnmatchedSellQty != 0 {
		t.Errorf("unmatched = %d", s.UnmatchedSellQty)
	}
}

func TestAggregate_Identities(t *testing.T) {
	s := Aggregate(fixture())

	if !s.TotalValue.Equal(s.TotalInvested.Add(s.UnrealizedPnL)) {
		t.Errorf("totalValue %s != invested %s + unrealized %s", s.TotalValue, s.TotalInvested, s.UnrealizedPnL)
	}
	if !s.TotalPnL.Equal(s.RealizedPnL.Add(s.UnrealizedPnL)) {
		t.Errorf("totalPnL %s != realized %s + unrealized %s", s.TotalPnL, s.RealizedPnL, s.UnrealizedPnL)
	}
}

func TestAggregate_WinRateAndAvgReturn(t *testing.T) {
	s := Aggregate(fixture())
	if s.WinRate.String() != "50" {
		t.Errorf("win rate = %s, want 50", s.WinRate)
	}
	// Won +100%, lost -100%.
	if !s.AvgReturn.IsZero() {
		t.Errorf("avg return = %s, want 0", s.AvgReturn)
	}
}

func TestAggregate_PositionReports(t *testing.T) {
	s := Aggregate(fixture())
	if len(s.Positions) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(s.Positions))
	}

	want := []struct {
		status PositionStatus
		value  string
		pnl    string
		pct    string
	}{
		{StatusActive, "28.8", "4.8", "20"},
		{StatusWon, "100", "50", "100"},
		{StatusActive, "22", "2", "10"},
		{StatusLost, "0", "-4", "-100"},
	}
	for i, w := range want {
		r := s.Positions[i]
		if r.Status != w.status {
			t.Errorf("[%d] status = %s, want %s", i, r.Status, w.status)
		}
		if !r.CurrentValue.Equal(amt(w.value)) || !r.PnL.Equal(amt(w.pnl)) {
			t.Errorf("[%d] value=%s pnl=%s", i, r.CurrentValue.Display(), r.PnL.Display())
		}
		if r.PnLPercent.String() != w.pct {
			t.Errorf("[%d] pnl%% = %s, want %s", i, r.PnLPercent, w.pct)
		}
	}
}

func TestAggregate_AllocationOpenOnly(t *testing.T) {
	s := Aggregate(fixture())

	total := decimal.Zero
	for _, r := range s.Positions {
		if r.Status.Settled() {
			if !r.Allocation.IsZero() {
				t.Errorf("settled position has allocation %s", r.Allocation)
			}
			continue
		}
		total = total.Add(r.Allocation)
	}
	if total.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.New(1, -12)) {
		t.Errorf("open allocations sum to %s, want 1", total)
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(Input{Now: now})
	if !s.TotalValue.IsZero() || !s.TotalPnL.IsZero() || !s.WinRate.IsZero() || !s.AvgReturn.IsZero() {
		t.Errorf("empty portfolio should be all zero: %+v", s)
	}
	if s.Positions == nil || len(s.Positions) != 0 {
		t.Error("positions should be an empty, non-nil slice")
	}
}

func TestAggregate_TradeOrderIrrelevant(t *testing.T) {
	in := fixture()
	a := Aggregate(in)

	reversed := make([]model.TradeRecord, len(in.Trades))
	for i, tr := range in.Trades {
		reversed[len(in.Trades)-1-i] = tr
	}
	in.Trades = reversed
	b := Aggregate(in)

	if !a.RealizedPnL.Equal(b.RealizedPnL) || !a.BestTrade.Equal(b.BestTrade) {
		t.Errorf("ledger replay depends on input order: %s vs %s", a.RealizedPnL, b.RealizedPnL)
	}
}

func TestRealizeLedger_UnmatchedSell(t *testing.T) {
	res := realizeLedger([]model.TradeRecord{
		trade("s", 9, 1, model.SideSell, 5, "0.5", 1),
	})
	if res.unmatchedQty != 5 || !res.pnl.IsZero() || len(res.legs) != 0 {
		t.Errorf("unmatched=%d pnl=%s legs=%d", res.unmatchedQty, res.pnl, len(res.legs))
	}
	if !res.volume.Equal(amt("2.5")) {
		t.Errorf("volume = %s", res.volume.Display())
	}
}

func TestRealizeLedger_PartiallyUnmatchedSell(t *testing.T) {
	res := realizeLedger([]model.TradeRecord{
		trade("b", 9, 1, model.SideBuy, 10, "0.5", 1),
		trade("s", 9, 1, model.SideSell, 15, "0.6", 2),
	})
	// Matched 10 of 15: proceeds 9 × 10/15 = 6, basis 5.
	if res.unmatchedQty != 5 {
		t.Errorf("unmatched = %d, want 5", res.unmatchedQty)
	}
	if !res.pnl.Equal(amt("1")) {
		t.Errorf("pnl = %s, want 1", res.pnl.Display())
	}
}

func TestRealizeLedger_AverageCost(t *testing.T) {
	res := realizeLedger([]model.TradeRecord{
		trade("b1", 9, 1, model.SideBuy, 10, "0.4", 1),
		trade("b2", 9, 1, model.SideBuy, 10, "0.6", 2),
		trade("s1", 9, 1, model.SideSell, 10, "0.7", 3),
		trade("s2", 9, 1, model.SideSell, 10, "0.3", 4),
	})
	// Average cost 0.5: +2 then -2.
	if len(res.legs) != 2 || !res.legs[0].Equal(amt("2")) || !res.legs[1].Equal(amt("-2")) {
		t.Errorf("legs = %v", res.legs)
	}
	if !res.pnl.IsZero() {
		t.Errorf("pnl = %s, want 0", res.pnl.Display())
	}
}

func TestStatusOf(t *testing.T) {
	p := model.Position{MarketID: 1, OptionID: 2}
	m := twoWay(1, "0.5", now.Add(time.Hour))

	if got := StatusOf(p, m, now); got != StatusActive {
		t.Errorf("open market: %s", got)
	}
	if got := StatusOf(p, m, now.Add(time.Hour)); got != StatusExpired {
		t.Errorf("at end time: %s", got)
	}

	m.Resolved = true
	if got := StatusOf(p, m, now); got != StatusLost {
		t.Errorf("resolved without winner: %s", got)
	}
	m.WinningOptionID = u64(2)
	if got := StatusOf(p, m, now.Add(48*time.Hour)); got != StatusWon {
		t.Errorf("resolved to held option: %s", got)
	}
}

func TestAggregate_ExpiredIsOpen(t *testing.T) {
	in := Input{
		Positions: []model.Position{
			{MarketID: 1, OptionID: 1, Shares: 10, Invested: amt("5"), CurrentPrice: amt("0.6")},
		},
		Markets: map[uint64]model.Market{1: twoWay(1, "0.6", now.Add(-time.Hour))},
		Now:     now,
	}
	s := Aggregate(in)
	if s.Positions[0].Status != StatusExpired {
		t.Fatalf("status = %s", s.Positions[0].Status)
	}
	// Awaiting resolution: still marked at the quoted price.
	if !s.UnrealizedPnL.Equal(amt("1")) || !s.RealizedPnL.IsZero() {
		t.Errorf("unrealized=%s realized=%s", s.UnrealizedPnL.Display(), s.RealizedPnL.Display())
	}
	if s.ActivePositions != 1 {
		t.Errorf("active = %d", s.ActivePositions)
	}
}

func TestAggregate_AllocationPercent(t *testing.T) {
	s := Aggregate(fixture())
	want := []string{"56.69", "0.00", "43.31", "0.00"}
	for i, w := range want {
		if got := s.Positions[i].AllocationPercent().StringFixed(PercentScale); got != w {
			t.Errorf("[%d] allocation %% = %s, want %s", i, got, w)
		}
	}
}

func TestAggregate_Categories(t *testing.T) {
	in := fixture()
	for id, c := range map[uint64]model.Category{
		1: model.CategoryPolitics,
		2: model.CategorySports,
		3: model.CategoryPolitics,
		4: model.CategorySports,
	} {
		m := in.Markets[id]
		m.Category = c
		in.Markets[id] = m
	}
	// Trades in markets we cannot see are left out of every category.
	in.Trades = append(in.Trades, trade("t9", 9, 1, model.SideBuy, 5, "0.5", 24))

	s := Aggregate(in)
	if len(s.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %+v", s.Categories)
	}

	politics, sports := s.Categories[0], s.Categories[1]
	if politics.Category != model.CategoryPolitics || sports.Category != model.CategorySports {
		t.Fatalf("order = %s, %s", politics.Category, sports.Category)
	}
	if politics.TradeCount != 3 || !politics.TradedVolume.Equal(amt("57")) {
		t.Errorf("politics trades=%d volume=%s", politics.TradeCount, politics.TradedVolume.Display())
	}
	if politics.OpenPositions != 2 || !politics.PnL.Equal(amt("6.8")) || !politics.WinRate.IsZero() {
		t.Errorf("politics = %+v", politics)
	}
	if sports.TradeCount != 2 || !sports.TradedVolume.Equal(amt("54")) {
		t.Errorf("sports trades=%d volume=%s", sports.TradeCount, sports.TradedVolume.Display())
	}
	if sports.WonPositions != 1 || sports.LostPositions != 1 || sports.WinRate.String() != "50" {
		t.Errorf("sports = %+v", sports)
	}
	if !sports.PnL.Equal(amt("46")) {
		t.Errorf("sports pnl = %s, want 46", sports.PnL.Display())
	}

	// Totals still count the unseen market's trade.
	if s.TradeCount != 6 {
		t.Errorf("trade count = %d", s.TradeCount)
	}
}

func TestAggregate_CategoriesEmpty(t *testing.T) {
	s := Aggregate(Input{Now: now})
	if s.Categories == nil || len(s.Categories) != 0 {
		t.Errorf("categories = %#v, want empty non-nil", s.Categories)
	}
}
