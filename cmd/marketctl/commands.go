package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/listing"
	"github.com/policast/market-engine/internal/model"
	"github.com/policast/market-engine/internal/portfolio"
	"github.com/policast/market-engine/internal/pricing"
	"github.com/policast/market-engine/internal/quote"
	"github.com/policast/market-engine/internal/status"
	"github.com/policast/market-engine/internal/store"
)

func runMarkets(ctx context.Context, out io.Writer, e *env, args []string) error {
	fs := flag.NewFlagSet("markets", flag.ContinueOnError)
	search := fs.String("search", "", "substring of question or description")
	category := fs.String("category", listing.All, "category or \"all\"")
	marketType := fs.String("type", listing.All, "PAID, FREE_ENTRY or \"all\"")
	sortOrder := fs.String("sort", "newest", "newest | ending-soon | volume | participants")
	byCategory := fs.Bool("categories", false, "also print volume by category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	criteria, err := listing.ParseCriteria(*search, *category, *marketType, *sortOrder)
	if err != nil {
		return err
	}
	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		return err
	}

	now := e.snap.Now()
	matched := listing.Filter(markets, criteria)

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Question", "Category", "Type", "Status", "Time", "Leader", "Volume", "Traders")
	for _, m := range matched {
		res := status.Resolve(m, now)
		table.Append(
			fmt.Sprintf("%d", m.ID),
			truncate(m.Question, 48),
			m.Category.String(),
			m.Type.String(),
			res.Status.String(),
			res.Label(),
			leader(m),
			"$"+m.TotalVolume.Format(2),
			fmt.Sprintf("%d", m.ParticipantCount),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	stats := listing.Summarize(markets, now)
	fmt.Fprintf(out, "  %d of %d markets | active %d | volume $%s | traders %d\n",
		len(matched), len(markets), stats.ActiveMarkets, stats.TotalVolume.Format(2), stats.TotalParticipants)

	if !*byCategory {
		return nil
	}
	cats := tablewriter.NewWriter(out)
	cats.Header("Category", "Markets", "Volume", "Share %", "Traders")
	for _, c := range listing.ByCategory(markets) {
		cats.Append(
			c.Category.String(),
			fmt.Sprintf("%d", c.Markets),
			"$"+c.Volume.Format(2),
			c.Share.StringFixed(listing.SharePlaces),
			fmt.Sprintf("%d", c.Participants),
		)
	}
	return cats.Render()
}

func runQuote(ctx context.Context, out io.Writer, e *env, args []string) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	address := fs.String("address", "", "trader address (balance and holdings)")
	marketID := fs.Uint64("market", 0, "market id")
	optionID := fs.Uint64("option", 0, "option id")
	sideFlag := fs.String("side", "buy", "buy | sell")
	qty := fs.Int64("qty", 0, "whole shares")
	limitFlag := fs.String("limit", "", "worst acceptable price in dollars, e.g. 0.75")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := model.ParseSide(*sideFlag)
	if err != nil {
		return err
	}
	market, err := e.store.GetMarket(ctx, *marketID)
	if err != nil {
		return err
	}

	req := quote.Request{
		Market:   *market,
		OptionID: *optionID,
		Side:     side,
		Quantity: *qty,
		Now:      e.snap.Now(),
	}
	if *limitFlag != "" {
		limit, err := fixedpoint.ParseDecimal(*limitFlag)
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		req.LimitPrice = &limit
	}
	if *address != "" {
		acct, err := e.store.GetAccount(ctx, *address)
		switch {
		case err == nil:
			req.Balance = acct.Balance
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		positions, err := e.store.GetUserPositions(ctx, *address)
		if err != nil {
			return err
		}
		req.HeldShares = store.HeldShares(positions, *marketID, *optionID)
	}

	q := quote.Calculate(req)

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Market", truncate(market.Question, 48))
	if opt, ok := market.Option(*optionID); ok {
		table.Append("Option", fmt.Sprintf("%s (%s%%)", opt.Name, pricing.ProbabilityPercent(opt).StringFixed(1)))
	}
	table.Append("Side", q.Side.String())
	table.Append("Quantity", fmt.Sprintf("%d", q.Quantity))
	table.Append("Unit price", "$"+q.UnitPrice.Display())
	table.Append("Total cost", "$"+q.TotalCost.Display())
	table.Append("Potential return", "$"+q.PotentialReturn.Display())
	table.Append("Max return", "$"+q.MaxReturn.Display())
	table.Append("Return %", q.ReturnPercent.StringFixed(quote.PercentScale)+"%")
	table.Append("Balance", "$"+req.Balance.Display())
	table.Append("Held shares", fmt.Sprintf("%d", req.HeldShares))
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(out, "  %s\n", q.Summary())
	if q.Err != nil {
		fmt.Fprintf(out, "  rejected (%s): %v\n", q.Reason, q.Err)
	}
	return nil
}

func runPortfolio(ctx context.Context, out io.Writer, e *env, args []string) error {
	fs := flag.NewFlagSet("portfolio", flag.ContinueOnError)
	address := fs.String("address", "", "trader address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *address == "" {
		return errors.New("portfolio: -address is required")
	}

	positions, err := e.store.GetUserPositions(ctx, *address)
	if err != nil {
		return err
	}
	trades, err := e.store.GetTradesByUser(ctx, *address)
	if err != nil {
		return err
	}
	markets := make(map[uint64]model.Market, len(e.snap.Markets))
	for _, m := range e.snap.Markets {
		markets[m.ID] = m
	}

	s := portfolio.Aggregate(portfolio.Input{
		Positions: positions,
		Trades:    trades,
		Markets:   markets,
		Now:       e.snap.Now(),
	})

	table := tablewriter.NewWriter(out)
	table.Header("Market", "Option", "Status", "Shares", "Avg", "Price", "Value", "P&L", "P&L %", "Alloc %")
	for _, p := range s.Positions {
		optName := fmt.Sprintf("#%d", p.OptionID)
		question := fmt.Sprintf("#%d", p.MarketID)
		if m, ok := markets[p.MarketID]; ok {
			question = truncate(m.Question, 36)
			if o, ok := m.Option(p.OptionID); ok {
				optName = o.Name
			}
		}
		table.Append(
			question,
			optName,
			p.Status.String(),
			fmt.Sprintf("%d", p.Shares),
			"$"+p.AvgPrice.Display(),
			"$"+p.CurrentPrice.Display(),
			"$"+p.CurrentValue.Format(2),
			signed(p.PnL),
			p.PnLPercent.StringFixed(2),
			p.AllocationPercent().StringFixed(portfolio.PercentScale),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(out, "  value $%s | invested $%s | unrealized %s | realized %s | total %s\n",
		s.TotalValue.Format(2), s.TotalInvested.Format(2),
		signed(s.UnrealizedPnL), signed(s.RealizedPnL), signed(s.TotalPnL))
	fmt.Fprintf(out, "  win rate %s%% | avg return %s%% | trades %d | volume $%s\n",
		s.WinRate.StringFixed(2), s.AvgReturn.StringFixed(2), s.TradeCount, s.TradedVolume.Format(2))
	if s.UnmatchedSellQty > 0 {
		fmt.Fprintf(out, "  warning: %d sold shares have no matching buy in the ledger\n", s.UnmatchedSellQty)
	}

	if len(s.Categories) == 0 {
		return nil
	}
	cats := tablewriter.NewWriter(out)
	cats.Header("Category", "Trades", "Volume", "Open", "Won", "Lost", "Win %", "P&L")
	for _, c := range s.Categories {
		cats.Append(
			c.Category.String(),
			fmt.Sprintf("%d", c.TradeCount),
			"$"+c.TradedVolume.Format(2),
			fmt.Sprintf("%d", c.OpenPositions),
			fmt.Sprintf("%d", c.WonPositions),
			fmt.Sprintf("%d", c.LostPositions),
			c.WinRate.StringFixed(portfolio.PercentScale),
			signed(c.PnL),
		)
	}
	return cats.Render()
}

// leader is the highest-priced option with its implied probability.
func leader(m model.Market) string {
	var best *model.Option
	for i := range m.Options {
		if best == nil || m.Options[i].CurrentPrice.GreaterThan(best.CurrentPrice) {
			best = &m.Options[i]
		}
	}
	if best == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s%%", best.Name, pricing.ProbabilityPercent(*best).StringFixed(1))
}

func signed(a fixedpoint.Amount) string {
	if a.IsNegative() {
		return "-$" + a.Abs().Format(2)
	}
	return "+$" + a.Format(2)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
