// Package trade provides the HTTP handlers for browsing markets, quoting
// and submitting orders, and querying portfolios.
//
// All monetary values are fixedpoint.Amount base units, never float64.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/policast/market-engine/internal/creation"
	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/listing"
	"github.com/policast/market-engine/internal/metrics"
	"github.com/policast/market-engine/internal/model"
	"github.com/policast/market-engine/internal/portfolio"
	"github.com/policast/market-engine/internal/pricing"
	"github.com/policast/market-engine/internal/quote"
	"github.com/policast/market-engine/internal/status"
	"github.com/policast/market-engine/internal/store"
)

// highlightCount is how many markets the stats endpoint lists per section.
const highlightCount = 5

// Service handles market operations. Order submission is serialized with a
// mutex (single-instance) and always re-reads the snapshot it validates
// against.
type Service struct {
	store   store.Store
	limiter *rate.Limiter // nil disables throttling
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
	now     func() time.Time
}

// NewService creates a new trade service.
// Pass nil for limiter or hub to disable throttling or broadcasting.
func NewService(st store.Store, limiter *rate.Limiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		limiter: limiter,
		wsHub:   hub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// --- Request/Response types ---

// QuoteRequest is the JSON body for POST /quote and POST /orders.
type QuoteRequest struct {
	Address    string             `json:"address"`
	MarketID   uint64             `json:"market_id"`
	OptionID   uint64             `json:"option_id"`
	Side       model.Side         `json:"side"`
	Quantity   int64              `json:"quantity"`
	LimitPrice *fixedpoint.Amount `json:"limit_price,omitempty"`
}

// QuoteResponse is the JSON body returned from POST /quote.
type QuoteResponse struct {
	quote.Quote
	Summary string            `json:"summary"`
	Balance fixedpoint.Amount `json:"balance"`
	Held    int64             `json:"held_shares"`
}

// OrderResponse is the JSON body returned from an accepted POST /orders.
type OrderResponse struct {
	TradeID string            `json:"trade_id"`
	Quote   quote.Quote       `json:"quote"`
	Balance fixedpoint.Amount `json:"balance"`
}

// MarketView is a market with its derived status and option display rows.
type MarketView struct {
	model.Market
	Resolution   status.Resolution    `json:"resolution"`
	TimeLabel    string               `json:"time_label"`
	OptionViews  []pricing.OptionView `json:"option_views"`
	ImpliedTotal fixedpoint.Amount    `json:"implied_total"`
}

// StatsResponse is the JSON body returned from GET /markets/stats.
type StatsResponse struct {
	listing.Stats
	FreeEntryMarkets int                     `json:"free_entry_markets"`
	Categories       []listing.CategoryStats `json:"categories"`
	Trending         []MarketView            `json:"trending"`
	EndingSoon       []MarketView            `json:"ending_soon"`
}

// ValidationResponse is the JSON body returned from POST /markets/validate.
type ValidationResponse struct {
	Valid       bool              `json:"valid"`
	Errors      []string          `json:"errors,omitempty"`
	Options     []string          `json:"options,omitempty"`
	TotalTokens int64             `json:"total_tokens,omitempty"`
	TotalCost   fixedpoint.Amount `json:"total_cost"`
}

// PortfolioResponse is the JSON body returned from GET /portfolio/{address}.
type PortfolioResponse struct {
	Address string            `json:"address"`
	Balance fixedpoint.Amount `json:"balance"`
	portfolio.Summary
}

// --- HTTP Handlers: markets ---

// ListMarkets handles GET /api/v1/markets
// Query: search, category, type, sort.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := listing.ParseCriteria(q.Get("search"), q.Get("category"), q.Get("type"), q.Get("sort"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	now := s.now()
	metrics.ActiveMarkets.Set(float64(listing.Summarize(markets, now).ActiveMarkets))

	writeJSON(w, http.StatusOK, s.views(listing.Filter(markets, criteria), now))
}

// MarketStats handles GET /api/v1/markets/stats
func (s *Service) MarketStats(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	now := s.now()
	stats := listing.Summarize(markets, now)
	metrics.ActiveMarkets.Set(float64(stats.ActiveMarkets))

	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:            stats,
		FreeEntryMarkets: len(listing.FreeEntry(markets)),
		Categories:       listing.ByCategory(markets),
		Trending:         s.views(listing.Trending(markets, highlightCount), now),
		EndingSoon:       s.views(listing.EndingSoon(markets, highlightCount), now),
	})
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	market, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "market not found")
		return
	}

	writeJSON(w, http.StatusOK, newMarketView(*market, s.now()))
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/trades
// Returns ledger entries for the market in time order.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	entries, err := s.store.GetTradesByMarket(r.Context(), id)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.TradeRecord{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// ValidateMarket handles POST /api/v1/markets/validate
// Checks a creation draft and reports every problem at once.
func (s *Service) ValidateMarket(w http.ResponseWriter, r *http.Request) {
	var draft creation.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := draft.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationResponse{
			Valid:  false,
			Errors: errorList(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, ValidationResponse{
		Valid:       true,
		Options:     draft.OptionNames(),
		TotalTokens: draft.TotalTokens(),
		TotalCost:   draft.TotalCost(),
	})
}

// --- HTTP Handlers: trading ---

// Quote handles POST /api/v1/quote
// An infeasible quote is still a 200; the reason is in the body.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.snapshot(r.Context(), req)
	if err != nil {
		writeStoreError(w, err, "market not found")
		return
	}

	q := quote.Calculate(snap)
	metrics.QuotesTotal.WithLabelValues(req.Side.String(), outcome(q)).Inc()

	writeJSON(w, http.StatusOK, QuoteResponse{
		Quote:   q,
		Summary: q.Summary(),
		Balance: snap.Balance,
		Held:    snap.HeldShares,
	})
}

// SubmitOrder handles POST /api/v1/orders
// Re-reads the market, balance and holdings, validates, then appends the
// trade to the ledger. Rejections are 422 with the reason code.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, "too many orders, retry shortly", http.StatusTooManyRequests)
		return
	}

	start := time.Now()
	ctx := r.Context()

	// Serialize order submission.
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.snapshot(ctx, req)
	if err != nil {
		writeStoreError(w, err, "market not found")
		return
	}

	q := quote.Calculate(snap)
	metrics.QuotesTotal.WithLabelValues(req.Side.String(), outcome(q)).Inc()
	if !q.Feasible {
		metrics.OrderRejections.WithLabelValues(q.Reason.String()).Inc()
		slog.Info("order rejected",
			"address", req.Address,
			"market", req.MarketID,
			"option", req.OptionID,
			"reason", q.Reason.String(),
			"err", q.Err,
		)
		writeRejection(w, q.Err, q.Reason)
		return
	}

	record := &model.TradeRecord{
		ID:        uuid.New().String(),
		Address:   req.Address,
		MarketID:  req.MarketID,
		OptionID:  req.OptionID,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     q.UnitPrice,
		Total:     q.TotalCost,
		Timestamp: s.now(),
	}

	if err := s.store.ApplyTrade(ctx, record); err != nil {
		switch {
		case errors.Is(err, store.ErrNegativeBalance):
			metrics.OrderRejections.WithLabelValues(quote.ReasonInsufficientFunds.String()).Inc()
			writeRejection(w, err, quote.ReasonInsufficientFunds)
		case errors.Is(err, store.ErrInsufficientShares):
			metrics.OrderRejections.WithLabelValues(quote.ReasonInsufficientShares.String()).Inc()
			writeRejection(w, err, quote.ReasonInsufficientShares)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "account not found", http.StatusNotFound)
		default:
			slog.Error("apply trade failed", "trade_id", record.ID, "err", err)
			writeError(w, "failed to record trade", http.StatusInternalServerError)
		}
		return
	}

	balance := snap.Balance
	if acct, err := s.store.GetAccount(ctx, req.Address); err == nil {
		balance = acct.Balance
	}

	metrics.OrdersTotal.WithLabelValues(req.Side.String()).Inc()
	metrics.MarketVolume.WithLabelValues(strconv.FormatUint(req.MarketID, 10), req.Side.String()).Add(record.Total.Float64())
	metrics.OrderLatency.WithLabelValues(req.Side.String()).Observe(time.Since(start).Seconds())

	slog.Info("order submitted",
		"trade_id", record.ID,
		"address", req.Address,
		"market", req.MarketID,
		"option", req.OptionID,
		"side", req.Side.String(),
		"qty", req.Quantity,
		"price", q.UnitPrice.Display(),
		"total", q.TotalCost.Display(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_submitted",
			MarketID: record.MarketID,
			OptionID: record.OptionID,
			Address:  record.Address,
			Side:     record.Side,
			Quantity: record.Quantity,
			Price:    record.Price,
			Total:    record.Total,
		})
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		TradeID: record.ID,
		Quote:   q,
		Balance: balance,
	})
}

// --- HTTP Handlers: portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{address}
// Returns per-position breakdown, realized and unrealized P&L, and win rate.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	ctx := r.Context()

	positions, err := s.store.GetUserPositions(ctx, address)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	trades, err := s.store.GetTradesByUser(ctx, address)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	// Markets for every position and every traded market, so settled and
	// closed holdings still land in their category.
	ids := make([]uint64, 0, len(positions)+len(trades))
	for _, p := range positions {
		ids = append(ids, p.MarketID)
	}
	for _, t := range trades {
		ids = append(ids, t.MarketID)
	}
	markets := make(map[uint64]model.Market)
	for _, id := range ids {
		if _, ok := markets[id]; ok {
			continue
		}
		if m, err := s.store.GetMarket(ctx, id); err == nil {
			markets[id] = *m
		}
	}

	var balance fixedpoint.Amount
	if acct, err := s.store.GetAccount(ctx, address); err == nil {
		balance = acct.Balance
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	summary := portfolio.Aggregate(portfolio.Input{
		Positions: positions,
		Trades:    trades,
		Markets:   markets,
		Now:       s.now(),
	})

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Address: address,
		Balance: balance,
		Summary: summary,
	})
}

// --- helpers ---

// snapshot reads everything a quote depends on. A missing account quotes
// against a zero balance; a missing market is ErrNotFound.
func (s *Service) snapshot(ctx context.Context, req QuoteRequest) (quote.Request, error) {
	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return quote.Request{}, err
	}

	snap := quote.Request{
		Market:     *market,
		OptionID:   req.OptionID,
		Side:       req.Side,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Now:        s.now(),
	}
	if req.Address == "" {
		return snap, nil
	}

	acct, err := s.store.GetAccount(ctx, req.Address)
	switch {
	case err == nil:
		snap.Balance = acct.Balance
	case !errors.Is(err, store.ErrNotFound):
		return quote.Request{}, err
	}

	positions, err := s.store.GetUserPositions(ctx, req.Address)
	if err != nil {
		return quote.Request{}, err
	}
	snap.HeldShares = store.HeldShares(positions, req.MarketID, req.OptionID)
	return snap, nil
}

func (s *Service) views(markets []model.Market, now time.Time) []MarketView {
	out := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, newMarketView(m, now))
	}
	return out
}

func newMarketView(m model.Market, now time.Time) MarketView {
	res := status.Resolve(m, now)
	return MarketView{
		Market:       m,
		Resolution:   res,
		TimeLabel:    res.Label(),
		OptionViews:  pricing.View(m),
		ImpliedTotal: pricing.ImpliedTotal(m),
	}
}

func outcome(q quote.Quote) string {
	if q.Feasible {
		return "feasible"
	}
	return q.Reason.String()
}

func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// errorList flattens an errors.Join result into messages.
func errorList(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeRejection writes a 422 carrying the machine-readable reason.
func writeRejection(w http.ResponseWriter, err error, reason quote.Reason) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error":  err.Error(),
		"reason": reason.String(),
	})
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, notFound, http.StatusNotFound)
		return
	}
	slog.Error("store read failed", "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}
