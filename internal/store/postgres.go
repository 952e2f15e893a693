package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/policast/market-engine/internal/fixedpoint"
	"github.com/policast/market-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. Amounts are stored as
// NUMERIC base units for exact precision.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                BIGINT PRIMARY KEY,
	question          TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	category          SMALLINT NOT NULL,
	market_type       SMALLINT NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	resolved          BOOLEAN NOT NULL DEFAULT FALSE,
	disputed          BOOLEAN NOT NULL DEFAULT FALSE,
	validated         BOOLEAN NOT NULL DEFAULT FALSE,
	winning_option_id BIGINT,
	total_volume      NUMERIC(78, 0) NOT NULL DEFAULT 0,
	participant_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS market_options (
	market_id     BIGINT NOT NULL REFERENCES markets(id) ON DELETE CASCADE,
	option_id     BIGINT NOT NULL,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	current_price NUMERIC(78, 0) NOT NULL,
	total_shares  BIGINT NOT NULL DEFAULT 0,
	total_volume  NUMERIC(78, 0) NOT NULL DEFAULT 0,
	PRIMARY KEY (market_id, option_id)
);

CREATE TABLE IF NOT EXISTS accounts (
	address TEXT PRIMARY KEY,
	balance NUMERIC(78, 0) NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_records (
	seq       BIGSERIAL,
	id        TEXT PRIMARY KEY,
	address   TEXT NOT NULL,
	market_id BIGINT NOT NULL,
	option_id BIGINT NOT NULL,
	side      TEXT NOT NULL,
	quantity  BIGINT NOT NULL,
	price     NUMERIC(78, 0) NOT NULL,
	total     NUMERIC(78, 0) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);

ALTER TABLE trade_records ADD COLUMN IF NOT EXISTS seq BIGSERIAL;

CREATE INDEX IF NOT EXISTS trade_records_address_seq_idx ON trade_records (address, timestamp, seq);
CREATE INDEX IF NOT EXISTS trade_records_market_seq_idx ON trade_records (market_id, timestamp, seq);
`

// Ledger order. seq breaks timestamp ties in insertion order so a buy and
// a sell recorded in the same instant replay correctly.
const ledgerOrder = ` ORDER BY timestamp, seq`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	var winning *int64
	if m.WinningOptionID != nil {
		w := int64(*m.WinningOptionID)
		winning = &w
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO markets (id, question, description, category, market_type, end_time, created_at,
			                      resolved, disputed, validated, winning_option_id, total_volume, participant_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::NUMERIC, $13)
			 ON CONFLICT (id) DO UPDATE SET
			   question = EXCLUDED.question, description = EXCLUDED.description,
			   category = EXCLUDED.category, market_type = EXCLUDED.market_type,
			   end_time = EXCLUDED.end_time, resolved = EXCLUDED.resolved,
			   disputed = EXCLUDED.disputed, validated = EXCLUDED.validated,
			   winning_option_id = EXCLUDED.winning_option_id,
			   total_volume = EXCLUDED.total_volume, participant_count = EXCLUDED.participant_count`,
			int64(m.ID), m.Question, m.Description, int16(m.Category), int16(m.Type),
			m.EndTime, m.CreatedAt, m.Resolved, m.Disputed, m.Validated, winning,
			m.TotalVolume.String(), m.ParticipantCount,
		)
		if err != nil {
			return fmt.Errorf("upsert market %d: %w", m.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM market_options WHERE market_id = $1`, int64(m.ID)); err != nil {
			return err
		}
		for _, o := range m.Options {
			_, err := tx.Exec(ctx,
				`INSERT INTO market_options (market_id, option_id, name, description, current_price, total_shares, total_volume)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC)`,
				int64(m.ID), int64(o.ID), o.Name, o.Description,
				o.CurrentPrice.String(), o.TotalShares, o.TotalVolume.String(),
			)
			if err != nil {
				return fmt.Errorf("insert option %d/%d: %w", m.ID, o.ID, err)
			}
		}
		return nil
	})
}

const marketColumns = `id, question, description, category, market_type, end_time, created_at,
	resolved, disputed, validated, winning_option_id, total_volume::TEXT, participant_count`

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}

	options, err := s.loadOptions(ctx, `WHERE market_id = $1`, int64(id))
	if err != nil {
		return nil, err
	}
	m.Options = options[m.ID]
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	options, err := s.loadOptions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range markets {
		markets[i].Options = options[markets[i].ID]
	}
	return markets, nil
}

func (s *PostgresStore) loadOptions(ctx context.Context, where string, args ...any) (map[uint64][]model.Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, option_id, name, description, current_price::TEXT, total_shares, total_volume::TEXT
		 FROM market_options `+where+` ORDER BY market_id, option_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint64][]model.Option)
	for rows.Next() {
		var marketID, optionID int64
		var o model.Option
		var priceS, volumeS string
		if err := rows.Scan(&marketID, &optionID, &o.Name, &o.Description, &priceS, &o.TotalShares, &volumeS); err != nil {
			return nil, err
		}
		o.ID = uint64(optionID)
		if o.CurrentPrice, err = fixedpoint.NewFromStringUnits(priceS); err != nil {
			return nil, err
		}
		if o.TotalVolume, err = fixedpoint.NewFromStringUnits(volumeS); err != nil {
			return nil, err
		}
		out[uint64(marketID)] = append(out[uint64(marketID)], o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (address, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance`,
		a.Address, a.Balance.String(),
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var balanceS string
	err := s.pool.QueryRow(ctx, `SELECT balance::TEXT FROM accounts WHERE address = $1`, address).Scan(&balanceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	balance, err := fixedpoint.NewFromStringUnits(balanceS)
	if err != nil {
		return nil, err
	}
	return &model.Account{Address: address, Balance: balance}, nil
}

// ApplyTrade locks the account row, settles the balance and appends the
// record in one transaction. The row lock also serializes sells against
// the holding rebuilt from the ledger.
func (s *PostgresStore) ApplyTrade(ctx context.Context, t *model.TradeRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var balanceS string
		err := tx.QueryRow(ctx,
			`SELECT balance::TEXT FROM accounts WHERE address = $1 FOR UPDATE`, t.Address).Scan(&balanceS)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", t.Address, ErrNotFound)
		}
		if err != nil {
			return err
		}
		balance, err := fixedpoint.NewFromStringUnits(balanceS)
		if err != nil {
			return err
		}
		if t.Side == model.SideSell {
			held, err := heldInTx(ctx, tx, t.Address, t.MarketID, t.OptionID)
			if err != nil {
				return err
			}
			if err := checkSell(t, held); err != nil {
				return err
			}
		}
		next := balance.Add(balanceDelta(t))
		if next.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeBalance, t.Address)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = $2::NUMERIC WHERE address = $1`,
			t.Address, next.String()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO trade_records (id, address, market_id, option_id, side, quantity, price, total, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
			t.ID, t.Address, int64(t.MarketID), int64(t.OptionID), t.Side.String(),
			t.Quantity, t.Price.String(), t.Total.String(), t.Timestamp,
		)
		return err
	})
}

// heldInTx rebuilds one holding from the ledger inside tx.
func heldInTx(ctx context.Context, tx pgx.Tx, address string, marketID, optionID uint64) (int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records
		 WHERE address = $1 AND market_id = $2 AND option_id = $3`+ledgerOrder,
		address, int64(marketID), int64(optionID))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	trades, err := scanTradeRecords(rows)
	if err != nil {
		return 0, err
	}
	return holding(trades, address, marketID, optionID), nil
}

const tradeColumns = `id, address, market_id, option_id, side, quantity, price::TEXT, total::TEXT, timestamp`

func (s *PostgresStore) GetTradesByUser(ctx context.Context, address string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE address = $1`+ledgerOrder, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID uint64) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE market_id = $1`+ledgerOrder, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetUserPositions replays the user's ledger and marks it at the stored
// option prices.
func (s *PostgresStore) GetUserPositions(ctx context.Context, address string) ([]model.Position, error) {
	trades, err := s.GetTradesByUser(ctx, address)
	if err != nil {
		return nil, err
	}

	markets := make(map[uint64]model.Market)
	for _, t := range trades {
		if _, ok := markets[t.MarketID]; ok {
			continue
		}
		m, err := s.GetMarket(ctx, t.MarketID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		markets[t.MarketID] = *m
	}

	lookup := func(id uint64) (model.Market, bool) {
		m, ok := markets[id]
		return m, ok
	}
	return BuildPositions(address, trades, lookup), nil
}

// pgxRow is the subset of pgx.Row and pgx.Rows used by the scanners.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	pgxRow
	Next() bool
	Err() error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var id int64
	var category, marketType int16
	var winning *int64
	var volumeS string

	if err := row.Scan(&id, &m.Question, &m.Description, &category, &marketType,
		&m.EndTime, &m.CreatedAt, &m.Resolved, &m.Disputed, &m.Validated,
		&winning, &volumeS, &m.ParticipantCount); err != nil {
		return nil, err
	}

	m.ID = uint64(id)
	m.Category = model.Category(category)
	m.Type = model.MarketType(marketType)
	if winning != nil {
		w := uint64(*winning)
		m.WinningOptionID = &w
	}
	volume, err := fixedpoint.NewFromStringUnits(volumeS)
	if err != nil {
		return nil, err
	}
	m.TotalVolume = volume
	return &m, nil
}

func scanTradeRecords(rows pgxRows) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var marketID, optionID int64
		var sideS, priceS, totalS string

		if err := rows.Scan(&t.ID, &t.Address, &marketID, &optionID, &sideS,
			&t.Quantity, &priceS, &totalS, &t.Timestamp); err != nil {
			return nil, err
		}

		t.MarketID = uint64(marketID)
		t.OptionID = uint64(optionID)
		side, err := model.ParseSide(sideS)
		if err != nil {
			return nil, err
		}
		t.Side = side
		if t.Price, err = fixedpoint.NewFromStringUnits(priceS); err != nil {
			return nil, err
		}
		if t.Total, err = fixedpoint.NewFromStringUnits(totalS); err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
