package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx,
// so the same statement methods serve pooled and transactional calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction scope
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Atomic runs fn against a single database transaction at repeatable-read
// isolation. Concurrent transactions touching the same rows fail with
// ErrConflict instead of silently interleaving.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		// Already transaction-scoped; nested scopes join the outer one.
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// --- Wallet ledger ---

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if w.Balance.IsNegative() {
		return fmt.Errorf("create wallet %s: balance must be non-negative", w.TraderID)
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO wallets (trader_id, balance, version)
		 VALUES ($1, $2::NUMERIC, $3)`,
		w.TraderID, w.Balance.String(), w.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create wallet %s: %w", w.TraderID, ErrWalletExists)
		}
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) WithdrawBalance(ctx context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	// Single conditional find-and-update. No matching row covers both an
	// unknown trader and a short balance; the two report as one error kind.
	var w model.Wallet
	var balance string

	err := s.q.QueryRow(ctx,
		`UPDATE wallets
		 SET balance = balance - $2::NUMERIC, version = version + 1
		 WHERE trader_id = $1 AND balance >= $2::NUMERIC
		 RETURNING trader_id, balance::TEXT, version`,
		traderID, amount.String()).
		Scan(&w.TraderID, &balance, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("withdraw %s from %s: %w", amount, traderID, ErrInsufficientFunds)
		}
		return nil, mapPgError(err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) DepositBalance(ctx context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.q.QueryRow(ctx,
		`UPDATE wallets
		 SET balance = balance + $2::NUMERIC, version = version + 1
		 WHERE trader_id = $1
		 RETURNING trader_id, balance::TEXT, version`,
		traderID, amount.String()).
		Scan(&w.TraderID, &balance, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("deposit to %s: %w", traderID, ErrWalletNotFound)
		}
		return nil, mapPgError(err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, traderID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.q.QueryRow(ctx,
		`SELECT trader_id, balance::TEXT, version FROM wallets WHERE trader_id = $1`,
		traderID).
		Scan(&w.TraderID, &balance, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", traderID, ErrWalletNotFound)
		}
		return nil, mapPgError(err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

// --- Portfolio ledger ---

func (s *PostgresStore) FindPosition(ctx context.Context, traderID, symbol string) (*model.Position, error) {
	p, err := s.lockPosition(ctx, traderID, symbol, false)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// lockPosition reads one position, optionally taking a row lock so the
// subsequent update inside the same transaction cannot race.
func (s *PostgresStore) lockPosition(ctx context.Context, traderID, symbol string, forUpdate bool) (*model.Position, error) {
	q := `SELECT trader_id, symbol, quantity::TEXT, average_price::TEXT
	      FROM positions WHERE trader_id = $1 AND symbol = $2`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var p model.Position
	var qty, avg string

	err := s.q.QueryRow(ctx, q, traderID, symbol).
		Scan(&p.TraderID, &p.Symbol, &qty, &avg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapPgError(err)
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AveragePrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) UpsertOnBuy(ctx context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	existing, err := s.lockPosition(ctx, traderID, symbol, true)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		p := &model.Position{
			TraderID:     traderID,
			Symbol:       symbol,
			Quantity:     qty,
			AveragePrice: price,
		}
		_, err := s.q.Exec(ctx,
			`INSERT INTO positions (trader_id, symbol, quantity, average_price)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)`,
			traderID, symbol, qty.String(), price.String())
		if err != nil {
			return nil, mapPgError(err)
		}
		return p, nil
	}

	newQty, newAvg := AverageOnBuy(existing.Quantity, existing.AveragePrice, qty, price)
	_, err = s.q.Exec(ctx,
		`UPDATE positions SET quantity = $3::NUMERIC, average_price = $4::NUMERIC
		 WHERE trader_id = $1 AND symbol = $2`,
		traderID, symbol, newQty.String(), newAvg.String())
	if err != nil {
		return nil, mapPgError(err)
	}

	existing.Quantity = newQty
	existing.AveragePrice = newAvg
	return existing, nil
}

func (s *PostgresStore) ApplySell(ctx context.Context, traderID, symbol string, qty decimal.Decimal) (*model.Position, error) {
	// Conditional decrement mirroring the wallet withdrawal: the quantity
	// floor check and the update are one statement.
	var p model.Position
	var remaining, avg string

	err := s.q.QueryRow(ctx,
		`UPDATE positions
		 SET quantity = quantity - $3::NUMERIC
		 WHERE trader_id = $1 AND symbol = $2 AND quantity >= $3::NUMERIC
		 RETURNING trader_id, symbol, quantity::TEXT, average_price::TEXT`,
		traderID, symbol, qty.String()).
		Scan(&p.TraderID, &p.Symbol, &remaining, &avg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sell %s %s for %s: %w", qty, symbol, traderID, ErrInsufficientShares)
		}
		return nil, mapPgError(err)
	}

	p.Quantity, _ = decimal.NewFromString(remaining)
	p.AveragePrice, _ = decimal.NewFromString(avg)

	if p.Quantity.IsZero() {
		// No zero-quantity rows persist.
		if _, err := s.q.Exec(ctx,
			`DELETE FROM positions WHERE trader_id = $1 AND symbol = $2`,
			traderID, symbol); err != nil {
			return nil, mapPgError(err)
		}
		return nil, nil
	}
	return &p, nil
}

func (s *PostgresStore) Portfolio(ctx context.Context, traderID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT trader_id, symbol, quantity::TEXT, average_price::TEXT
		 FROM positions WHERE trader_id = $1 ORDER BY symbol`, traderID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avg string
		if err := rows.Scan(&p.TraderID, &p.Symbol, &qty, &avg); err != nil {
			return nil, mapPgError(err)
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AveragePrice, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("portfolio %s: %w", traderID, ErrPortfolioNotFound)
	}
	return positions, nil
}

// --- Immutable trade log ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, trader_id, symbol, side, quantity, price, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.TraderID, t.Symbol, string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Total.String(),
		t.ExecutedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) TradesByTrader(ctx context.Context, traderID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, trader_id, symbol, side,
		        quantity::TEXT, price::TEXT, total::TEXT, executed_at
		 FROM trades WHERE trader_id = $1 ORDER BY executed_at`, traderID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, qty, price, total string
		if err := rows.Scan(&t.ID, &t.TraderID, &t.Symbol, &side,
			&qty, &price, &total, &t.ExecutedAt); err != nil {
			return nil, mapPgError(err)
		}
		t.Side = model.TradeSide(side)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return trades, nil
}

// --- Quote snapshots ---

func (s *PostgresStore) SaveQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO quotes (symbol, price, quoted_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, quoted_at = EXCLUDED.quoted_at`,
		q.Symbol, q.Price.String(), q.Timestamp,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var q model.Quote
	var price string

	err := s.q.QueryRow(ctx,
		`SELECT symbol, price::TEXT, quoted_at FROM quotes WHERE symbol = $1`, symbol).
		Scan(&q.Symbol, &price, &q.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("quote %s: %w", symbol, ErrQuoteNotFound)
		}
		return nil, mapPgError(err)
	}

	q.Price, _ = decimal.NewFromString(price)
	return &q, nil
}

// mapPgError translates driver-level failures into the typed taxonomy.
// Serialization and deadlock failures become ErrConflict; everything else
// transient (timeouts, lost connections) becomes ErrUnavailable.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
