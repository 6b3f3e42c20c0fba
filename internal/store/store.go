// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development).
//
// The wallet and portfolio mutations of a single settlement must commit or
// roll back together; Atomic provides that scope. Two concurrent writers
// against the same wallet are serialized by the conditional find-and-update
// in WithdrawBalance — the store never does a separate read-then-write.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// Typed errors surfaced across the settlement boundary. Store-level
// failures are always translated to one of these; raw driver errors never
// leak upward.
var (
	// ErrInsufficientFunds is returned by WithdrawBalance when no wallet
	// satisfies balance >= amount. A missing wallet and a short balance are
	// indistinguishable at this layer and report as one error kind.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrWalletNotFound is returned by deposits and lookups for an unknown
	// trader.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrInsufficientShares is returned by ApplySell when the position holds
	// fewer shares than requested.
	ErrInsufficientShares = errors.New("store: insufficient shares")

	// ErrPortfolioNotFound is returned by Portfolio when a trader has zero
	// positions. An empty portfolio and an unknown trader report the same way.
	ErrPortfolioNotFound = errors.New("store: portfolio not found")

	// ErrQuoteNotFound is returned by GetQuote for a symbol with no snapshot.
	ErrQuoteNotFound = errors.New("store: quote not found")

	// ErrWalletExists is returned by CreateWallet for an already provisioned
	// trader.
	ErrWalletExists = errors.New("store: wallet already exists")

	// ErrConflict is returned when concurrent transactions collide on the
	// same records. The engine does not retry; that is the caller's choice.
	ErrConflict = errors.New("store: write conflict")

	// ErrUnavailable is returned for transient store or network failures,
	// including timeouts during the transactional phase.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the persistence interface for wallets, positions, the immutable
// trade log, and quote snapshots.
type Store interface {
	// --- Wallet ledger ---

	// CreateWallet provisions a wallet with an initial non-negative balance.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// WithdrawBalance atomically finds the wallet where balance >= amount,
	// decrements it, and returns the post-update wallet. The find and the
	// update are one primitive; there is no separate read.
	WithdrawBalance(ctx context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error)

	// DepositBalance atomically increments the balance and returns the
	// post-update wallet. No balance floor check is needed on a credit.
	DepositBalance(ctx context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error)

	// GetWallet returns the wallet snapshot for a trader.
	GetWallet(ctx context.Context, traderID string) (*model.Wallet, error)

	// --- Portfolio ledger ---

	// FindPosition returns the position for (trader, symbol), or nil with a
	// nil error when none exists. Absence is not an error here.
	FindPosition(ctx context.Context, traderID, symbol string) (*model.Position, error)

	// UpsertOnBuy folds a purchase into the position. An existing position
	// gets quantity += qty and a weighted average price rounded half-even to
	// 4 places; a first purchase creates the position at the trade price.
	UpsertOnBuy(ctx context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error)

	// ApplySell reduces the position by qty, keeping the average price
	// unchanged. Reaching exactly zero deletes the record and returns
	// nil, nil. A short position returns ErrInsufficientShares.
	ApplySell(ctx context.Context, traderID, symbol string, qty decimal.Decimal) (*model.Position, error)

	// Portfolio returns all positions for a trader, ErrPortfolioNotFound
	// when there are none.
	Portfolio(ctx context.Context, traderID string) ([]model.Position, error)

	// --- Immutable trade log ---

	// InsertTrade appends a settled trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// TradesByTrader returns all settled trades for a trader, oldest first.
	TradesByTrader(ctx context.Context, traderID string) ([]model.Trade, error)

	// --- Quote snapshots ---

	// SaveQuote upserts the latest price snapshot for a symbol.
	SaveQuote(ctx context.Context, q *model.Quote) error

	// GetQuote returns the latest snapshot for a symbol.
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)

	// --- Transaction scope ---

	// Atomic runs fn against a transactional view of the store. Every
	// mutation fn makes commits iff fn returns nil; any error rolls the
	// whole scope back. Conflicting concurrent transactions fail with
	// ErrConflict; transient failures with ErrUnavailable.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
