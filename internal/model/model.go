// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a trader's cash balance. The balance is never negative;
// version is a monotonic counter bumped on every mutation so concurrent
// writers are linearized by the store's conditional update.
type Wallet struct {
	TraderID string          `json:"trader_id" db:"trader_id"`
	Balance  decimal.Decimal `json:"balance" db:"balance"`
	Version  int64           `json:"version" db:"version"`
}

// Position is a trader's holding in one stock symbol: quantity plus the
// weighted average cost basis. A position with zero quantity never exists;
// selling a position down to exactly zero deletes the record.
type Position struct {
	TraderID     string          `json:"trader_id" db:"trader_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"` // half-even, 4 places
}

// TradeSide distinguishes buy from sell settlements.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Trade is an immutable record of one settled trade. Written in the same
// transaction as the wallet and portfolio mutations; never modified.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	TraderID   string          `json:"trader_id" db:"trader_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       TradeSide       `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Total      decimal.Decimal `json:"total" db:"total"` // quantity × price
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Quote is the latest known price snapshot for one symbol, fed by the
// market-data pipeline.
type Quote struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TopTrader is one leaderboard row: a trader and the cumulative notional
// traded within the ranking period.
type TopTrader struct {
	TraderID string          `json:"trader_id"`
	Volume   decimal.Decimal `json:"volume"`
}
