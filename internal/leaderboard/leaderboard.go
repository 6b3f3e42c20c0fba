// Package leaderboard ranks traders by cumulative notional traded per day.
// The production implementation is a Redis sorted set per calendar date;
// an in-memory implementation backs tests and development.
package leaderboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// Ranking is the per-day trading volume ranking. Increments are not
// idempotent: a replayed settlement double-counts.
type Ranking interface {
	// IncrementVolume adds volume to the trader's cumulative score for the
	// day and returns the new total.
	IncrementVolume(ctx context.Context, traderID string, volume decimal.Decimal, day time.Time) (decimal.Decimal, error)

	// TopTraders returns at most limit entries in descending score order.
	// Ordering among exact score ties is the backing store's native order.
	TopTraders(ctx context.Context, limit int64, day time.Time) ([]model.TopTrader, error)
}

// Key returns the ranking key for one calendar date, e.g. "trader:2025-03-01".
func Key(day time.Time) string {
	return "trader:" + day.Format("2006-01-02")
}
