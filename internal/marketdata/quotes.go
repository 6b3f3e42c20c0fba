package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradefloor/settlement-engine/internal/model"
	"github.com/tradefloor/settlement-engine/internal/store"
)

// Quotes is the latest-price snapshot service: the store is the source of
// truth, Redis is a read-through cache in front of it. Pass a nil Redis
// client to run uncached.
type Quotes struct {
	store store.Store
	rdb   *redis.Client
	ttl   time.Duration
}

// NewQuotes creates the quote service. rdb may be nil.
func NewQuotes(st store.Store, rdb *redis.Client, ttl time.Duration) *Quotes {
	return &Quotes{store: st, rdb: rdb, ttl: ttl}
}

func stockKey(symbol string) string { return fmt.Sprintf("stock:%s", symbol) }

// Update persists a new snapshot and refreshes the cache.
func (q *Quotes) Update(ctx context.Context, quote *model.Quote) error {
	if err := q.store.SaveQuote(ctx, quote); err != nil {
		return err
	}
	q.cacheQuote(ctx, quote)
	return nil
}

// Latest returns the most recent snapshot for a symbol, checking the cache
// first and falling back to the store.
func (q *Quotes) Latest(ctx context.Context, symbol string) (*model.Quote, error) {
	if q.rdb != nil {
		data, err := q.rdb.Get(ctx, stockKey(symbol)).Bytes()
		if err == nil {
			var quote model.Quote
			if json.Unmarshal(data, &quote) == nil {
				return &quote, nil
			}
		}
	}

	quote, err := q.store.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	q.cacheQuote(ctx, quote)
	return quote, nil
}

func (q *Quotes) cacheQuote(ctx context.Context, quote *model.Quote) {
	if q.rdb == nil {
		return
	}
	if data, err := json.Marshal(quote); err == nil {
		q.rdb.Set(ctx, stockKey(quote.Symbol), data, q.ttl)
	}
}
