package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
	"github.com/tradefloor/settlement-engine/internal/store"
)

// RedisRanking implements Ranking on a Redis sorted set per date. Scores
// are Redis doubles; ZINCRBY makes the increment atomic without any lock
// on our side. Expiry of old daily sets is an external retention concern.
type RedisRanking struct {
	rdb *redis.Client
}

// NewRedisRanking creates a Redis-backed ranking.
func NewRedisRanking(rdb *redis.Client) *RedisRanking {
	return &RedisRanking{rdb: rdb}
}

func (r *RedisRanking) IncrementVolume(ctx context.Context, traderID string, volume decimal.Decimal, day time.Time) (decimal.Decimal, error) {
	score, err := r.rdb.ZIncrBy(ctx, Key(day), volume.InexactFloat64(), traderID).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: zincrby %s: %v", store.ErrUnavailable, Key(day), err)
	}
	return decimal.NewFromFloat(score), nil
}

func (r *RedisRanking) TopTraders(ctx context.Context, limit int64, day time.Time) ([]model.TopTrader, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := r.rdb.ZRevRangeWithScores(ctx, Key(day), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrevrange %s: %v", store.ErrUnavailable, Key(day), err)
	}

	top := make([]model.TopTrader, 0, len(entries))
	for _, e := range entries {
		traderID, _ := e.Member.(string)
		top = append(top, model.TopTrader{
			TraderID: traderID,
			Volume:   decimal.NewFromFloat(e.Score),
		})
	}
	return top, nil
}
