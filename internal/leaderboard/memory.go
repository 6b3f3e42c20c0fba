package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// MemoryRanking implements Ranking with in-memory maps. Used for testing
// and development. Exact score ties order by trader ID ascending, which is
// deterministic but differs from Redis' native tie order — callers must not
// depend on either.
type MemoryRanking struct {
	mu     sync.RWMutex
	scores map[string]map[string]decimal.Decimal // key(day) → traderID → score
}

// NewMemoryRanking creates a new in-memory ranking.
func NewMemoryRanking() *MemoryRanking {
	return &MemoryRanking{scores: make(map[string]map[string]decimal.Decimal)}
}

func (r *MemoryRanking) IncrementVolume(_ context.Context, traderID string, volume decimal.Decimal, day time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(day)
	board, ok := r.scores[key]
	if !ok {
		board = make(map[string]decimal.Decimal)
		r.scores[key] = board
	}
	board[traderID] = board[traderID].Add(volume)
	return board[traderID], nil
}

func (r *MemoryRanking) TopTraders(_ context.Context, limit int64, day time.Time) ([]model.TopTrader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	board := r.scores[Key(day)]
	top := make([]model.TopTrader, 0, len(board))
	for traderID, score := range board {
		top = append(top, model.TopTrader{TraderID: traderID, Volume: score})
	}
	sort.Slice(top, func(i, j int) bool {
		if !top[i].Volume.Equal(top[j].Volume) {
			return top[i].Volume.GreaterThan(top[j].Volume)
		}
		return top[i].TraderID < top[j].TraderID
	})
	if int64(len(top)) > limit {
		top = top[:limit]
	}
	return top, nil
}
