// Package settlement orchestrates trade settlement: validation, the
// wallet debit/credit and position update inside one transaction scope,
// the immutable trade record, and the best-effort post-commit fan-out
// (daily ranking, Kafka trade event, WebSocket broadcast).
//
// All monetary values use shopspring/decimal — never float64 for money.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/leaderboard"
	"github.com/tradefloor/settlement-engine/internal/marketdata"
	"github.com/tradefloor/settlement-engine/internal/metrics"
	"github.com/tradefloor/settlement-engine/internal/model"
	"github.com/tradefloor/settlement-engine/internal/store"
)

var (
	// ErrInvalidRequest is returned for non-positive quantities and negative
	// prices, before any store call is made.
	ErrInvalidRequest = errors.New("settlement: invalid request")

	// ErrPositionNotFound is returned by Sell when the trader holds no
	// position in the symbol.
	ErrPositionNotFound = errors.New("settlement: position not found")
)

// Service settles buy and sell requests. The wallet and portfolio mutation
// of one settlement either both commit or both roll back; the ranking
// update runs after commit and its failure never changes the result.
type Service struct {
	store   store.Store
	ranking leaderboard.Ranking
	quotes  *marketdata.Quotes
	events  *marketdata.Producer // optional trade event topic
	wsHub   *WSHub               // optional WebSocket broadcasts
}

// NewService creates a settlement service. events and hub may be nil.
func NewService(st store.Store, ranking leaderboard.Ranking, quotes *marketdata.Quotes, events *marketdata.Producer, hub *WSHub) *Service {
	return &Service{
		store:   st,
		ranking: ranking,
		quotes:  quotes,
		events:  events,
		wsHub:   hub,
	}
}

func validateOrder(symbol string, qty, price decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidRequest)
	}
	return nil
}

// Buy settles a purchase: withdraw total cost from the wallet, fold the
// shares into the position, and append the trade record — atomically.
// A failure at any step leaves no trace of the others.
func (s *Service) Buy(ctx context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	if err := validateOrder(symbol, qty, price); err != nil {
		metrics.SettlementErrors.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	start := time.Now()
	total := qty.Mul(price)

	var pos *model.Position
	trade := s.newTrade(traderID, symbol, model.SideBuy, qty, price, total)

	err := s.store.Atomic(ctx, func(tx store.Store) error {
		if _, err := tx.WithdrawBalance(ctx, traderID, total); err != nil {
			return err
		}
		p, err := tx.UpsertOnBuy(ctx, traderID, symbol, qty, price)
		if err != nil {
			return err
		}
		pos = p
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		metrics.SettlementErrors.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	s.afterSettle(ctx, trade)
	metrics.SettlementLatency.WithLabelValues(string(model.SideBuy)).Observe(time.Since(start).Seconds())
	return pos, nil
}

// Sell settles a sale: reduce (or delete) the position, credit the wallet
// with the proceeds, and append the trade record — atomically. Selling the
// whole position deletes it and returns a nil position.
func (s *Service) Sell(ctx context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	if err := validateOrder(symbol, qty, price); err != nil {
		metrics.SettlementErrors.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	start := time.Now()
	total := qty.Mul(price)

	var pos *model.Position
	trade := s.newTrade(traderID, symbol, model.SideSell, qty, price, total)

	err := s.store.Atomic(ctx, func(tx store.Store) error {
		existing, err := tx.FindPosition(ctx, traderID, symbol)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s has no %s", ErrPositionNotFound, traderID, symbol)
		}
		if existing.Quantity.LessThan(qty) {
			return fmt.Errorf("sell %s of %s %s: %w", qty, existing.Quantity, symbol, store.ErrInsufficientShares)
		}
		p, err := tx.ApplySell(ctx, traderID, symbol, qty)
		if err != nil {
			return err
		}
		pos = p
		if _, err := tx.DepositBalance(ctx, traderID, total); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		metrics.SettlementErrors.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	s.afterSettle(ctx, trade)
	metrics.SettlementLatency.WithLabelValues(string(model.SideSell)).Observe(time.Since(start).Seconds())
	return pos, nil
}

// Portfolio returns every position the trader holds. A trader with zero
// positions reports not found — unknown traders and empty portfolios are
// indistinguishable here, matching the wallet ledger's coarse categories.
func (s *Service) Portfolio(ctx context.Context, traderID string) ([]model.Position, error) {
	return s.store.Portfolio(ctx, traderID)
}

// Wallet returns the trader's wallet snapshot.
func (s *Service) Wallet(ctx context.Context, traderID string) (*model.Wallet, error) {
	return s.store.GetWallet(ctx, traderID)
}

func (s *Service) newTrade(traderID, symbol string, side model.TradeSide, qty, price, total decimal.Decimal) *model.Trade {
	return &model.Trade{
		ID:         uuid.New().String(),
		TraderID:   traderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Total:      total,
		ExecutedAt: time.Now().UTC(),
	}
}

// afterSettle runs the non-transactional tail of a settlement. Every step
// here is best-effort: a failure is logged and swallowed, never unwinding
// the committed wallet/portfolio change. A crash before the ranking update
// leaves the day's score understated for this trade; that is the accepted
// trade-off of keeping the ranking outside the atomic scope.
func (s *Service) afterSettle(ctx context.Context, t *model.Trade) {
	metrics.SettlementsTotal.WithLabelValues(string(t.Side)).Inc()

	// Ranking period is the current date in the service's local time zone.
	if _, err := s.ranking.IncrementVolume(ctx, t.TraderID, t.Total, time.Now()); err != nil {
		slog.Error("leaderboard update failed",
			"trader", t.TraderID, "total", t.Total.String(), "err", err)
		metrics.LeaderboardUpdateFailures.Inc()
	}

	if s.events != nil {
		if value, err := json.Marshal(t); err == nil {
			if err := s.events.Send(ctx, []byte(t.Symbol), value); err != nil {
				slog.Error("trade event publish failed", "trade", t.ID, "err", err)
			}
		}
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_settled",
			TraderID: t.TraderID,
			Symbol:   t.Symbol,
			Side:     string(t.Side),
			Quantity: t.Quantity.String(),
			Price:    t.Price.String(),
			Total:    t.Total.String(),
		})
	}

	slog.Info("trade settled",
		"trade", t.ID,
		"trader", t.TraderID,
		"symbol", t.Symbol,
		"side", t.Side,
		"qty", t.Quantity.String(),
		"total", t.Total.String(),
	)
}

// failureReason labels settlement failures for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, store.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
