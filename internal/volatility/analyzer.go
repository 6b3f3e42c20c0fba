// Package volatility watches the price stream for symbols whose price range
// within a tumbling window exceeds a threshold, and emits alerts.
package volatility

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/marketdata"
	"github.com/tradefloor/settlement-engine/internal/metrics"
	"github.com/tradefloor/settlement-engine/internal/model"
)

// Alert reports one symbol whose relative price range within a window
// reached the threshold.
type Alert struct {
	Symbol      string          `json:"symbol"`
	WindowStart int64           `json:"window_start"` // unix milliseconds
	WindowEnd   int64           `json:"window_end"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	Volatility  decimal.Decimal `json:"volatility"` // (max-min)/min
}

type priceStats struct {
	min decimal.Decimal
	max decimal.Decimal
}

// Analyzer aggregates observed prices into per-symbol min/max over tumbling
// windows. On window close, symbols with (max−min)/min ≥ threshold produce
// an alert, published to Kafka when a producer is configured.
type Analyzer struct {
	window    time.Duration
	threshold decimal.Decimal
	producer  *marketdata.Producer // optional

	mu          sync.Mutex
	stats       map[string]*priceStats
	windowStart time.Time
}

// NewAnalyzer creates an analyzer. Pass nil producer to only log alerts.
func NewAnalyzer(window time.Duration, threshold decimal.Decimal, producer *marketdata.Producer) *Analyzer {
	return &Analyzer{
		window:      window,
		threshold:   threshold,
		producer:    producer,
		stats:       make(map[string]*priceStats),
		windowStart: time.Now().UTC(),
	}
}

// Observe folds one quote into the current window. Safe for concurrent use.
func (a *Analyzer) Observe(q model.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.stats[q.Symbol]
	if !ok {
		a.stats[q.Symbol] = &priceStats{min: q.Price, max: q.Price}
		return
	}
	if q.Price.LessThan(st.min) {
		st.min = q.Price
	}
	if q.Price.GreaterThan(st.max) {
		st.max = q.Price
	}
}

// Run closes windows on a ticker until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, alert := range a.closeWindow(now.UTC()) {
				a.publish(ctx, alert)
			}
		}
	}
}

// closeWindow ends the current window, returning alerts for symbols over
// the threshold, and starts the next window empty (tumbling, no overlap).
func (a *Analyzer) closeWindow(now time.Time) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	var alerts []Alert
	for symbol, st := range a.stats {
		if st.min.IsZero() || !st.min.IsPositive() {
			continue
		}
		vol := st.max.Sub(st.min).Div(st.min)
		if vol.GreaterThanOrEqual(a.threshold) {
			alerts = append(alerts, Alert{
				Symbol:      symbol,
				WindowStart: a.windowStart.UnixMilli(),
				WindowEnd:   now.UnixMilli(),
				MinPrice:    st.min,
				MaxPrice:    st.max,
				Volatility:  vol,
			})
		}
	}

	a.stats = make(map[string]*priceStats)
	a.windowStart = now
	return alerts
}

func (a *Analyzer) publish(ctx context.Context, alert Alert) {
	slog.Warn("volatility alert",
		"symbol", alert.Symbol,
		"min", alert.MinPrice.String(),
		"max", alert.MaxPrice.String(),
		"volatility", alert.Volatility.String(),
	)
	metrics.VolatilityAlerts.Inc()

	if a.producer == nil {
		return
	}
	value, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := a.producer.Send(ctx, []byte(alert.Symbol), value); err != nil {
		slog.Error("alert publish failed", "symbol", alert.Symbol, "err", err)
	}
}
