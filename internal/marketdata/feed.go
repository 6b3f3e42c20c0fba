package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/metrics"
	"github.com/tradefloor/settlement-engine/internal/model"
)

// PriceMessage is the JSON payload on the stock price topic.
type PriceMessage struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Consumer reads price messages from Kafka and applies them to the quote
// service. Observers (the volatility analyzer) see every applied quote.
type Consumer struct {
	reader    *kafka.Reader
	quotes    *Quotes
	observers []func(model.Quote)
}

// NewConsumer creates a consumer in the given group. Observers are invoked
// synchronously after each quote is applied.
func NewConsumer(brokers []string, topic, group string, quotes *Quotes, observers ...func(model.Quote)) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		quotes:    quotes,
		observers: observers,
	}
}

// Run consumes until ctx is cancelled. Malformed messages are logged and
// skipped; apply failures are logged and the message is dropped (the next
// tick of the feed supersedes it anyway).
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			slog.Error("price feed read failed", "err", err)
			continue
		}

		var pm PriceMessage
		if err := json.Unmarshal(msg.Value, &pm); err != nil {
			slog.Warn("skipping malformed price message", "err", err)
			continue
		}

		quote := model.Quote{Symbol: pm.Symbol, Price: pm.Price, Timestamp: pm.Timestamp}
		if err := c.quotes.Update(ctx, &quote); err != nil {
			slog.Error("quote update failed", "symbol", pm.Symbol, "err", err)
			continue
		}
		metrics.QuotesConsumed.Inc()

		for _, observe := range c.observers {
			observe(quote)
		}
		slog.Debug("quote applied", "symbol", quote.Symbol, "price", quote.Price.String())
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
