// Package marketdata moves stock prices through the system: a Kafka
// producer/consumer pair for the price topic, a Redis read-through cache of
// the latest snapshot per symbol, and a websocket client ingesting a
// Finnhub-style real-time feed.
package marketdata

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer is a thin kafka-go writer for one topic, keyed by symbol.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send publishes one message.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
