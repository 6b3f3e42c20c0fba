package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// FeedClient subscribes to a Finnhub-style trade websocket and republishes
// the last price per symbol of every frame onto the Kafka price topic.
type FeedClient struct {
	url      string
	token    string
	symbols  []string
	producer *Producer
}

// NewFeedClient creates a feed client. url is the websocket endpoint without
// the token query parameter.
func NewFeedClient(url, token string, symbols []string, producer *Producer) *FeedClient {
	return &FeedClient{url: url, token: token, symbols: symbols, producer: producer}
}

// finnhubFrame is one message from the feed. Frames with type other than
// "trade" (pings, market-closed notices) carry no data and are ignored.
type finnhubFrame struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		TimeMs int64   `json:"t"`
		Volume float64 `json:"v"`
	} `json:"data"`
}

// Run connects, subscribes, and pumps frames until ctx is cancelled,
// reconnecting with a fixed backoff after transport errors.
func (f *FeedClient) Run(ctx context.Context) {
	const backoff = 5 * time.Second

	for ctx.Err() == nil {
		if err := f.pump(ctx); err != nil && ctx.Err() == nil {
			slog.Error("price feed disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (f *FeedClient) pump(ctx context.Context) error {
	uri := fmt.Sprintf("%s?token=%s", f.url, f.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	for _, symbol := range f.symbols {
		sub := fmt.Sprintf(`{"type":"subscribe","symbol":"%s"}`, symbol)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	slog.Info("subscribed to price feed", "symbols", len(f.symbols))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleFrame(ctx, payload)
	}
}

func (f *FeedClient) handleFrame(ctx context.Context, payload []byte) {
	var frame finnhubFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != "trade" {
		// Ping or market-closed frame.
		slog.Debug("ignoring non-trade frame")
		return
	}

	// Collapse the batch to the last trade per symbol.
	latest := make(map[string]PriceMessage)
	for _, t := range frame.Data {
		latest[t.Symbol] = PriceMessage{
			Symbol:    t.Symbol,
			Price:     decimal.NewFromFloat(t.Price),
			Timestamp: time.UnixMilli(t.TimeMs).UTC(),
		}
	}

	for symbol, pm := range latest {
		value, err := json.Marshal(pm)
		if err != nil {
			continue
		}
		if err := f.producer.Send(ctx, []byte(symbol), value); err != nil {
			slog.Error("price publish failed", "symbol", symbol, "err", err)
		}
	}
}
