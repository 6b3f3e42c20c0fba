package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/leaderboard"
	"github.com/tradefloor/settlement-engine/internal/marketdata"
	"github.com/tradefloor/settlement-engine/internal/metrics"
	"github.com/tradefloor/settlement-engine/internal/model"
	"github.com/tradefloor/settlement-engine/internal/settlement"
	"github.com/tradefloor/settlement-engine/internal/store"
	"github.com/tradefloor/settlement-engine/internal/volatility"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis: quote cache and trading-volume leaderboard ---
	var rdb *redis.Client
	var ranking leaderboard.Ranking

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		ranking = leaderboard.NewRedisRanking(rdb)
		slog.Info("Redis leaderboard enabled")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory leaderboard")
		ranking = leaderboard.NewMemoryRanking()
	}

	quotes := marketdata.NewQuotes(st, rdb, 30*time.Second)

	// --- WebSocket hub ---
	wsHub := settlement.NewWSHub()
	go wsHub.Run()

	// --- Kafka pipeline: price feed, trade events, volatility alerts ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var tradeEvents *marketdata.Producer

	if brokerList := os.Getenv("KAFKA_BROKERS"); brokerList != "" {
		brokers := strings.Split(brokerList, ",")

		priceTopic := envOr("PRICE_TOPIC", "stock-prices")
		tradeTopic := envOr("TRADE_TOPIC", "trade-events")
		alertTopic := envOr("ALERT_TOPIC", "volatility-alerts")

		tradeEvents = marketdata.NewProducer(brokers, tradeTopic)
		cleanup = append(cleanup, func() { tradeEvents.Close() })

		alerts := marketdata.NewProducer(brokers, alertTopic)
		cleanup = append(cleanup, func() { alerts.Close() })

		analyzer := volatility.NewAnalyzer(time.Minute, decimal.NewFromFloat(0.05), alerts)
		go analyzer.Run(workerCtx)

		consumer := marketdata.NewConsumer(brokers, priceTopic, "settlement-engine",
			quotes,
			analyzer.Observe,
			func(q model.Quote) {
				wsHub.Broadcast(settlement.WSMessage{
					Type:   "price_update",
					Symbol: q.Symbol,
					Price:  q.Price.String(),
				})
			},
		)
		cleanup = append(cleanup, func() { consumer.Close() })
		go consumer.Run(workerCtx)
		slog.Info("Kafka price pipeline enabled", "brokers", brokers, "topic", priceTopic)

		// Optional upstream feed: bridges an external quote WebSocket into
		// the price topic. Runs only when a token is configured.
		if token := os.Getenv("FEED_TOKEN"); token != "" {
			feedURL := envOr("FEED_URL", "wss://ws.finnhub.io")
			symbols := strings.Split(envOr("FEED_SYMBOLS", "AAPL,MSFT,GOOGL"), ",")

			prices := marketdata.NewProducer(brokers, priceTopic)
			cleanup = append(cleanup, func() { prices.Close() })

			feed := marketdata.NewFeedClient(feedURL, token, symbols, prices)
			go feed.Run(workerCtx)
			slog.Info("upstream quote feed enabled", "url", feedURL, "symbols", symbols)
		}
	} else {
		slog.Warn("KAFKA_BROKERS not set, price pipeline disabled")
	}

	// --- Settlement service ---
	svc := settlement.NewService(st, ranking, quotes, tradeEvents, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for settlement and price broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		// Trader accounts.
		r.Post("/traders/{traderID}/wallet", svc.HandleCreateWallet)
		r.Get("/traders/{traderID}/wallet", svc.HandleGetWallet)
		r.Get("/traders/{traderID}/portfolio", svc.HandleGetPortfolio)
		r.Get("/traders/{traderID}/trades", svc.HandleGetTrades)

		// Trade settlement.
		r.Post("/traders/{traderID}/buy", svc.HandleBuy)
		r.Post("/traders/{traderID}/sell", svc.HandleSell)

		// Daily trading-volume ranking.
		r.Get("/leaderboard", svc.HandleLeaderboard)

		// Latest quotes.
		r.Get("/stocks/{symbol}/price", svc.HandleGetPrice)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	stopWorkers()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
