package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/engine/internal/api"
	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/engine"
	"github.com/papertrade/engine/internal/marketclock"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/pricelimit"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/rules"
	"github.com/papertrade/engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote pipeline ---
	clock := marketclock.New()
	resolver := pricelimit.NewResolver(clock)

	var qCache quote.Cache = quote.NewMemoryCache()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis_url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		qCache = quote.NewRedisCache(rdb, cfg.QuoteTTL.Std())
		slog.Info("Redis quote cache enabled")
	}

	quotes := quote.NewService(quote.NewEastMoneyClient(cfg.QuoteTimeout.Std()), resolver, qCache, cfg.QuoteTTL.Std())

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Order engine + monitor ---
	eng := engine.New(st, quotes, rules.New(cfg.Fees), clock,
		engine.WithInitialBalance(cfg.InitialBalance),
		engine.WithNotifier(wsHub),
	)

	monitor := engine.NewMonitor(eng, cfg.MonitorInterval.Std())
	monitor.Start()
	defer monitor.Stop()

	// --- Daily T+1 rollover ---
	rolloverCtx, stopRollover := context.WithCancel(context.Background())
	defer stopRollover()
	go runRollover(rolloverCtx, eng)

	// --- API service ---
	apiSvc := api.NewService(eng, st, quotes, wsHub)

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
		w.Write([]byte(`{"status":"ok","service":"papertrade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time fill notifications.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/users", apiSvc.Register)
		r.Get("/leaderboard", apiSvc.Leaderboard)

		// Orders.
		r.Post("/orders", apiSvc.PlaceOrder)
		r.Get("/orders", apiSvc.ListOrders)
		r.Delete("/orders/{orderID}", apiSvc.CancelOrder)

		// Portfolio and market data.
		r.Get("/portfolio/{userID}", apiSvc.GetPortfolio)
		r.Get("/quotes/{code}", apiSvc.GetQuote)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("papertrade-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down papertrade-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("papertrade-engine stopped")
}

// runRollover fires the T+1 rollover shortly after each midnight, exchange
// time. Non-trading days are harmless: unlocking an already unlocked
// position is a no-op.
func runRollover(ctx context.Context, eng *engine.Engine) {
	for {
		now := time.Now().In(marketclock.CST)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, marketclock.CST).AddDate(0, 0, 1)

		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := eng.Rollover(runCtx); err != nil {
			slog.Error("rollover failed", "err", err)
		}
		cancel()
	}
}
