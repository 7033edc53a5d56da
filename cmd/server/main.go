package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ecosim/perps-engine/internal/config"
	"github.com/ecosim/perps-engine/internal/journal"
	"github.com/ecosim/perps-engine/internal/metrics"
	"github.com/ecosim/perps-engine/internal/sim"
	"github.com/ecosim/perps-engine/internal/store"
	"github.com/ecosim/perps-engine/internal/trade"
)

func main() {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	engineCfg, err := cfg.Engine()
	if err != nil {
		slog.Error("catalog invalid", "file", cfg.CatalogFile, "err", err)
		os.Exit(1)
	}

	// --- Initialize journal store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.RedisTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory journal (entries will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Engine ---
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	bus := EventBus.New()
	engine, err := sim.New(engineCfg,
		sim.WithRand(rand.New(rand.NewSource(seed))),
		sim.WithPublisher(bus),
		sim.WithLogger(logger),
	)
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	// --- Event consumers ---
	recorder := journal.NewRecorder(st, logger)
	if err := recorder.Subscribe(bus); err != nil {
		slog.Error("journal subscribe failed", "err", err)
		os.Exit(1)
	}
	wsHub := trade.NewWSHub(engine.Snapshot)
	if err := wsHub.Subscribe(bus); err != nil {
		slog.Error("ws hub subscribe failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); wsHub.Run(ctx) }()
	go func() { defer wg.Done(); recorder.Run(ctx) }()
	go func() { defer wg.Done(); engine.Run(ctx) }()

	// --- HTTP router ---
	tradeSvc := trade.NewService(engine, engineCfg.Assets, st)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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
		fmt.Fprintf(w, `{"status":"ok","service":"perps-engine","tick":%d}`, engine.Snapshot().Tick)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	api := tradeSvc.Routes()
	// WebSocket endpoint for live snapshots and events.
	api.Get("/ws", wsHub.HandleWS)
	r.Mount("/api/v1", api)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("perps-engine listening",
			"port", cfg.Port,
			"seed", seed,
			"tick_interval", cfg.TickInterval.String(),
			"assets", len(engineCfg.Assets.Symbols()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down perps-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	wg.Wait()
	fmt.Println("perps-engine stopped")
}
