package main

import (
	"context"
	"errors"
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
	"golang.org/x/sync/errgroup"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/config"
	"github.com/atmx/margin-pool/internal/ledger"
	"github.com/atmx/margin-pool/internal/limits"
	"github.com/atmx/margin-pool/internal/metrics"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/pool"
	"github.com/atmx/margin-pool/internal/position"
	"github.com/atmx/margin-pool/internal/store"
	"github.com/atmx/margin-pool/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("margin-pool failed", "err", err)
		os.Exit(1)
	}
	slog.Info("margin-pool stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis, shared by the cache and the price feed ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pgPool.Close)

		pg := store.NewPostgresStore(pgPool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Price feed ---
	var feed interface {
		oracle.PriceFeed
		oracle.PriceSetter
	}
	switch cfg.PriceSource {
	case config.PriceSourceRedis:
		feed = oracle.NewRedisFeed(rdb)
		slog.Info("reading prices from Redis")
	default:
		feed = oracle.NewMemoryFeed()
		slog.Warn("using in-memory price feed, push prices via the admin API")
	}
	feeds := oracle.Directory{cfg.OracleID: feed}

	// --- Engines ---
	l := ledger.New(st, auth.ContextVerifier{})
	if err := bootstrapAssets(ctx, l, cfg); err != nil {
		return err
	}

	poolEngine := pool.NewEngine(cfg.PoolID, st, l, feeds, auth.ContextVerifier{})
	limiter := limits.NewPositionLimiter(cfg.MaxLeverage, cfg.MaxBorrow)
	positions := position.NewEngine(cfg.PositionEngineID, st, poolEngine, l, feeds, auth.ContextVerifier{}, limiter)

	err := positions.Initialize(ctx, cfg.PoolID, cfg.OracleID, cfg.AssetA, cfg.AssetB)
	if err != nil && !errors.Is(err, position.ErrAlreadyInitialized) {
		return fmt.Errorf("initialize position engine: %w", err)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()

	// --- API service ---
	svc := trade.NewService(poolEngine, positions, l, feed, cfg.AdminID, wsHub)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"margin-pool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	var rateLimiter *trade.RateLimiter
	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			rateLimiter = trade.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			r.Use(rateLimiter.Middleware)
		}
		r.Use(auth.Middleware([]byte(cfg.JWTSecret), cfg.Reserved()...))
		r.Mount("/api/v1", svc.Routes())
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsHub.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("margin-pool listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if rateLimiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					rateLimiter.Prune(10 * time.Minute)
				}
			}
		})
	}

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down margin-pool...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// bootstrapAssets registers the pool assets and the share token on the
// ledger. The admin issues the pool assets; only the pool mints shares.
func bootstrapAssets(ctx context.Context, l *ledger.Ledger, cfg config.Config) error {
	for asset, admin := range map[string]string{
		cfg.AssetA:   cfg.AdminID,
		cfg.AssetB:   cfg.AdminID,
		cfg.SLPToken: cfg.PoolID,
	} {
		err := l.CreateAsset(ctx, asset, admin)
		if err != nil && !errors.Is(err, ledger.ErrAssetExists) {
			return fmt.Errorf("create asset %s: %w", asset, err)
		}
	}
	return nil
}
