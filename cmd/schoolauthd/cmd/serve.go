package cmd

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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/httpapi"
	internalaudit "github.com/yyupcompany/kyyupgame-sub117/internal/audit"
	otelexport "github.com/yyupcompany/kyyupgame-sub117/metrics/export/otel"
	promexport "github.com/yyupcompany/kyyupgame-sub117/metrics/export/prometheus"
	boltstore "github.com/yyupcompany/kyyupgame-sub117/store/bolt"
	"github.com/yyupcompany/kyyupgame-sub117/store/memory"
	pgstore "github.com/yyupcompany/kyyupgame-sub117/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath, os.Getenv)
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// identityBackend is the identity store plus anything else the database
// offers.
type identityBackend interface {
	schoolauth.IdentityStore
	Close() error
}

type memoryBackend struct{ *memory.Store }

func (memoryBackend) Close() error { return nil }

func serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}

	var (
		store identityBackend
		sinks internalaudit.MultiSink
	)
	if cfg.Database.URL != "" {
		pg, err := pgstore.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return fmt.Errorf("connecting to database: %w", err)
		}
		store = pg
		sinks = append(sinks, pg)
	} else {
		logger.Warn("schoolauthd: no database configured, using an empty in-memory identity store")
		store = memoryBackend{memory.New()}
	}
	defer store.Close()

	var auditLog *boltstore.AuditLog
	if cfg.Audit.BoltPath != "" {
		l, err := boltstore.Open(cfg.Audit.BoltPath, nil)
		if err != nil {
			return err
		}
		defer l.Close()
		auditLog = l
		sinks = append(sinks, l)
	}

	b := schoolauth.New().
		WithConfig(cfg.EngineConfig(logger)).
		WithRedis(rdb).
		WithIdentityStore(store)
	if len(sinks) > 0 {
		b = b.WithAuditSink(sinks)
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	router, closeRouter, err := newRouter(cfg, engine, logger)
	if err != nil {
		return err
	}
	defer closeRouter()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("schoolauthd: listening", "addr", cfg.Listen, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("schoolauthd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if auditLog != nil && cfg.Audit.Retention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, auditLog, cfg.Audit.Retention, time.Hour, logger)
			return nil
		})
	}
	return g.Wait()
}

// newRouter mounts the HTTP API and the configured metric endpoints. The
// returned func releases the metric pipelines.
func newRouter(cfg *Config, engine *schoolauth.Engine, logger *slog.Logger) (http.Handler, func(), error) {
	api := httpapi.New(engine,
		httpapi.WithLogger(logger),
		httpapi.WithAuthRateLimit(cfg.RateLimit.AuthPerSecond, cfg.RateLimit.AuthBurst),
		httpapi.WithMetrics(promexport.NewExporter(engine)),
	)
	router := api.Router()
	if !cfg.Metrics.OTel {
		return router, func() {}, nil
	}

	pipeline, err := otelexport.NewPipeline(engine)
	if err != nil {
		return nil, nil, fmt.Errorf("building otel pipeline: %w", err)
	}
	router.Handle(cfg.Metrics.OTelPath, pipeline.Handler())
	logger.Info("schoolauthd: otel metrics enabled", "path", cfg.Metrics.OTelPath)
	return router, func() {
		if err := pipeline.Shutdown(context.Background()); err != nil {
			logger.Warn("schoolauthd: otel shutdown failed", "error", err)
		}
	}, nil
}

// pruneLoop removes audit records older than retention every interval until
// ctx is done.
func pruneLoop(ctx context.Context, l *boltstore.AuditLog, retention, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := l.Prune(time.Now().Add(-retention))
		if err != nil {
			logger.Warn("schoolauthd: audit prune failed", "error", err)
		} else if n > 0 {
			logger.Info("schoolauthd: audit records pruned", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
