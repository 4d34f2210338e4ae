// Command wsmemoryd is the workspace-memory service: an HTTP ingest/query
// surface backed by a Redis Streams ordered backbone, a Postgres event log
// and a Postgres memory store, with a background projection worker per
// discovered workspace stream.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clawderpunk/workspace-memory/internal/backbone/redisstreams"
	"github.com/clawderpunk/workspace-memory/internal/config"
	"github.com/clawderpunk/workspace-memory/internal/contextpack"
	eventpg "github.com/clawderpunk/workspace-memory/internal/eventlog/postgres"
	"github.com/clawderpunk/workspace-memory/internal/httpapi"
	"github.com/clawderpunk/workspace-memory/internal/ingest"
	"github.com/clawderpunk/workspace-memory/internal/logging"
	memorypg "github.com/clawderpunk/workspace-memory/internal/memory/postgres"
	"github.com/clawderpunk/workspace-memory/internal/projection"
	"github.com/clawderpunk/workspace-memory/internal/replay"
)

// pollInterval is how often an idle workspace worker re-polls its stream,
// and how often the dispatcher re-runs Discover to pick up new workspaces.
const pollInterval = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsmemoryd: config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsmemoryd: logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := applySchema(ctx, pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	events, err := eventpg.New(ctx, pool)
	if err != nil {
		logger.Fatal("construct event log store", zap.Error(err))
	}
	mem, err := memorypg.New(ctx, pool)
	if err != nil {
		logger.Fatal("construct memory store", zap.Error(err))
	}

	producerBackbone, err := redisstreams.New(redisstreams.Config{
		URL:          cfg.RedisURL,
		StreamPrefix: cfg.RedisStreamPrefix,
		Group:        cfg.RedisGroup,
	})
	if err != nil {
		logger.Fatal("construct redis backbone (producer)", zap.Error(err))
	}
	defer producerBackbone.Close() //nolint:errcheck

	consumerBackbone, err := redisstreams.New(redisstreams.Config{
		URL:          cfg.RedisURL,
		StreamPrefix: cfg.RedisStreamPrefix,
		Group:        cfg.RedisGroup,
		Consumer:     "wsmemoryd-" + hostnameOrPID(),
	})
	if err != nil {
		logger.Fatal("construct redis backbone (consumer)", zap.Error(err))
	}
	defer consumerBackbone.Close() //nolint:errcheck

	metrics := httpapi.NewMetrics()

	worker := &projection.Worker{
		Events:     events,
		Memory:     mem,
		Consumer:   consumerBackbone,
		Producer:   producerBackbone,
		Logger:     logger,
		Malformed:  metrics.Malformed,
		Promotions: metrics.Promotions,
	}

	server := &httpapi.Server{
		Ingest:    &ingest.Producer{Backbone: producerBackbone},
		Events:    events,
		Memory:    mem,
		Assembler: &contextpack.Assembler{Events: events, Memory: mem},
		Replay:    &replay.Runner{Events: events, Memory: mem},
		Metrics:   metrics,
		Logger:    logger,
		APIToken:  cfg.APIToken,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDispatcher(ctx, consumerBackbone, worker, logger)
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", httpServer.Addr), zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	stop()
	wg.Wait()
	logger.Info("shutdown complete")
}

// runDispatcher re-discovers live workspace streams every pollInterval and
// runs one RunOnce pass per workspace, since Redis Streams has no single
// shared topic this process can block-read across all workspaces at once.
func runDispatcher(ctx context.Context, bb *redisstreams.Backbone, worker *projection.Worker, logger *zap.Logger) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workspaces, err := bb.Discover(ctx)
			if err != nil {
				logger.Warn("discover workspaces", zap.Error(err))
				continue
			}
			for _, workspace := range workspaces {
				if err := worker.RunOnce(ctx, workspace); err != nil {
					logger.Warn("projection run", zap.String("workspace_id", workspace), zap.Error(err))
				}
			}
		}
	}
}

// connectPool dials Postgres with retry, mirroring the teacher's own
// web-app main's "retry for up to a minute while the database container
// comes up" loop.
func connectPool(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	poolCfg.MaxConnLifetime = 10 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	const maxAttempts = 30
	const retryDelay = 2 * time.Second

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				err = pingErr
				pool.Close()
			}
		}
		logger.Warn("postgres not ready", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", maxAttempts, err)
}

// applySchema creates the event-log and memory-store tables if absent. The
// teacher's own store constructors assume migrations already ran; this
// service has no separate migration tool, so wsmemoryd applies its two
// idempotent (CREATE TABLE IF NOT EXISTS) schemas itself on startup.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, eventpg.Schema); err != nil {
		return fmt.Errorf("event log schema: %w", err)
	}
	if _, err := pool.Exec(ctx, memorypg.Schema); err != nil {
		return fmt.Errorf("memory schema: %w", err)
	}
	return nil
}

func hostnameOrPID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fmt.Sprintf("pid-%d", os.Getpid())
}
