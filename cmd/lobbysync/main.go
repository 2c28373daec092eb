package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mhoffm/lobbysync/internal/batch"
	"github.com/mhoffm/lobbysync/internal/client"
	"github.com/mhoffm/lobbysync/internal/conn"
	"github.com/mhoffm/lobbysync/internal/platform/config"
	"github.com/mhoffm/lobbysync/internal/platform/logging"
	"github.com/mhoffm/lobbysync/internal/queue"
	"github.com/mhoffm/lobbysync/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, redisURL string) *goredis.Client {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return rdb
}

func runGracefulShutdown(srv *server.Server, session *client.Session, rdb *goredis.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		session.Close()

		if rdb != nil {
			_ = rdb.Close()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	var (
		rdb   *goredis.Client
		store queue.Store
	)
	if cfg.PersistQueue {
		rdb = setupRedis(context.Background(), cfg.RedisURL)
		store = queue.NewRedisStore(rdb, cfg.QueueStorageKey)
	} else {
		store = queue.NewMemoryStore()
	}

	api := client.NewAPIClient(cfg.LobbyAPIURL, nil)

	session := client.New(client.Config{
		Conn: conn.Config{
			URL:           cfg.LobbyWSURL,
			Enabled:       cfg.StreamEnabled,
			ReconnectBase: cfg.ReconnectBase,
			ReconnectMax:  cfg.ReconnectMax,
			MaxAttempts:   cfg.MaxReconnectAttempts,
		},
		Batch: batch.Config{
			FlushInterval: cfg.BatchInterval,
			MaxBatchSize:  cfg.MaxBatchSize,
			MaxPending:    cfg.MaxPendingMessages,
		},
		Queue: queue.Config{
			MaxQueueSize:      cfg.MaxQueueSize,
			MaxRetries:        cfg.MaxActionRetries,
			RetryDelay:        cfg.ActionRetryDelay,
			BackoffMultiplier: cfg.BackoffMultiplier,
		},
		RefreshInterval: cfg.RefreshInterval,
	}, api, store, clock, slog.Default())

	if err := session.Start(context.Background()); err != nil {
		slog.Error("Failed to start lobby session", "error", err)
		os.Exit(1)
	}

	// Prime the registry so the API serves data before the first tick.
	if err := session.RefreshNow(context.Background()); err != nil {
		slog.Warn("Initial lobby refresh failed, serving deltas only", "error", err)
	}

	// Pass nil explicitly to avoid a typed-nil interface value.
	var srv *server.Server
	if rdb != nil {
		srv = server.NewServer(cfg, session, rdb)
	} else {
		srv = server.NewServer(cfg, session, nil)
	}

	done := runGracefulShutdown(srv, session, rdb)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
