package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Lobby backend endpoints.
	LobbyWSURL  string `env:"LOBBY_WS_URL"`
	LobbyAPIURL string `env:"LOBBY_API_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Connection manager.
	StreamEnabled        bool          `env:"LOBBY_STREAM_ENABLED" default:"true"`
	ReconnectBase        time.Duration `env:"RECONNECT_BASE" default:"1s"`
	ReconnectMax         time.Duration `env:"RECONNECT_MAX" default:"30s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" default:"10"`

	// Message batcher.
	BatchInterval      time.Duration `env:"BATCH_INTERVAL" default:"100ms"`
	MaxBatchSize       int           `env:"MAX_BATCH_SIZE" default:"50"`
	MaxPendingMessages int           `env:"MAX_PENDING_MESSAGES" default:"1000"`

	// Offline action queue.
	MaxQueueSize      int           `env:"MAX_QUEUE_SIZE" default:"100"`
	MaxActionRetries  int           `env:"MAX_ACTION_RETRIES" default:"3"`
	ActionRetryDelay  time.Duration `env:"ACTION_RETRY_DELAY" default:"2s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" default:"2"`
	PersistQueue      bool          `env:"PERSIST_QUEUE" default:"true"`
	QueueStorageKey   string        `env:"QUEUE_STORAGE_KEY" default:"lobby:offline_queue"`

	// Fallback full-refresh.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" default:"60s"`

	// Per-IP action rate limiting on the HTTP surface.
	ActionRateLimit float64 `env:"ACTION_RATE_LIMIT" default:"5"`
	ActionRateBurst int     `env:"ACTION_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"LOBBY_WS_URL":  cfg.LobbyWSURL,
		"LOBBY_API_URL": cfg.LobbyAPIURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.PersistQueue && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required when PERSIST_QUEUE is enabled")
	}
	if cfg.BatchInterval <= 0 {
		return errors.New("BATCH_INTERVAL must be positive")
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("MAX_BATCH_SIZE must be positive")
	}
	if cfg.BackoffMultiplier <= 1 {
		return errors.New("BACKOFF_MULTIPLIER must be greater than 1")
	}
	if cfg.ReconnectBase > cfg.ReconnectMax {
		return errors.New("RECONNECT_BASE must not exceed RECONNECT_MAX")
	}

	return nil
}
