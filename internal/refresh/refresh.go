// Package refresh runs the periodic fallback full-refresh. Delta sync
// over the socket is the primary path; this layer bounds staleness by
// re-fetching the complete table list on a fixed interval and loading
// it wholesale into the registry, so a missed delta can never go stale
// forever. Fetches are guarded by a circuit breaker so a dead API is
// not hammered on every tick.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/metrics"
	"github.com/mhoffm/lobbysync/internal/platform/retry"
)

const (
	defaultInterval     = 60 * time.Second
	defaultFetchTimeout = 10 * time.Second
)

// Fetcher retrieves the complete lobby state from the backing API.
type Fetcher interface {
	FetchLobby(ctx context.Context) ([]lobby.Table, lobby.Stats, error)
}

type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
}

// Refresher periodically loads the full lobby state into a registry.
type Refresher struct {
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	fetcher  Fetcher
	registry *lobby.Registry
	cb       circuitbreaker.CircuitBreaker[any]
}

func New(cfg Config, fetcher Fetcher, registry *lobby.Registry, clock clockwork.Clock, logger *slog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "refresh")

	// 60% failure rate over a 10s window with at least 5 calls opens;
	// half-open after 30s; one success closes again.
	cb := circuitbreaker.Builder[any]().
		WithFailureRateThreshold(60, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn("refresh circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &Refresher{
		cfg:      cfg,
		clock:    clock,
		logger:   log,
		fetcher:  fetcher,
		registry: registry,
		cb:       cb,
	}
}

// Run refreshes on every tick until ctx is cancelled. Intended as a
// long-lived goroutine owned by the session.
func (r *Refresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := r.RefreshNow(ctx); err != nil {
				r.logger.Warn("fallback refresh failed", "error", err)
			}
		}
	}
}

// RefreshNow fetches the full lobby state once and loads it into the
// registry. Transient fetch errors are retried within the call; an
// open breaker fails fast.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	if !r.cb.TryAcquirePermit() {
		metrics.RefreshTotal.WithLabelValues("skipped").Inc()
		return fmt.Errorf("refresh skipped: %w", circuitbreaker.ErrOpen)
	}

	start := r.clock.Now()
	tables, stats, err := r.fetchWithRetry(ctx)
	metrics.RefreshDuration.Observe(r.clock.Since(start).Seconds())

	if err != nil {
		r.cb.RecordError(err)
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("fetching lobby state: %w", err)
	}
	r.cb.RecordSuccess()

	r.registry.LoadFullState(tables, stats)
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	r.logger.Info("fallback refresh applied", "tables", len(tables))
	return nil
}

// State exposes the breaker state for readiness reporting.
func (r *Refresher) State() circuitbreaker.State {
	return r.cb.State()
}

type lobbyState struct {
	tables []lobby.Table
	stats  lobby.Stats
}

func (r *Refresher) fetchWithRetry(ctx context.Context) ([]lobby.Table, lobby.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			r.logger.Warn("refresh fetch retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	// Every fetch error is transient from this layer's point of view;
	// permanent API failures surface through the circuit breaker.
	classify := func(error) retry.Action { return retry.Retry }

	state, err := retry.Do(ctx, policy, classify, func() (lobbyState, error) {
		tables, stats, err := r.fetcher.FetchLobby(ctx)
		if err != nil {
			return lobbyState{}, err
		}
		return lobbyState{tables: tables, stats: stats}, nil
	})
	if err != nil {
		return nil, lobby.Stats{}, err
	}
	return state.tables, state.stats, nil
}
