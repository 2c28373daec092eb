// Package client assembles one lobby client session: a registry fed by
// a batched connection, memoized derived views, a durable offline
// action queue, and the periodic fallback refresh. Everything is owned
// by the Session instance; there are no package-level singletons.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mhoffm/lobbysync/internal/batch"
	"github.com/mhoffm/lobbysync/internal/conn"
	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/queue"
	"github.com/mhoffm/lobbysync/internal/refresh"
	"github.com/mhoffm/lobbysync/internal/views"
)

// ActionSender delivers one outbound action frame. Satisfied by
// *conn.Manager; the queue retries through the same interface.
type ActionSender interface {
	Send(v any) error
}

// actionFrame is the outbound wire shape for write actions.
type actionFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// JoinTablePayload is the join_table action payload.
type JoinTablePayload struct {
	TableID string  `json:"tableId"`
	BuyIn   float64 `json:"buyIn"`
}

// JoinWaitlistPayload is the join_waitlist action payload.
type JoinWaitlistPayload struct {
	TableID string `json:"tableId"`
}

const (
	actionJoinTable    = "join_table"
	actionJoinWaitlist = "join_waitlist"
)

// Config bundles the per-session tuning knobs.
type Config struct {
	Conn            conn.Config
	Batch           batch.Config
	Queue           queue.Config
	RefreshInterval time.Duration
	// OnChange fires after a merged batch changed the registry. It runs
	// on the merge path and must return quickly.
	OnChange func(lobby.Delta)
	// OnConnState mirrors connection state transitions to the consumer.
	OnConnState func(conn.State)
}

// Session is the top-level handle owning all components of one client.
type Session struct {
	logger   *slog.Logger
	registry *lobby.Registry
	views    *views.Views
	batcher  *batch.Batcher
	conn     *conn.Manager
	queue    *queue.Queue
	refresh  *refresh.Refresher
	sender   ActionSender

	cancel context.CancelFunc
}

// New wires the data path: socket frames flow through the batcher into
// the registry; the queue drains whenever the connection opens.
func New(cfg Config, fetcher refresh.Fetcher, store queue.Store, clock clockwork.Clock, logger *slog.Logger) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{logger: logger.With("component", "session")}
	s.registry = lobby.NewRegistry(logger)
	s.views = views.New()

	batchCfg := cfg.Batch
	userOnBatch := batchCfg.OnBatch
	batchCfg.OnBatch = func(events []lobby.Event) {
		delta := s.registry.ApplyBatch(events)
		if delta.Changed() && cfg.OnChange != nil {
			cfg.OnChange(delta)
		}
		if userOnBatch != nil {
			userOnBatch(events)
		}
	}
	s.batcher = batch.New(batchCfg, clock, logger)

	connCfg := cfg.Conn
	userOnState := connCfg.OnState
	connCfg.OnState = func(st conn.State) {
		if st == conn.StateOpen {
			// Drain off the state-change path; Send takes the manager lock.
			go s.DrainQueue(context.Background())
		}
		if cfg.OnConnState != nil {
			cfg.OnConnState(st)
		}
		if userOnState != nil {
			userOnState(st)
		}
	}
	s.conn = conn.NewManager(connCfg, s.batcher, clock, logger)
	s.sender = s.conn

	s.queue = queue.New(cfg.Queue, store, clock, logger)

	if fetcher != nil {
		s.refresh = refresh.New(refresh.Config{Interval: cfg.RefreshInterval}, fetcher, s.registry, clock, logger)
	}

	return s
}

// Start restores the persisted queue, opens the connection, and begins
// the fallback refresh loop.
func (s *Session) Start(ctx context.Context) error {
	if err := s.queue.Restore(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.conn.Connect()
	if s.refresh != nil {
		go s.refresh.Run(runCtx)
	}
	return nil
}

// Close tears the session down: refresh loop stopped, connection
// released, batcher flushed, retry timers cancelled.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Disconnect()
	s.batcher.Destroy()
	s.queue.Destroy()
}

// JoinTable requests a seat. Delivered directly when the connection is
// open, otherwise queued for retry.
func (s *Session) JoinTable(ctx context.Context, tableID string, buyIn float64, opts queue.EnqueueOptions) error {
	payload, err := json.Marshal(JoinTablePayload{TableID: tableID, BuyIn: buyIn})
	if err != nil {
		return fmt.Errorf("encoding join_table payload: %w", err)
	}
	s.sendOrEnqueue(ctx, actionJoinTable, payload, opts)
	return nil
}

// JoinWaitlist requests a waitlist spot, with the same delivery rules
// as JoinTable.
func (s *Session) JoinWaitlist(ctx context.Context, tableID string, opts queue.EnqueueOptions) error {
	payload, err := json.Marshal(JoinWaitlistPayload{TableID: tableID})
	if err != nil {
		return fmt.Errorf("encoding join_waitlist payload: %w", err)
	}
	s.sendOrEnqueue(ctx, actionJoinWaitlist, payload, opts)
	return nil
}

func (s *Session) sendOrEnqueue(ctx context.Context, name string, payload json.RawMessage, opts queue.EnqueueOptions) {
	err := s.sender.Send(actionFrame{Action: name, Payload: payload})
	if err == nil {
		if opts.OnSuccess != nil {
			opts.OnSuccess(nil)
		}
		return
	}
	s.logger.Info("direct send failed, queueing action", "action", name, "error", err)
	s.queue.Enqueue(ctx, name, payload, opts)
}

// DrainQueue retries every queued action against the live connection.
func (s *Session) DrainQueue(ctx context.Context) {
	s.queue.ProcessQueue(ctx, func(_ context.Context, a queue.Action) (any, error) {
		if err := s.sender.Send(actionFrame{Action: a.Name, Payload: a.Payload}); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// RefreshNow forces one fallback full-refresh outside the timer.
func (s *Session) RefreshNow(ctx context.Context) error {
	if s.refresh == nil {
		return fmt.Errorf("refresh not configured")
	}
	return s.refresh.RefreshNow(ctx)
}

// ConnState reports the connection lifecycle state.
func (s *Session) ConnState() conn.State { return s.conn.State() }

// SetFavorite pins a table ahead of every sort order.
func (s *Session) SetFavorite(id string, favorite bool) bool {
	return s.registry.SetFavorite(id, favorite)
}

// QueueDepth reports pending offline actions.
func (s *Session) QueueDepth() int { return s.queue.Len() }

// Tables returns the filtered, sorted table list.
func (s *Session) Tables(criteria lobby.FilterCriteria, spec views.SortSpec) []lobby.Table {
	return s.views.Filtered.Compute(s.registry.Snapshot(), criteria, spec)
}

// Grouped returns tables bucketed by stake level.
func (s *Session) Grouped(criteria lobby.FilterCriteria) map[lobby.StakeLevel][]lobby.Table {
	return s.views.Groups.Compute(s.registry.Snapshot(), criteria)
}

// OpenSeats returns tables with at least one free seat.
func (s *Session) OpenSeats() []lobby.Table {
	return s.views.Open.Compute(s.registry.Snapshot())
}

// Stats returns aggregate statistics over the filtered tables.
func (s *Session) Stats(criteria lobby.FilterCriteria) views.LobbyStats {
	return s.views.Stats.Compute(s.registry.Snapshot(), criteria)
}

// QuickSeat returns the top table suggestions by fill ratio.
func (s *Session) QuickSeat(criteria lobby.FilterCriteria) []lobby.Table {
	return s.views.QuickSeat.Compute(s.registry.Snapshot(), criteria)
}

// TableByID reads one table straight from the registry.
func (s *Session) TableByID(id string) (lobby.Table, bool) {
	return s.registry.Table(id)
}

// ServerStats returns the last stats_update aggregate.
func (s *Session) ServerStats() lobby.Stats {
	return s.registry.Snapshot().Stats
}
