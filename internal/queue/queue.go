package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mhoffm/lobbysync/internal/metrics"
)

var (
	// ErrQueueFull is passed to OnError when an enqueue is rejected
	// because the queue is at capacity.
	ErrQueueFull = errors.New("offline queue full")

	// ErrRetriesExhausted wraps the last handler error once an action
	// has used up its retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

const (
	defaultMaxQueueSize      = 100
	defaultMaxRetries        = 3
	defaultRetryDelay        = 2 * time.Second
	defaultBackoffMultiplier = 2.0
)

// Action is the serializable part of a queued write action. It is what
// the Store persists; callbacks live only in memory.
type Action struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// Handler attempts delivery of one action. A nil error dequeues the
// action and fires OnSuccess with the result.
type Handler func(ctx context.Context, action Action) (any, error)

// EnqueueOptions carries the per-action callbacks and retry budget.
type EnqueueOptions struct {
	OnSuccess  func(result any)
	OnError    func(err error)
	MaxRetries int // 0 means the queue default
}

type Config struct {
	MaxQueueSize      int
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
}

type entry struct {
	action    Action
	onSuccess func(any)
	onError   func(error)
	timerSet  bool
	timer     clockwork.Timer
	inFlight  bool
}

// Queue holds pending write actions in FIFO order. Every mutation
// synchronously writes a snapshot through the Store before returning,
// keeping the in-memory list and the persisted copy consistent.
type Queue struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger
	store  Store

	mu         sync.Mutex
	entries    []*entry
	processing bool
	handler    Handler
	destroyed  bool
}

func New(cfg Config, store Store, clock clockwork.Clock, logger *slog.Logger) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaultMaxQueueSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = defaultBackoffMultiplier
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "queue"),
		store:  store,
	}
}

// Restore loads the persisted snapshot into an empty queue. Restored
// actions carry no callbacks; their outcomes are only observable
// through logs and metrics.
func (q *Queue) Restore(ctx context.Context) error {
	actions, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restoring offline queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range actions {
		q.entries = append(q.entries, &entry{action: a})
	}
	metrics.QueueDepth.Set(float64(len(q.entries)))
	if len(q.entries) > 0 {
		q.logger.Info("restored pending actions", "count", len(q.entries))
	}
	return nil
}

// Enqueue appends an action. A full queue rejects through opts.OnError,
// never by silently accepting and dropping.
func (q *Queue) Enqueue(ctx context.Context, name string, payload json.RawMessage, opts EnqueueOptions) {
	q.mu.Lock()

	if q.destroyed {
		q.mu.Unlock()
		return
	}
	if len(q.entries) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		metrics.QueueRejectedTotal.Inc()
		q.logger.Warn("enqueue rejected, queue full", "action", name, "size", q.cfg.MaxQueueSize)
		if opts.OnError != nil {
			opts.OnError(fmt.Errorf("%w: rejecting %s", ErrQueueFull, name))
		}
		return
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}
	e := &entry{
		action: Action{
			ID:         uuid.NewString(),
			Name:       name,
			Payload:    payload,
			CreatedAt:  q.clock.Now(),
			MaxRetries: maxRetries,
		},
		onSuccess: opts.OnSuccess,
		onError:   opts.OnError,
	}
	q.entries = append(q.entries, e)
	metrics.QueueDepth.Set(float64(len(q.entries)))
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.logger.Info("action enqueued", "action", name, "id", e.action.ID, "depth", q.Len())
}

// ProcessQueue attempts the handler once per queued action, in FIFO
// order. A concurrent call while a drain is running is a no-op. The
// handler is retained so scheduled retries use the most recent one.
func (q *Queue) ProcessQueue(ctx context.Context, handler Handler) {
	q.mu.Lock()
	if q.destroyed || q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.handler = handler

	// Snapshot the entries that have no retry timer pending and are not
	// mid-attempt; pending entries are owned by their timers until they
	// fire, in-flight ones by the goroutine running their handler.
	var due []*entry
	for _, e := range q.entries {
		if !e.timerSet && !e.inFlight {
			due = append(due, e)
		}
	}
	q.mu.Unlock()

	for _, e := range due {
		q.attempt(ctx, e)
	}

	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

// attempt runs the handler for one entry and settles the outcome. The
// inFlight flag keeps a retry timer firing during a drain (or the other
// way round) from running the handler twice for the same entry.
func (q *Queue) attempt(ctx context.Context, e *entry) {
	q.mu.Lock()
	if q.destroyed || !q.contains(e) || e.inFlight {
		q.mu.Unlock()
		return
	}
	e.inFlight = true
	handler := q.handler
	action := e.action
	q.mu.Unlock()

	if handler == nil {
		q.mu.Lock()
		e.inFlight = false
		q.mu.Unlock()
		return
	}

	result, err := handler(ctx, action)
	if err == nil {
		if q.settle(ctx, e, "success") && e.onSuccess != nil {
			e.onSuccess(result)
		}
		return
	}

	q.mu.Lock()
	if q.destroyed || !q.contains(e) {
		e.inFlight = false
		q.mu.Unlock()
		return
	}
	e.action.RetryCount++
	retryCount := e.action.RetryCount
	if retryCount >= e.action.MaxRetries {
		// inFlight stays set until settle removes the entry, closing
		// the window where a racing drain could re-attempt it.
		q.mu.Unlock()
		if !q.settle(ctx, e, "exhausted") {
			return
		}
		q.logger.Warn("action failed permanently",
			"action", action.Name, "id", action.ID, "retries", retryCount, "error", err)
		if e.onError != nil {
			e.onError(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retryCount, err))
		}
		return
	}

	delay := q.retryDelay(retryCount)
	e.inFlight = false
	e.timerSet = true
	e.timer = q.clock.AfterFunc(delay, func() {
		q.mu.Lock()
		e.timerSet = false
		dead := q.destroyed || !q.contains(e)
		q.mu.Unlock()
		if dead {
			return
		}
		q.attempt(context.Background(), e)
	})
	q.persistLocked(ctx)
	q.mu.Unlock()

	metrics.QueueRetriesTotal.Inc()
	q.logger.Info("action retry scheduled",
		"action", action.Name, "id", action.ID, "attempt", retryCount, "delay", delay, "error", err)
}

// settle removes an entry and records its terminal outcome. It reports
// whether this caller actually removed the entry; callbacks fire only
// for the caller that won the removal.
func (q *Queue) settle(ctx context.Context, e *entry, outcome string) bool {
	q.mu.Lock()
	removed := false
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		q.mu.Unlock()
		return false
	}
	if e.timerSet {
		e.timer.Stop()
		e.timerSet = false
	}
	e.inFlight = false
	metrics.QueueDepth.Set(float64(len(q.entries)))
	q.persistLocked(ctx)
	q.mu.Unlock()

	metrics.QueueOutcomesTotal.WithLabelValues(outcome).Inc()
	return true
}

// Len reports the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the queued actions, oldest first.
func (q *Queue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.action
	}
	return out
}

// Destroy cancels all retry timers and drops pending actions from
// memory. The persisted snapshot is left intact for the next start.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.destroyed = true
	for _, e := range q.entries {
		if e.timerSet {
			e.timer.Stop()
			e.timerSet = false
		}
	}
	q.entries = nil
}

func (q *Queue) contains(e *entry) bool {
	for _, cur := range q.entries {
		if cur == e {
			return true
		}
	}
	return false
}

func (q *Queue) retryDelay(retryCount int) time.Duration {
	delay := float64(q.cfg.RetryDelay)
	for i := 1; i < retryCount; i++ {
		delay *= q.cfg.BackoffMultiplier
	}
	return time.Duration(delay)
}

// persistLocked writes the snapshot synchronously. A store failure is
// logged, not propagated; the in-memory queue stays authoritative.
func (q *Queue) persistLocked(ctx context.Context) {
	actions := make([]Action, len(q.entries))
	for i, e := range q.entries {
		actions[i] = e.action
	}
	if err := q.store.Save(ctx, actions); err != nil {
		q.logger.Error("persisting queue snapshot failed", "error", err)
	}
}
