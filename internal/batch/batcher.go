// Package batch coalesces inbound wire events into ordered batches.
//
// Events are buffered until either the flush interval elapses or the
// batch reaches its maximum size, whichever comes first. The whole
// pending list is handed to the batch handler in FIFO order.
package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/metrics"
)

const (
	defaultFlushInterval = 100 * time.Millisecond
	defaultMaxBatchSize  = 50
	defaultMaxPending    = 1000
)

// ErrOverflow reports that the pending buffer exceeded its hard cap and
// oldest entries were dropped.
var ErrOverflow = errors.New("pending buffer overflow")

// Config configures a Batcher.
type Config struct {
	// FlushInterval is the time window before a scheduled flush fires.
	FlushInterval time.Duration
	// MaxBatchSize triggers an immediate flush, cancelling the timer.
	MaxBatchSize int
	// MaxPending is the hard cap on buffered events. When exceeded,
	// oldest entries are dropped and counted, never silently lost.
	MaxPending int
	// OnBatch receives each flushed batch in FIFO order. It must not
	// call back into the Batcher.
	OnBatch func([]lobby.Event)
	// OnError receives capacity faults such as buffer overflow.
	OnError func(error)
}

// Stats are the cumulative batching counters.
type Stats struct {
	Messages uint64
	Batches  uint64
	Dropped  uint64
}

// AvgBatchSize is messages delivered per flushed batch.
func (s Stats) AvgBatchSize() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Messages-s.Dropped) / float64(s.Batches)
}

// Batcher accumulates events and flushes them on a time or size window.
type Batcher struct {
	mu        sync.Mutex
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	pending   []lobby.Event
	timer     clockwork.Timer
	timerSet  bool
	destroyed bool
	stats     Stats
}

// New creates a Batcher. Zero config fields fall back to defaults.
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Batcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{cfg: cfg, clock: clock, logger: logger}
}

// Add appends an event to the pending buffer. The first event of a
// window schedules a flush after the configured interval; reaching
// MaxBatchSize flushes immediately and cancels the timer.
func (b *Batcher) Add(ev lobby.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		// Torn-down instance; late adds are safe no-ops.
		return
	}

	b.pending = append(b.pending, ev)
	b.stats.Messages++
	metrics.BatcherMessagesTotal.Inc()

	if overflow := len(b.pending) - b.cfg.MaxPending; overflow > 0 {
		b.pending = b.pending[overflow:]
		b.stats.Dropped += uint64(overflow)
		metrics.BatcherDroppedTotal.Add(float64(overflow))
		b.logger.Warn("batch buffer overflow, dropping oldest events", "dropped", overflow, "cap", b.cfg.MaxPending)
		if b.cfg.OnError != nil {
			b.cfg.OnError(fmt.Errorf("%w: dropped %d events", ErrOverflow, overflow))
		}
	}

	if len(b.pending) >= b.cfg.MaxBatchSize {
		// Size trigger wins over the timer.
		b.cancelTimerLocked()
		b.flushLocked()
		return
	}

	if !b.timerSet {
		b.timerSet = true
		b.timer = b.clock.AfterFunc(b.cfg.FlushInterval, b.onTimer)
	}
}

// Flush hands any pending events to the handler immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.flushLocked()
}

// Destroy flushes pending events synchronously and releases the timer.
// No batch is ever discarded on shutdown. Further Adds are no-ops.
func (b *Batcher) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.cancelTimerLocked()
	b.flushLocked()
	b.destroyed = true
}

// Pending returns the current buffered event count.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns the cumulative batching counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Batcher) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed || !b.timerSet {
		// Cancelled or torn down between fire and lock acquisition.
		return
	}
	b.timerSet = false
	b.flushLocked()
}

func (b *Batcher) cancelTimerLocked() {
	if b.timerSet {
		b.timer.Stop()
		b.timerSet = false
	}
}

// flushLocked hands the entire pending list to the handler in FIFO
// order and clears it. Caller holds b.mu; the handler runs under the
// lock, which is what serializes batch delivery order.
func (b *Batcher) flushLocked() {
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.stats.Batches++
	metrics.BatcherBatchesTotal.Inc()
	metrics.BatcherBatchSize.Observe(float64(len(batch)))

	if b.cfg.OnBatch != nil {
		b.cfg.OnBatch(batch)
	}
}
