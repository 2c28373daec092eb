package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeRecorder struct {
	mu        sync.Mutex
	successes []any
	errors    []error
}

func (r *outcomeRecorder) onSuccess(result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, result)
}

func (r *outcomeRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *outcomeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.errors)
}

func newTestQueue(cfg Config, clock clockwork.Clock) (*Queue, *MemoryStore) {
	store := NewMemoryStore()
	return New(cfg, store, clock, nil), store
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	q, _ := newTestQueue(Config{MaxQueueSize: 2}, clockwork.NewFakeClock())
	rec := &outcomeRecorder{}
	ctx := context.Background()

	q.Enqueue(ctx, "join_table", json.RawMessage(`{"tableId":"t1"}`), EnqueueOptions{OnError: rec.onError})
	q.Enqueue(ctx, "join_table", json.RawMessage(`{"tableId":"t2"}`), EnqueueOptions{OnError: rec.onError})
	q.Enqueue(ctx, "join_table", json.RawMessage(`{"tableId":"t3"}`), EnqueueOptions{OnError: rec.onError})

	assert.Equal(t, 2, q.Len(), "third enqueue must be rejected, not accepted and dropped")
	_, errs := rec.counts()
	require.Equal(t, 1, errs)
	rec.mu.Lock()
	assert.ErrorIs(t, rec.errors[0], ErrQueueFull)
	rec.mu.Unlock()
}

func TestQueue_SuccessDequeuesAndFiresOnSuccess(t *testing.T) {
	q, store := newTestQueue(Config{}, clockwork.NewFakeClock())
	rec := &outcomeRecorder{}
	ctx := context.Background()

	q.Enqueue(ctx, "join_waitlist", json.RawMessage(`{"tableId":"t1"}`), EnqueueOptions{OnSuccess: rec.onSuccess})

	q.ProcessQueue(ctx, func(_ context.Context, a Action) (any, error) {
		assert.Equal(t, "join_waitlist", a.Name)
		return "seated", nil
	})

	succ, errs := rec.counts()
	assert.Equal(t, 1, succ)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, "seated", rec.successes[0])

	// The emptied queue's snapshot is persisted too.
	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestQueue_SucceedsOnSecondAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q, _ := newTestQueue(Config{RetryDelay: time.Second, BackoffMultiplier: 2}, clock)
	rec := &outcomeRecorder{}
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	handler := func(_ context.Context, _ Action) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("send failed")
		}
		return "ok", nil
	}

	q.Enqueue(ctx, "join_table", json.RawMessage(`{}`), EnqueueOptions{
		OnSuccess: rec.onSuccess,
		OnError:   rec.onError,
	})
	q.ProcessQueue(ctx, handler)
	assert.Equal(t, 1, q.Len(), "failed action stays queued awaiting retry")

	// First retry fires retryDelay later.
	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)
	succ, errs := rec.counts()
	assert.Equal(t, 1, succ, "onSuccess fires exactly once")
	assert.Equal(t, 0, errs)
}

func TestQueue_ExhaustedRetriesFireOnErrorOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q, _ := newTestQueue(Config{RetryDelay: time.Second, BackoffMultiplier: 2}, clock)
	rec := &outcomeRecorder{}
	ctx := context.Background()

	sendErr := errors.New("still offline")
	handler := func(_ context.Context, _ Action) (any, error) { return nil, sendErr }

	q.Enqueue(ctx, "join_table", json.RawMessage(`{}`), EnqueueOptions{
		MaxRetries: 3,
		OnSuccess:  rec.onSuccess,
		OnError:    rec.onError,
	})
	q.ProcessQueue(ctx, handler)

	// Attempt 1 failed synchronously; retries 2 and 3 fire off timers
	// with delays 1s and 2s.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)
	succ, errs := rec.counts()
	assert.Equal(t, 0, succ)
	require.Equal(t, 1, errs, "onError fires exactly once on exhaustion")
	rec.mu.Lock()
	assert.ErrorIs(t, rec.errors[0], ErrRetriesExhausted)
	assert.ErrorIs(t, rec.errors[0], sendErr)
	rec.mu.Unlock()
}

func TestQueue_ProcessQueueIsReentrantSafe(t *testing.T) {
	q, _ := newTestQueue(Config{}, clockwork.NewFakeClock())
	ctx := context.Background()

	q.Enqueue(ctx, "join_table", json.RawMessage(`{}`), EnqueueOptions{})

	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	go q.ProcessQueue(ctx, func(_ context.Context, _ Action) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return nil, nil
	})

	<-started
	// A second drain while one is running must be a no-op.
	q.ProcessQueue(ctx, func(_ context.Context, _ Action) (any, error) {
		t.Error("concurrent ProcessQueue must not run the handler")
		return nil, nil
	})
	close(release)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestQueue_DrainsInFIFOOrder(t *testing.T) {
	q, _ := newTestQueue(Config{}, clockwork.NewFakeClock())
	ctx := context.Background()

	q.Enqueue(ctx, "first", json.RawMessage(`{}`), EnqueueOptions{})
	q.Enqueue(ctx, "second", json.RawMessage(`{}`), EnqueueOptions{})
	q.Enqueue(ctx, "third", json.RawMessage(`{}`), EnqueueOptions{})

	var order []string
	q.ProcessQueue(ctx, func(_ context.Context, a Action) (any, error) {
		order = append(order, a.Name)
		return nil, nil
	})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestQueue_PersistsEveryMutation(t *testing.T) {
	q, store := newTestQueue(Config{}, clockwork.NewFakeClock())
	ctx := context.Background()

	q.Enqueue(ctx, "join_table", json.RawMessage(`{"tableId":"t1","buyIn":200}`), EnqueueOptions{})

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "join_table", saved[0].Name)
	assert.NotEmpty(t, saved[0].ID)
	assert.Equal(t, 0, saved[0].RetryCount)

	// A failed attempt persists the bumped retry counter.
	q.ProcessQueue(ctx, func(_ context.Context, _ Action) (any, error) {
		return nil, errors.New("offline")
	})
	saved, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].RetryCount)
}

func TestQueue_RestoreLoadsSnapshotWithoutCallbacks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, []Action{
		{ID: "a1", Name: "join_table", Payload: json.RawMessage(`{"tableId":"t1"}`), MaxRetries: 3},
		{ID: "a2", Name: "join_waitlist", Payload: json.RawMessage(`{"tableId":"t2"}`), MaxRetries: 3},
	}))

	q := New(Config{}, store, clockwork.NewFakeClock(), nil)
	require.NoError(t, q.Restore(ctx))
	require.Equal(t, 2, q.Len())

	var names []string
	q.ProcessQueue(ctx, func(_ context.Context, a Action) (any, error) {
		names = append(names, a.Name)
		return nil, nil
	})
	assert.Equal(t, []string{"join_table", "join_waitlist"}, names)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DestroyCancelsRetryTimers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q, _ := newTestQueue(Config{RetryDelay: time.Second}, clock)
	ctx := context.Background()

	q.Enqueue(ctx, "join_table", json.RawMessage(`{}`), EnqueueOptions{})
	q.ProcessQueue(ctx, func(_ context.Context, _ Action) (any, error) {
		return nil, errors.New("offline")
	})

	q.Destroy()
	assert.Equal(t, 0, q.Len())

	// A fired timer after teardown must be a safe no-op.
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainRacingRetryAttemptsOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q, _ := newTestQueue(Config{RetryDelay: time.Second, BackoffMultiplier: 2}, clock)
	rec := &outcomeRecorder{}
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	handler := func(_ context.Context, _ Action) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("stream down")
		}
		started <- struct{}{}
		<-gate
		return "seated", nil
	}

	q.Enqueue(ctx, "join_table", json.RawMessage(`{"tableId":"t1"}`), EnqueueOptions{OnSuccess: rec.onSuccess})
	q.ProcessQueue(ctx, handler)

	// Fire the retry timer and park its handler on the gate.
	clock.BlockUntil(1)
	go clock.Advance(time.Second)
	<-started

	// A drain racing the in-flight retry must not run the handler again.
	q.ProcessQueue(ctx, handler)
	close(gate)

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	succ, errs := rec.counts()
	assert.Equal(t, 1, succ, "onSuccess must fire exactly once")
	assert.Equal(t, 0, errs)
	mu.Lock()
	assert.Equal(t, 2, attempts, "racing drain must not re-run the in-flight action")
	mu.Unlock()
}

func TestQueue_NilClockDefaultsToRealClock(t *testing.T) {
	q := New(Config{}, nil, nil, nil)
	ctx := context.Background()

	q.Enqueue(ctx, "join_table", json.RawMessage(`{}`), EnqueueOptions{})
	require.Equal(t, 1, q.Len())
	assert.False(t, q.Pending()[0].CreatedAt.IsZero())
}
