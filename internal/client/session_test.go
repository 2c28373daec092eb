package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/queue"
	"github.com/mhoffm/lobbysync/internal/views"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []actionFrame
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v.(actionFrame))
	return nil
}

func (f *fakeSender) sentFrames() []actionFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]actionFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestSession(t *testing.T, sender *fakeSender) *Session {
	t.Helper()
	s := New(Config{}, nil, queue.NewMemoryStore(), clockwork.NewFakeClock(), nil)
	t.Cleanup(s.Close)
	if sender != nil {
		s.sender = sender
	}
	return s
}

func TestSession_JoinTableSendsDirectlyWhenConnected(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(t, sender)

	var succeeded bool
	err := s.JoinTable(context.Background(), "t1", 200, queue.EnqueueOptions{
		OnSuccess: func(any) { succeeded = true },
	})
	require.NoError(t, err)

	assert.True(t, succeeded)
	assert.Equal(t, 0, s.QueueDepth())

	frames := sender.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, "join_table", frames[0].Action)
	assert.JSONEq(t, `{"tableId":"t1","buyIn":200}`, string(frames[0].Payload))
}

func TestSession_JoinTableQueuesWhenSendFails(t *testing.T) {
	sender := &fakeSender{err: errors.New("socket closed")}
	s := newTestSession(t, sender)

	require.NoError(t, s.JoinTable(context.Background(), "t1", 200, queue.EnqueueOptions{}))
	assert.Equal(t, 1, s.QueueDepth())
}

func TestSession_JoinWaitlistQueuesWhenSendFails(t *testing.T) {
	sender := &fakeSender{err: errors.New("socket closed")}
	s := newTestSession(t, sender)

	require.NoError(t, s.JoinWaitlist(context.Background(), "t9", queue.EnqueueOptions{}))
	require.Equal(t, 1, s.QueueDepth())
	assert.Equal(t, "join_waitlist", s.queue.Pending()[0].Name)
}

func TestSession_DrainQueueDeliversPendingActions(t *testing.T) {
	sender := &fakeSender{err: errors.New("socket closed")}
	s := newTestSession(t, sender)
	ctx := context.Background()

	require.NoError(t, s.JoinTable(ctx, "t1", 100, queue.EnqueueOptions{}))
	require.NoError(t, s.JoinWaitlist(ctx, "t2", queue.EnqueueOptions{}))
	require.Equal(t, 2, s.QueueDepth())

	// Connectivity restored.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	s.DrainQueue(ctx)
	assert.Equal(t, 0, s.QueueDepth())

	frames := sender.sentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "join_table", frames[0].Action)
	assert.Equal(t, "join_waitlist", frames[1].Action)
}

func TestSession_BatchedEventsReachDerivedViews(t *testing.T) {
	var deltas []lobby.Delta
	s := New(Config{
		OnChange: func(d lobby.Delta) { deltas = append(deltas, d) },
	}, nil, queue.NewMemoryStore(), clockwork.NewFakeClock(), nil)
	t.Cleanup(s.Close)

	s.batcher.Add(mustEvent(t, lobby.EventTableAdded, lobby.Table{ID: "t1", Name: "Rio", Capacity: 6, Players: 4}))
	s.batcher.Add(mustEvent(t, lobby.EventTableAdded, lobby.Table{ID: "t2", Name: "Vegas", Capacity: 9, Players: 9}))
	s.batcher.Flush()

	require.Len(t, deltas, 1, "one merged batch produces one change-set")
	assert.True(t, deltas[0].TablesChanged)

	open := s.OpenSeats()
	require.Len(t, open, 1)
	assert.Equal(t, "t1", open[0].ID)

	tables := s.Tables(lobby.FilterCriteria{}, views.SortSpec{Column: views.SortByName})
	assert.Len(t, tables, 2)
}

func TestSession_SetFavoriteInvalidatesViews(t *testing.T) {
	s := newTestSession(t, nil)

	s.batcher.Add(mustEvent(t, lobby.EventTableAdded, lobby.Table{ID: "a", Name: "Alpha", Capacity: 6}))
	s.batcher.Add(mustEvent(t, lobby.EventTableAdded, lobby.Table{ID: "b", Name: "Beta", Capacity: 6}))
	s.batcher.Flush()

	require.True(t, s.SetFavorite("b", true))

	tables := s.Tables(lobby.FilterCriteria{}, views.SortSpec{Column: views.SortByName})
	require.Len(t, tables, 2)
	assert.Equal(t, "b", tables[0].ID, "favorites sort first regardless of column")
}

func mustEvent(t *testing.T, typ lobby.EventType, payload any) lobby.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return lobby.Event{Type: typ, Payload: raw}
}
