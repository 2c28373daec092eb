package queue

import (
	"context"
	"sync"
)

// Store persists the queue's serializable snapshot. Save replaces the
// whole snapshot; Load returns it (empty, not an error, when nothing
// was ever saved).
type Store interface {
	Save(ctx context.Context, actions []Action) error
	Load(ctx context.Context) ([]Action, error)
}

// MemoryStore keeps the snapshot in process memory. It backs sessions
// that opt out of persistence, and tests.
type MemoryStore struct {
	mu      sync.Mutex
	actions []Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, actions []Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = make([]Action, len(actions))
	copy(s.actions, actions)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out, nil
}
