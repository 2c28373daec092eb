package queue

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const defaultStorageKey = "lobby:offline_queue"

// RedisStore persists the queue snapshot as one JSON value under a
// configurable storage key.
type RedisStore struct {
	rdb *goredis.Client
	key string
}

func NewRedisStore(rdb *goredis.Client, storageKey string) *RedisStore {
	if storageKey == "" {
		storageKey = defaultStorageKey
	}
	return &RedisStore{rdb: rdb, key: storageKey}
}

func (s *RedisStore) Save(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("failed to clear queue snapshot: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal queue snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save queue snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]Action, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}

	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	return actions, nil
}
