package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"meetingalert/internal/types"
)

// RedisClient is the subset of redis.UniversalClient used by RedisStore.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisStore keeps the table in one hash, alert id to JSON record. Each save
// replaces the hash inside MULTI/EXEC so readers never see a partial table.
type RedisStore struct {
	client RedisClient
	key    string
}

// NewRedisStore returns a RedisStore writing to key.
func NewRedisStore(client RedisClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// NewRedisClient builds a client for a single node, or a cluster client when
// more than one address is given.
func NewRedisClient(addrs []string, password string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
}

func (s *RedisStore) Save(ctx context.Context, alerts []types.ScheduledAlert) error {
	fields := make(map[string]any, len(alerts))
	for _, a := range alerts {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("store: failed to marshal alert %s: %w", a.ID, err)
		}
		fields[a.ID] = string(raw)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: failed to replace redis hash %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]types.ScheduledAlert, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read redis hash %s: %w", s.key, err)
	}

	alerts := make([]types.ScheduledAlert, 0, len(fields))
	for id, raw := range fields {
		var a types.ScheduledAlert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("store: corrupt alert %s in %s: %w", id, s.key, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
