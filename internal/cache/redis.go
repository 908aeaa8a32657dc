// Package cache holds beacon's caching and persistence adapters: the
// in-memory cache of compiled message definitions and the Redis store that
// keeps trigger values across restarts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/beacon/internal/logger"
	"github.com/rafaeljc/beacon/internal/trigger"
)

// Service persists snapshots of the trigger value store.
type Service interface {
	// SaveSnapshot replaces the persisted values with values.
	SaveSnapshot(ctx context.Context, values map[string]trigger.Value) error

	// LoadSnapshot returns the persisted values.
	LoadSnapshot(ctx context.Context) (map[string]trigger.Value, error)

	// HealthCheck pings the redis server to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// RedisValueStore keeps trigger values in a single Redis hash, one field per
// key, each field holding the JSON encoding of the value.
type RedisValueStore struct {
	client *redis.Client
	key    string
}

var _ Service = (*RedisValueStore)(nil)

// NewRedisValueStore wraps client. key names the hash, see
// config.RedisConfig.SnapshotKey.
func NewRedisValueStore(client *redis.Client, key string) *RedisValueStore {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisValueStore{client: client, key: key}
}

// Key returns the name of the hash.
func (s *RedisValueStore) Key() string {
	return s.key
}

// SaveSnapshot replaces the hash in one MULTI/EXEC so readers never observe
// a half-written snapshot.
func (s *RedisValueStore) SaveSnapshot(ctx context.Context, values map[string]trigger.Value) error {
	fields, err := encodeValues(values)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save trigger snapshot %q: %w", s.key, err)
	}
	return nil
}

// LoadSnapshot reads the hash back. Fields that no longer decode are
// skipped and logged; they will be dropped by the next save.
func (s *RedisValueStore) LoadSnapshot(ctx context.Context) (map[string]trigger.Value, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger snapshot %q: %w", s.key, err)
	}

	values, err := decodeValues(raw)
	if err != nil {
		logger.FromContext(ctx).Warn("skipping corrupt trigger values",
			slog.String("key", s.key),
			slog.Any("error", err),
		)
	}
	return values, nil
}

// HealthCheck verifies the connection to the Redis server.
func (s *RedisValueStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisValueStore) Close() error {
	return s.client.Close()
}

func encodeValues(values map[string]trigger.Value) (map[string]any, error) {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode trigger %q: %w", k, err)
		}
		fields[k] = string(b)
	}
	return fields, nil
}

// decodeValues returns every field that decodes, plus the joined errors of
// those that did not.
func decodeValues(raw map[string]string) (map[string]trigger.Value, error) {
	values := make(map[string]trigger.Value, len(raw))
	var errs []error
	for k, s := range raw {
		var v trigger.Value
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", k, err))
			continue
		}
		values[k] = v
	}
	return values, errors.Join(errs...)
}
