package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports whether the trigger value snapshot can be read and
// written: Redis answers and the snapshot key, if present, is a hash.
type HealthChecker struct {
	client redis.UniversalClient
	key    string
}

// NewHealthChecker checks client and the snapshot stored under key.
func NewHealthChecker(client redis.UniversalClient, key string) *HealthChecker {
	return &HealthChecker{client: client, key: key}
}

// Name implements observability.Checker.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check implements observability.Checker.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	if err := h.client.Ping(ctx).Err(); err != nil {
		return err
	}

	kind, err := h.client.Type(ctx, h.key).Result()
	if err != nil {
		return err
	}
	// "none" until the first flush.
	if kind != "none" && kind != "hash" {
		return fmt.Errorf("snapshot key %q holds a %s, want a hash", h.key, kind)
	}
	return nil
}
