package testsupport

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/beacon/internal/cache"
	"github.com/rafaeljc/beacon/internal/config"
)

// RedisContainer holds references to the ephemeral Redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	Config    *config.RedisConfig
	Client    *goredis.Client
	// Store persists trigger values under Config.SnapshotKey().
	Store *cache.RedisValueStore
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	c.Store.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer spins up a Redis 7-alpine container and connects a
// value store to it.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := redisContainer.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}
	host, port, _ := strings.Cut(endpoint, ":")

	testCfg := &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       4,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
		KeyPrefix:      "beacon-test",
		Profile:        "default",
	}
	client, err := cache.NewRedisClient(ctx, testCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: redisContainer,
		Config:    testCfg,
		Client:    client,
		Store:     cache.NewRedisValueStore(client, testCfg.SnapshotKey()),
	}, nil
}
