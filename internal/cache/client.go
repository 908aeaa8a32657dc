package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/beacon/internal/config"
	"github.com/rafaeljc/beacon/internal/logger"
)

const defaultPingTimeout = 5 * time.Second

// NewRedisClient connects to the Redis that persists trigger values. It
// retries the initial ping with exponential backoff so beacon can start
// alongside its Redis.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opts := &redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}

	// Configure TLS if enabled
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts.Addr = parsed.Addr
		opts.Username = parsed.Username
		opts.Password = parsed.Password
		opts.DB = parsed.DB
		opts.TLSConfig = parsed.TLSConfig
	}

	client := redis.NewClient(opts)

	maxRetries := cfg.PingMaxRetries
	backoff := cfg.PingBackoff
	if maxRetries < 1 {
		maxRetries = 1
	}
	timeout := backoff * ((2 << (maxRetries - 1)) - 1)
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	var lastErr error
	log := logger.FromContext(ctx).With(slog.String("addr", opts.Addr))

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Info("redis ping attempt", slog.Int("attempt", attempt), slog.Int("max_retries", maxRetries))

		initCtx, cancel := context.WithTimeout(ctx, timeout)
		pingErr := client.Ping(initCtx).Err()
		cancel()

		if pingErr == nil {
			log.Info("redis ping successful", slog.Int("attempt", attempt))
			return client, nil
		}

		if ctx.Err() != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping aborted: %w", ctx.Err())
		}

		log.Warn("redis ping failed", slog.Int("attempt", attempt), slog.Any("error", pingErr))
		lastErr = pingErr
		if attempt < maxRetries {
			log.Info("redis waiting before next attempt", slog.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				client.Close()
				return nil, fmt.Errorf("redis ping aborted: %w", ctx.Err())
			}
			backoff *= 2
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d retries: %w", maxRetries, lastErr)
}
