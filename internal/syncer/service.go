// Package syncer persists the trigger value store to Redis in the
// background, so trigger values survive a restart of the host process.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/beacon/internal/cache"
	"github.com/rafaeljc/beacon/internal/config"
	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/trigger"
	"github.com/rafaeljc/beacon/internal/validation"
)

// ValueStore is the part of store.Values the syncer needs.
type ValueStore interface {
	Snapshot() (map[string]trigger.Value, uint64)
	SetMany(values map[string]trigger.Value)
	Version() uint64
}

// Service writes a snapshot of the store whenever its version moved.
type Service struct {
	logger *slog.Logger
	config config.SyncerConfig
	values ValueStore
	cache  cache.Service

	mu          sync.Mutex
	synced      bool
	lastVersion uint64
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg config.SyncerConfig, values ValueStore, cacheSvc cache.Service) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(values, "syncer: value store")
	validation.AssertPresent(cacheSvc, "syncer: cache service")

	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = cfg.Interval
	}

	return &Service{
		logger: logger,
		config: cfg,
		values: values,
		cache:  cacheSvc,
	}
}

// Restore loads the persisted values into the store with a single batch
// update. It is meant to run before the controller receives messages.
func (s *Service) Restore(ctx context.Context) error {
	values, err := s.cache.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("restore trigger values: %w", err)
	}

	if len(values) > 0 {
		s.values.SetMany(values)
	}

	s.mu.Lock()
	s.synced = true
	s.lastVersion = s.values.Version()
	s.mu.Unlock()

	s.logger.Info("trigger values restored", slog.Int("count", len(values)))
	return nil
}

// Run starts the flush loop. It blocks until the context is cancelled and
// then writes a final snapshot.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			// The parent is done; the last write gets its own deadline.
			if _, err := s.Flush(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil {
				// Retried on the next tick.
				s.logger.Error("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes the current snapshot unless the store is unchanged since the
// last successful write. It reports whether a write happened.
func (s *Service) Flush(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, version := s.values.Snapshot()
	if s.synced && version == s.lastVersion {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()

	start := time.Now()
	err := s.cache.SaveSnapshot(ctx, values)
	observability.SyncerFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SyncerFlushes.WithLabelValues("fail").Inc()
		return false, err
	}
	observability.SyncerFlushes.WithLabelValues("success").Inc()

	s.synced = true
	s.lastVersion = version

	s.logger.Debug("trigger values flushed",
		slog.Int("count", len(values)),
		slog.Uint64("version", version),
		slog.Duration("duration", time.Since(start)),
	)
	return true, nil
}
