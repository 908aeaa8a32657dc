package config

import (
	"fmt"
	"time"
)

// SyncerConfig contains configuration for the trigger value persistence worker.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval between snapshot checks. A snapshot is written only when the
	// store changed since the last write.
	Interval time.Duration `envconfig:"INTERVAL" default:"5s" validate:"gt=0"`

	// FlushTimeout bounds a single snapshot write, including the final one on shutdown.
	FlushTimeout time.Duration `envconfig:"FLUSH_TIMEOUT" default:"3s" validate:"gt=0"`
}

// Validate checks that the flush fits in the interval. The syncer needs
// Redis, so an enabled syncer without it is simply not started.
func (c *SyncerConfig) Validate(redisConfigured bool) error {
	if !c.Enabled || !redisConfigured {
		return nil
	}
	if c.FlushTimeout > c.Interval {
		return fmt.Errorf("syncer flush_timeout (%s) cannot exceed interval (%s)", c.FlushTimeout, c.Interval)
	}
	return nil
}
