package config

import (
	"fmt"
	"os"
	"time"
)

// EngineConfig tunes the trigger controller.
type EngineConfig struct {
	// QueueSize bounds the controller command queue.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"64" validate:"min=1"`

	// DefinitionCacheCapacity is the number of compiled message definitions
	// kept across message set refreshes.
	DefinitionCacheCapacity int           `envconfig:"DEFINITION_CACHE_CAPACITY" default:"1000" validate:"min=1"`
	DefinitionCacheTTL      time.Duration `envconfig:"DEFINITION_CACHE_TTL" default:"1h" validate:"gt=0"`

	// MessagesFile is a JSON array of message definitions loaded at startup.
	MessagesFile string `envconfig:"MESSAGES_FILE"`
}

// Validate checks that the messages file, when set, is readable.
func (c *EngineConfig) Validate() error {
	if c.MessagesFile == "" {
		return nil
	}
	info, err := os.Stat(c.MessagesFile)
	if err != nil {
		return fmt.Errorf("messages file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("messages file %q is a directory", c.MessagesFile)
	}
	return nil
}
