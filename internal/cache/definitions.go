package cache

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/maypok86/otter"
	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/trigger"
)

// DefinitionCache keeps compiled messages keyed by the hash of their raw
// definition, so a refreshed message set only compiles what changed.
// Compiled messages are immutable and safe to share.
type DefinitionCache struct {
	store otter.Cache[string, *trigger.Message]
}

// NewDefinitionCache builds the cache with a hard capacity and a TTL.
func NewDefinitionCache(capacity int, ttl time.Duration) (*DefinitionCache, error) {
	store, err := otter.MustBuilder[string, *trigger.Message](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &DefinitionCache{store: store}, nil
}

// DefinitionKey returns the 128-bit murmur3 hash of raw as hex.
func DefinitionKey(raw []byte) string {
	h1, h2 := murmur3.Sum128(raw)

	var sum [16]byte
	binary.BigEndian.PutUint64(sum[:8], h1)
	binary.BigEndian.PutUint64(sum[8:], h2)
	return hex.EncodeToString(sum[:])
}

// Get returns the compiled message cached under key.
func (c *DefinitionCache) Get(key string) (*trigger.Message, bool) {
	m, ok := c.store.Get(key)
	if ok {
		observability.DefinitionCacheHits.Inc()
	} else {
		observability.DefinitionCacheMisses.Inc()
	}
	return m, ok
}

// Set stores m under key.
func (c *DefinitionCache) Set(key string, m *trigger.Message) {
	c.store.Set(key, m)
}

// CompileMessage returns the cached message for raw, compiling and caching
// it on a miss. Invalid definitions are never cached.
func (c *DefinitionCache) CompileMessage(raw []byte) (*trigger.Message, error) {
	key := DefinitionKey(raw)
	if m, ok := c.Get(key); ok {
		return m, nil
	}

	m, err := trigger.CompileMessage(raw)
	if err != nil {
		return nil, err
	}
	c.Set(key, m)
	return m, nil
}

// Len returns the number of cached definitions.
func (c *DefinitionCache) Len() int {
	return c.store.Size()
}

// Close stops the cache background goroutines.
func (c *DefinitionCache) Close() {
	c.store.Close()
}
