package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/beacon/internal/cache"
	"github.com/rafaeljc/beacon/internal/testsupport"
	"github.com/rafaeljc/beacon/internal/trigger"
)

const welcome = `{
	"id": "welcome", "content_id": "c-welcome", "max_display_time": 10,
	"triggers": [[{"id": "t1", "property": "os_session_duration", "operator": ">=", "value": 3}]]
}`

func newDefinitionCache(t *testing.T) *cache.DefinitionCache {
	t.Helper()

	c, err := cache.NewDefinitionCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDefinitionKey(t *testing.T) {
	t.Parallel()

	a := cache.DefinitionKey([]byte(welcome))

	assert.Len(t, a, 32)
	assert.Equal(t, a, cache.DefinitionKey([]byte(welcome)), "same bytes, same key")
	assert.NotEqual(t, a, cache.DefinitionKey([]byte(welcome+" ")), "any byte change yields a new key")
}

func TestDefinitionCache_CompileMessage(t *testing.T) {
	t.Parallel()

	t.Run("compiles once and reuses the result", func(t *testing.T) {
		t.Parallel()
		c := newDefinitionCache(t)

		first, err := c.CompileMessage([]byte(welcome))
		require.NoError(t, err)
		second, err := c.CompileMessage([]byte(welcome))
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, "welcome", first.ID)
	})

	t.Run("does not cache invalid definitions", func(t *testing.T) {
		t.Parallel()
		c := newDefinitionCache(t)
		raw := []byte(`{"id": "broken", "content_id": "c", "triggers": [[]]}`)

		_, err := c.CompileMessage(raw)
		require.ErrorIs(t, err, trigger.ErrInvalidDefinition)

		_, found := c.Get(cache.DefinitionKey(raw))
		assert.False(t, found)
	})
}

func TestDefinitionCache_Metrics(t *testing.T) {
	c := newDefinitionCache(t)

	t.Run("misses", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "beacon_cache_definition_misses_total", nil, 1, func() {
			_, found := c.Get("non-existent-key")
			assert.False(t, found)
		})
	})

	t.Run("hits", func(t *testing.T) {
		c.Set("welcome", &trigger.Message{ID: "welcome"})
		testsupport.AssertMetricDelta(t, "beacon_cache_definition_hits_total", nil, 1, func() {
			m, found := c.Get("welcome")
			assert.True(t, found)
			assert.Equal(t, "welcome", m.ID)
		})
	})
}
