// Package store holds the trigger value store: the key-value context that
// supplies the left-hand side of every trigger comparison.
package store

import (
	"maps"
	"slices"
	"sync"

	"github.com/rafaeljc/beacon/internal/trigger"
)

// ChangeFunc is notified after a mutation with the keys it touched.
type ChangeFunc func(keys []string)

// Values is the trigger value store.
// Absence of a key is distinct from a key holding trigger.Null().
// All methods are safe for concurrent use; change listeners run on the
// caller's goroutine after the lock is released.
type Values struct {
	mu        sync.RWMutex
	values    map[string]trigger.Value
	version   uint64
	listeners []ChangeFunc
}

// New creates an empty store.
func New() *Values {
	return &Values{values: make(map[string]trigger.Value)}
}

// OnChange registers fn to be called after every effective mutation.
func (s *Values) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set inserts or overwrites the value for key.
func (s *Values) Set(key string, v trigger.Value) {
	s.mu.Lock()
	s.values[key] = v
	s.version++
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, []string{key})
}

// SetMany applies every entry as if Set was called sequentially, then
// notifies listeners once with all keys.
func (s *Values) SetMany(values map[string]trigger.Value) {
	if len(values) == 0 {
		return
	}

	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	s.version++
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, slices.Sorted(maps.Keys(values)))
}

// Remove deletes key. Removing an absent key is a no-op and notifies nobody.
func (s *Values) Remove(key string) {
	s.RemoveMany(key)
}

// RemoveMany deletes every present key and notifies listeners once with the
// keys that were actually removed.
func (s *Values) RemoveMany(keys ...string) {
	s.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		s.version++
	}
	listeners := s.listeners
	s.mu.Unlock()

	if len(removed) > 0 {
		notify(listeners, removed)
	}
}

// Get returns the value for key and whether it is present.
func (s *Values) Get(key string) (trigger.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of stored keys.
func (s *Values) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a copy of the store contents with the version it was taken at.
func (s *Values) Snapshot() (map[string]trigger.Value, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values), s.version
}

// Version increases on every effective mutation.
func (s *Values) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Reset drops every key. It is the explicit session reset.
func (s *Values) Reset() {
	s.mu.Lock()
	if len(s.values) == 0 {
		s.mu.Unlock()
		return
	}
	keys := slices.Sorted(maps.Keys(s.values))
	clear(s.values)
	s.version++
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, keys)
}

func notify(listeners []ChangeFunc, keys []string) {
	for _, fn := range listeners {
		fn(keys)
	}
}
