package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	count       int64
	windowStart time.Time
}

// MemoryStore is the in-process default counter store. All mutations happen
// under one mutex, so concurrent requests for the same key cannot lose
// increments.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*windowState)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Window, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.windows[key]
	if !ok || now.Sub(state.windowStart) > window {
		state = &windowState{windowStart: now}
		s.windows[key] = state
	}
	state.count++

	return Window{Count: state.count, WindowStart: state.windowStart}, nil
}

// Sweep drops windows idle for longer than maxAge. Called periodically so
// the map does not grow with one entry per user forever.
func (s *MemoryStore) Sweep(maxAge time.Duration) {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, state := range s.windows {
		if state.windowStart.Before(cutoff) {
			delete(s.windows, key)
		}
	}
}
