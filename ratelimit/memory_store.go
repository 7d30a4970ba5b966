package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore keeps throttle state in process memory. Suitable for
// tests and single-instance deployments.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	return state, ok, nil
}

func (s *MemoryStateStore) Put(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key] = state
	return nil
}

func (s *MemoryStateStore) PurgeStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, state := range s.states {
		if state.LastAt.Before(olderThan) {
			delete(s.states, key)
			purged++
		}
	}
	return purged, nil
}
