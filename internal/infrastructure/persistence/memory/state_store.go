package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// StateStore implements conversation.StateStore.
type StateStore struct {
	mu     sync.RWMutex
	states map[shared.UserID]conversation.State
	writes int
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[shared.UserID]conversation.State)}
}

// Load returns the stored state or Idle.
func (s *StateStore) Load(_ context.Context, id shared.UserID) (conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return conversation.Idle(), nil
	}
	return st, nil
}

// Save stores the state.
func (s *StateStore) Save(_ context.Context, id shared.UserID, state conversation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id] = state
	s.writes++
	return nil
}

// Clear removes the state.
func (s *StateStore) Clear(_ context.Context, id shared.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, id)
	s.writes++
	return nil
}

// Writes returns how many Save/Clear calls were made.
func (s *StateStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
