package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// StateStore implements conversation.StateStore on Redis.
// Состояние хранится JSON-ом под ключом conversation:{user_id}.
type StateStore struct {
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStateStore creates a state store. ttl=0 keeps states until cleared.
func NewStateStore(cache *Cache, ttl time.Duration, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{cache: cache, ttl: ttl, logger: logger}
}

// Load returns the stored state or Idle when absent.
// Повреждённое значение удаляется и считается Idle.
func (s *StateStore) Load(ctx context.Context, id shared.UserID) (conversation.State, error) {
	key := ConversationKey(id.Int64())

	var st conversation.State
	err := s.cache.Get(ctx, key, &st)
	switch {
	case err == nil:
		if !st.Mode.IsValid() {
			return conversation.Idle(), nil
		}
		return st, nil
	case errors.Is(err, ErrCacheMiss):
		return conversation.Idle(), nil
	case errors.Is(err, ErrCacheSerialization):
		s.logger.Warn("dropping corrupt conversation state", "user_id", id, "error", err)
		_ = s.cache.Delete(ctx, key)
		return conversation.Idle(), nil
	default:
		return conversation.State{}, shared.WrapError("conversation", "LoadState", shared.ErrStorage, "redis get failed", err)
	}
}

// Save stores the state.
func (s *StateStore) Save(ctx context.Context, id shared.UserID, st conversation.State) error {
	if err := s.cache.Set(ctx, ConversationKey(id.Int64()), st, s.ttl); err != nil {
		return shared.WrapError("conversation", "SaveState", shared.ErrStorage, "redis set failed", err)
	}
	return nil
}

// Clear removes the state.
func (s *StateStore) Clear(ctx context.Context, id shared.UserID) error {
	if err := s.cache.Delete(ctx, ConversationKey(id.Int64())); err != nil {
		return shared.WrapError("conversation", "ClearState", shared.ErrStorage, "redis del failed", err)
	}
	return nil
}
