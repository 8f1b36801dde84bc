package middleware

import (
	"context"
	"sync"
	"time"
)

// MemoryBanStore - баны одного процесса, когда Redis не настроен.
type MemoryBanStore struct {
	mu    sync.Mutex
	until map[int64]time.Time
	now   func() time.Time
}

func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{until: make(map[int64]time.Time), now: time.Now}
}

// Ban не продлевает действующий бан.
func (s *MemoryBanStore) Ban(_ context.Context, userID int64, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Before(s.until[userID]) {
		return nil
	}
	s.until[userID] = now.Add(d)
	return nil
}

// BannedFor - остаток бана, 0 если бана нет.
func (s *MemoryBanStore) BannedFor(_ context.Context, userID int64) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.until[userID]
	if !ok {
		return 0, nil
	}
	if left := until.Sub(s.now()); left > 0 {
		return left, nil
	}
	delete(s.until, userID)
	return 0, nil
}

func (s *MemoryBanStore) Unban(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.until, userID)
	s.mu.Unlock()
	return nil
}
