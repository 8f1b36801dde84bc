package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

type progressKey struct {
	user   shared.UserID
	module shared.ModuleID
}

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	mu   sync.RWMutex
	rows map[progressKey]progress.ModuleProgress
	now  func() time.Time
}

// NewProgressRepository creates an empty repository.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{
		rows: make(map[progressKey]progress.ModuleProgress),
		now:  time.Now,
	}
}

// GetAll returns completed modules of the user.
func (r *ProgressRepository) GetAll(_ context.Context, id shared.UserID) (progress.CompletedSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(progress.CompletedSet)
	for k, row := range r.rows {
		if k.user == id && row.Completed && row.CompletedAt != nil {
			set[k.module] = *row.CompletedAt
		}
	}
	return set, nil
}

// Mark upserts the (user, module) row.
func (r *ProgressRepository) Mark(_ context.Context, id shared.UserID, module shared.ModuleID, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := progress.ModuleProgress{UserID: id, ModuleID: module, Completed: completed}
	if completed {
		at := r.now().UTC()
		row.CompletedAt = &at
	}
	r.rows[progressKey{user: id, module: module}] = row
	return nil
}

// Rows returns the number of stored rows for a user (completed or not).
func (r *ProgressRepository) Rows(id shared.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k := range r.rows {
		if k.user == id {
			n++
		}
	}
	return n
}
