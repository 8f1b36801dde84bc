package postgres

import (
	"context"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// GetAll returns completed modules of the user.
func (r *ProgressRepository) GetAll(ctx context.Context, id shared.UserID) (progress.CompletedSet, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT module_id, completed, completed_at
		FROM module_progress
		WHERE user_id = $1
	`

	rows, err := r.conn.Query(ctx, query, id.Int64())
	if err != nil {
		return nil, shared.StorageError("progress", "GetAll", err)
	}
	defer rows.Close()

	var result []progress.ModuleProgress
	for rows.Next() {
		var (
			module      int
			completed   bool
			completedAt *time.Time
		)
		if err := rows.Scan(&module, &completed, &completedAt); err != nil {
			return nil, shared.StorageError("progress", "GetAll", err)
		}
		result = append(result, progress.ModuleProgress{
			UserID:      id,
			ModuleID:    shared.ModuleID(module),
			Completed:   completed,
			CompletedAt: completedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("progress", "GetAll", err)
	}

	return progress.FromRows(result), nil
}

// Mark upserts the (user, module) row.
func (r *ProgressRepository) Mark(ctx context.Context, id shared.UserID, module shared.ModuleID, completed bool) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var completedAt *time.Time
	if completed {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		INSERT INTO module_progress (user_id, module_id, completed, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, module_id) DO UPDATE SET
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := r.conn.Exec(ctx, query, id.Int64(), module.Int(), completed, completedAt); err != nil {
		return shared.StorageError("progress", "Mark", err)
	}
	return nil
}
