package progress

import (
	"context"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Repository хранит прогресс по модулям.
type Repository interface {
	// GetAll возвращает множество завершённых модулей пользователя.
	GetAll(ctx context.Context, id shared.UserID) (CompletedSet, error)

	// Mark выполняет upsert по (user, module). При completed=true время
	// завершения каждый раз перезаписывается текущим; при false - очищается.
	Mark(ctx context.Context, id shared.UserID, module shared.ModuleID, completed bool) error
}
