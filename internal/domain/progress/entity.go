// Package progress хранит отметки о прохождении модулей.
package progress

import (
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ModuleProgress - отметка (user, module). CompletedAt задан тогда и только
// тогда, когда Completed.
type ModuleProgress struct {
	UserID      shared.UserID
	ModuleID    shared.ModuleID
	Completed   bool
	CompletedAt *time.Time
}

// CompletedSet - завершённые модули пользователя и время завершения.
type CompletedSet map[shared.ModuleID]time.Time

// Has проверяет, завершён ли модуль.
func (s CompletedSet) Has(id shared.ModuleID) bool {
	_, ok := s[id]
	return ok
}

// FromRows собирает CompletedSet из строк хранилища.
func FromRows(rows []ModuleProgress) CompletedSet {
	set := make(CompletedSet, len(rows))
	for _, r := range rows {
		if r.Completed && r.CompletedAt != nil {
			set[r.ModuleID] = *r.CompletedAt
		}
	}
	return set
}
