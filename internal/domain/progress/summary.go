package progress

import (
	"math"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ModuleStatus - строка отчёта о прогрессе.
type ModuleStatus struct {
	ID        shared.ModuleID
	Title     string
	Completed bool
}

// Summary - прогресс пользователя по модулям его тарифа.
type Summary struct {
	Modules    []ModuleStatus
	Completed  int
	Total      int
	Percentage float64
}

// Summarize считает прогресс по доступным модулям. Завершённые модули вне
// тарифа (после понижения) не учитываются, поэтому процент не превышает 100.
func Summarize(available []shared.ModuleID, done CompletedSet, title func(shared.ModuleID) string) Summary {
	s := Summary{
		Modules: make([]ModuleStatus, 0, len(available)),
		Total:   len(available),
	}
	for _, id := range available {
		completed := done.Has(id)
		if completed {
			s.Completed++
		}
		s.Modules = append(s.Modules, ModuleStatus{ID: id, Title: title(id), Completed: completed})
	}
	if s.Total > 0 {
		s.Percentage = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}

// RoundedPercentage возвращает процент, округлённый до целого.
func (s Summary) RoundedPercentage() int {
	return int(math.Round(s.Percentage))
}
