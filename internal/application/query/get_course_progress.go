// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE PROGRESS QUERY
// Проекция для мини-приложения: тариф, модули тарифа с отметками,
// процент прохождения и число отправленных решений по модулям.
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseProgressQuery - параметры запроса.
type GetCourseProgressQuery struct {
	UserID shared.UserID
}

// Validate проверяет параметры.
func (q GetCourseProgressQuery) Validate() error {
	if !q.UserID.IsValid() {
		return errors.New("user_id is required")
	}
	return nil
}

// CourseProgressDTO - ответ мини-приложению.
type CourseProgressDTO struct {
	User     UserDTO           `json:"user"`
	Progress ProgressDTO       `json:"progress"`
	Homework []HomeworkStatDTO `json:"homework"`
}

// UserDTO - данные пользователя.
type UserDTO struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Tariff    string `json:"tariff"`
}

// ProgressDTO - прогресс по модулям тарифа.
type ProgressDTO struct {
	Percentage int                 `json:"percentage"`
	Modules    []ModuleProgressDTO `json:"modules"`
}

// ModuleProgressDTO - строка прогресса.
type ModuleProgressDTO struct {
	ModuleID  int    `json:"module_id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// HomeworkStatDTO - сколько решений отправлено по модулю.
type HomeworkStatDTO struct {
	ModuleID         int    `json:"module_id"`
	Name             string `json:"name"`
	SubmissionsCount int    `json:"submissions_count"`
}

// GetCourseProgressHandler handles GetCourseProgressQuery.
type GetCourseProgressHandler struct {
	registry    *course.Registry
	users       user.Repository
	progress    progress.Repository
	submissions submission.Repository
}

// NewGetCourseProgressHandler creates the handler.
func NewGetCourseProgressHandler(registry *course.Registry, users user.Repository, progress progress.Repository, submissions submission.Repository) *GetCourseProgressHandler {
	return &GetCourseProgressHandler{
		registry:    registry,
		users:       users,
		progress:    progress,
		submissions: submissions,
	}
}

// Handle возвращает проекцию или ErrUserNotFound для незарегистрированных.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, q GetCourseProgressQuery) (*CourseProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	acc, err := h.users.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, shared.ErrUserNotFound
	}

	done, err := h.progress.GetAll(ctx, acc.UserID)
	if err != nil {
		return nil, err
	}
	counts, err := h.submissions.CountByModule(ctx, acc.UserID)
	if err != nil {
		return nil, err
	}

	available := h.registry.ModulesFor(acc.Tariff)
	title := h.registry.Catalog().ModuleTitle
	summary := progress.Summarize(available, done, title)

	dto := &CourseProgressDTO{
		User: toUserDTO(acc),
		Progress: ProgressDTO{
			Percentage: summary.RoundedPercentage(),
			Modules:    make([]ModuleProgressDTO, 0, len(summary.Modules)),
		},
		Homework: make([]HomeworkStatDTO, 0, len(available)),
	}
	for _, m := range summary.Modules {
		dto.Progress.Modules = append(dto.Progress.Modules, ModuleProgressDTO{
			ModuleID:  m.ID.Int(),
			Name:      m.Title,
			Completed: m.Completed,
		})
	}
	for _, id := range available {
		dto.Homework = append(dto.Homework, HomeworkStatDTO{
			ModuleID:         id.Int(),
			Name:             title(id),
			SubmissionsCount: counts[id],
		})
	}

	return dto, nil
}

func toUserDTO(acc *user.Account) UserDTO {
	return UserDTO{
		UserID:    acc.UserID.Int64(),
		Username:  acc.Username,
		FirstName: acc.FirstName,
		LastName:  acc.LastName,
		Tariff:    acc.Tariff.String(),
	}
}
