package submission

import (
	"context"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Filter - условия выборки для админки.
type Filter struct {
	UserID     *shared.UserID
	ModuleID   *shared.ModuleID
	OnlyOpen   bool // только без ответа куратора
	Pagination shared.Pagination
}

// Repository хранит домашние задания и обратную связь.
type Repository interface {
	// AppendSubmission добавляет решение и возвращает его id.
	AppendSubmission(ctx context.Context, id shared.UserID, module shared.ModuleID, body string) (int64, error)

	// AppendFeedback добавляет сообщение обратной связи и возвращает его id.
	AppendFeedback(ctx context.Context, id shared.UserID, body string) (int64, error)

	// ListFor возвращает все решения пользователя без пагинации, новые первыми.
	// module=nil - по всем модулям.
	ListFor(ctx context.Context, id shared.UserID, module *shared.ModuleID) ([]*Submission, error)

	// CountByModule возвращает количество решений пользователя по модулям.
	CountByModule(ctx context.Context, id shared.UserID) (map[shared.ModuleID]int, error)

	// Get возвращает решение по id. ErrSubmissionNotFound, если нет.
	Get(ctx context.Context, submissionID int64) (*Submission, error)

	// SetReview сохраняет ответ куратора. ErrSubmissionNotFound, если нет.
	SetReview(ctx context.Context, submissionID int64, review string) error

	// Search возвращает решения по фильтру, новые первыми.
	Search(ctx context.Context, filter Filter) ([]*Submission, error)

	// ListFeedback возвращает обратную связь, новые первыми.
	// id=nil - от всех пользователей.
	ListFeedback(ctx context.Context, id *shared.UserID, page shared.Pagination) ([]*FeedbackMessage, error)
}
