package query

import (
	"context"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN QUERIES
// Чтение для админки: пользователи, решения, обратная связь, коды, модули.
// ══════════════════════════════════════════════════════════════════════════════

// AdminQueries - все запросы админки поверх хранилищ.
type AdminQueries struct {
	registry    *course.Registry
	users       user.Repository
	progress    progress.Repository
	submissions submission.Repository
	codes       course.AccessCodeRepository
}

// NewAdminQueries creates the query set.
func NewAdminQueries(registry *course.Registry, users user.Repository, progress progress.Repository, submissions submission.Repository, codes course.AccessCodeRepository) *AdminQueries {
	return &AdminQueries{
		registry:    registry,
		users:       users,
		progress:    progress,
		submissions: submissions,
		codes:       codes,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// DTOs
// ─────────────────────────────────────────────────────────────────────────────

// AccountDTO - пользователь в списке.
type AccountDTO struct {
	UserDTO
	DisplayName string    `json:"display_name"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// UserListDTO - страница пользователей.
type UserListDTO struct {
	Users    []AccountDTO `json:"users"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// SubmissionDTO - решение домашнего задания.
type SubmissionDTO struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	ModuleID    int        `json:"module_id"`
	ModuleName  string     `json:"module_name"`
	Body        string     `json:"body"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Review      *string    `json:"review,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

// FeedbackDTO - сообщение обратной связи.
type FeedbackDTO struct {
	ID     int64     `json:"id"`
	UserID int64     `json:"user_id"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// UserDetailsDTO - карточка пользователя.
type UserDetailsDTO struct {
	Account     AccountDTO      `json:"account"`
	Progress    ProgressDTO     `json:"progress"`
	Submissions []SubmissionDTO `json:"submissions"`
	Feedback    []FeedbackDTO   `json:"feedback"`
}

// ModuleDTO - модуль каталога и тарифы, в которых он открыт.
type ModuleDTO struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Homework    string   `json:"homework"`
	Materials   []string `json:"materials"`
	Tariffs     []string `json:"tariffs"`
}

// AccessCodeDTO - код доступа.
type AccessCodeDTO struct {
	Code      string    `json:"code"`
	Tariff    string    `json:"tariff"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmissionSearch - фильтр решений из query-параметров.
type SubmissionSearch struct {
	UserID   *shared.UserID
	ModuleID *shared.ModuleID
	OnlyOpen bool
	Page     shared.Pagination
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

// ListUsers возвращает страницу пользователей, новые первыми.
func (q *AdminQueries) ListUsers(ctx context.Context, page shared.Pagination) (*UserListDTO, error) {
	accounts, err := q.users.List(ctx, page)
	if err != nil {
		return nil, err
	}
	total, err := q.users.Count(ctx)
	if err != nil {
		return nil, err
	}

	out := &UserListDTO{
		Users:    make([]AccountDTO, 0, len(accounts)),
		Total:    total,
		Page:     page.Page,
		PageSize: page.Limit(),
	}
	for _, acc := range accounts {
		out.Users = append(out.Users, toAccountDTO(acc))
	}
	return out, nil
}

// UserDetails возвращает карточку пользователя или ErrUserNotFound.
func (q *AdminQueries) UserDetails(ctx context.Context, id shared.UserID) (*UserDetailsDTO, error) {
	acc, err := q.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, shared.ErrUserNotFound
	}

	done, err := q.progress.GetAll(ctx, id)
	if err != nil {
		return nil, err
	}
	subs, err := q.submissions.ListFor(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	feedback, err := q.submissions.ListFeedback(ctx, &id, shared.NewPagination(1, shared.MaxPageSize))
	if err != nil {
		return nil, err
	}

	summary := progress.Summarize(q.registry.ModulesFor(acc.Tariff), done, q.registry.Catalog().ModuleTitle)
	out := &UserDetailsDTO{
		Account: toAccountDTO(acc),
		Progress: ProgressDTO{
			Percentage: summary.RoundedPercentage(),
			Modules:    make([]ModuleProgressDTO, 0, len(summary.Modules)),
		},
		Submissions: q.toSubmissionDTOs(subs),
		Feedback:    toFeedbackDTOs(feedback),
	}
	for _, m := range summary.Modules {
		out.Progress.Modules = append(out.Progress.Modules, ModuleProgressDTO{
			ModuleID:  m.ID.Int(),
			Name:      m.Title,
			Completed: m.Completed,
		})
	}
	return out, nil
}

// Submissions ищет решения по фильтру.
func (q *AdminQueries) Submissions(ctx context.Context, s SubmissionSearch) ([]SubmissionDTO, error) {
	subs, err := q.submissions.Search(ctx, submission.Filter{
		UserID:     s.UserID,
		ModuleID:   s.ModuleID,
		OnlyOpen:   s.OnlyOpen,
		Pagination: s.Page,
	})
	if err != nil {
		return nil, err
	}
	return q.toSubmissionDTOs(subs), nil
}

// Feedback возвращает обратную связь, новые первыми.
func (q *AdminQueries) Feedback(ctx context.Context, id *shared.UserID, page shared.Pagination) ([]FeedbackDTO, error) {
	msgs, err := q.submissions.ListFeedback(ctx, id, page)
	if err != nil {
		return nil, err
	}
	return toFeedbackDTOs(msgs), nil
}

// AccessCodes возвращает все коды по тарифам.
func (q *AdminQueries) AccessCodes(ctx context.Context) ([]AccessCodeDTO, error) {
	codes, err := q.codes.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccessCodeDTO, 0, len(codes))
	for _, c := range codes {
		out = append(out, AccessCodeDTO{Code: c.Code, Tariff: c.Tariff.String(), CreatedAt: c.CreatedAt})
	}
	return out, nil
}

// Modules возвращает каталог.
func (q *AdminQueries) Modules() []ModuleDTO {
	mods := q.registry.Catalog().Modules()
	out := make([]ModuleDTO, 0, len(mods))
	for _, m := range mods {
		dto := ModuleDTO{
			ID:          m.ID.Int(),
			Title:       m.Title,
			Description: m.Description,
			Homework:    m.Homework,
			Materials:   m.Materials,
			Tariffs:     []string{},
		}
		for _, t := range course.AllTariffs() {
			if q.registry.IsUnlocked(t, m.ID) {
				dto.Tariffs = append(dto.Tariffs, t.String())
			}
		}
		out = append(out, dto)
	}
	return out
}

func toAccountDTO(acc *user.Account) AccountDTO {
	return AccountDTO{
		UserDTO:     toUserDTO(acc),
		DisplayName: acc.DisplayName(),
		EnrolledAt:  acc.EnrolledAt,
	}
}

func (q *AdminQueries) toSubmissionDTOs(subs []*submission.Submission) []SubmissionDTO {
	out := make([]SubmissionDTO, 0, len(subs))
	for _, s := range subs {
		out = append(out, SubmissionDTO{
			ID:          s.ID,
			UserID:      s.UserID.Int64(),
			ModuleID:    s.ModuleID.Int(),
			ModuleName:  q.registry.Catalog().ModuleTitle(s.ModuleID),
			Body:        s.Body,
			SubmittedAt: s.SubmittedAt,
			Review:      s.Review,
			ReviewedAt:  s.ReviewedAt,
		})
	}
	return out
}

func toFeedbackDTOs(msgs []*submission.FeedbackMessage) []FeedbackDTO {
	out := make([]FeedbackDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FeedbackDTO{
			ID:     m.ID,
			UserID: m.UserID.Int64(),
			Body:   m.Body,
			SentAt: m.SentAt,
		})
	}
	return out
}
