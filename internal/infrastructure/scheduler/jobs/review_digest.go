// Package jobs - фоновые задачи бота курса.
package jobs

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/application/query"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/pkg/timeutil"
)

// ReviewDigestName - имя задачи в планировщике.
const ReviewDigestName = "review_digest"

// maxDigestPages ограничивает обход очереди непроверенных решений.
const maxDigestPages = 20

// OpenSubmissions - источник непроверенных решений (query.AdminQueries).
type OpenSubmissions interface {
	Submissions(ctx context.Context, s query.SubmissionSearch) ([]query.SubmissionDTO, error)
}

// OperatorNotifier - рассылка операторам (command.NotifyOperatorsHandler).
type OperatorNotifier interface {
	Handle(ctx context.Context, cmd command.NotifyOperatorsCommand) (*command.NotifyOperatorsResult, error)
}

// ReviewDigestJob раз в день присылает операторам сводку решений без
// ответа куратора. Пустая очередь - без сообщения.
type ReviewDigestJob struct {
	submissions OpenSubmissions
	notify      OperatorNotifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewReviewDigestJob creates the job.
func NewReviewDigestJob(submissions OpenSubmissions, notify OperatorNotifier, logger *slog.Logger) *ReviewDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewDigestJob{
		submissions: submissions,
		notify:      notify,
		logger:      logger.With("job", ReviewDigestName),
		now:         time.Now,
	}
}

// Name implements scheduler.Job.
func (j *ReviewDigestJob) Name() string { return ReviewDigestName }

// Run implements scheduler.Job.
func (j *ReviewDigestJob) Run(ctx context.Context) error {
	open, err := j.collect(ctx)
	if err != nil {
		return fmt.Errorf("review digest: %w", err)
	}
	if len(open) == 0 {
		j.logger.Debug("no open submissions")
		return nil
	}

	res, err := j.notify.Handle(ctx, command.NotifyOperatorsCommand{Text: DigestText(open, j.now())})
	if err != nil {
		return fmt.Errorf("review digest: %w", err)
	}
	j.logger.Info("review digest sent",
		"open", len(open),
		"delivered", res.Delivered,
		"failed", res.Failed,
	)
	return nil
}

func (j *ReviewDigestJob) collect(ctx context.Context) ([]query.SubmissionDTO, error) {
	var all []query.SubmissionDTO
	for page := 1; page <= maxDigestPages; page++ {
		batch, err := j.submissions.Submissions(ctx, query.SubmissionSearch{
			OnlyOpen: true,
			Page:     shared.Pagination{Page: page, PageSize: shared.MaxPageSize},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < shared.MaxPageSize {
			break
		}
	}
	return all, nil
}

// DigestText - HTML сводки: всего, по модулям, самое давнее решение.
func DigestText(open []query.SubmissionDTO, now time.Time) string {
	perModule := make(map[int]int)
	names := make(map[int]string)
	oldest := open[0]
	for _, s := range open {
		perModule[s.ModuleID]++
		names[s.ModuleID] = s.ModuleName
		if s.SubmittedAt.Before(oldest.SubmittedAt) {
			oldest = s
		}
	}

	modules := make([]int, 0, len(perModule))
	for id := range perModule {
		modules = append(modules, id)
	}
	sort.Ints(modules)

	var b strings.Builder
	fmt.Fprintf(&b, "📬 <b>Непроверенных решений: %d</b>\n\n", len(open))
	for _, id := range modules {
		fmt.Fprintf(&b, "• Модуль %d", id)
		if names[id] != "" {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(names[id]))
		}
		fmt.Fprintf(&b, ": %d\n", perModule[id])
	}
	fmt.Fprintf(&b, "\nСамое давнее: #%d от %s, ждёт %d дн.",
		oldest.ID, timeutil.FormatStamp(oldest.SubmittedAt), timeutil.DaysSince(oldest.SubmittedAt, now))
	return b.String()
}
