package command

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW SUBMISSION COMMAND
// Куратор отвечает на домашнее задание. После сохранения публикуется
// HomeworkReviewedEvent, обработчик которого пишет пользователю.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewSubmissionCommand - ответ куратора.
type ReviewSubmissionCommand struct {
	SubmissionID int64
	Review       string
}

// Validate validates the command.
func (c ReviewSubmissionCommand) Validate() error {
	if c.SubmissionID <= 0 {
		return errors.New("review_submission: submission_id is required")
	}
	return nil
}

// ReviewSubmissionHandler handles ReviewSubmissionCommand.
type ReviewSubmissionHandler struct {
	submissions submission.Repository
	events      shared.EventPublisher
	logger      *slog.Logger
}

// NewReviewSubmissionHandler creates the handler. events may be nil.
func NewReviewSubmissionHandler(submissions submission.Repository, events shared.EventPublisher, logger *slog.Logger) *ReviewSubmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewSubmissionHandler{submissions: submissions, events: events, logger: logger}
}

// Handle сохраняет ответ и возвращает обновлённое решение.
func (h *ReviewSubmissionHandler) Handle(ctx context.Context, cmd ReviewSubmissionCommand) (*submission.Submission, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	review, err := submission.NormalizeBody(cmd.Review, shared.ErrEmptyReview)
	if err != nil {
		return nil, err
	}

	if err := h.submissions.SetReview(ctx, cmd.SubmissionID, review); err != nil {
		return nil, err
	}

	sub, err := h.submissions.Get(ctx, cmd.SubmissionID)
	if err != nil {
		return nil, err
	}

	if h.events != nil {
		event := shared.NewHomeworkReviewedEvent(sub.UserID, sub.ModuleID, sub.ID, review)
		if err := h.events.Publish(event); err != nil {
			h.logger.Warn("publish event failed", "event_type", event.EventType(), "error", err)
		}
	}

	return sub, nil
}
