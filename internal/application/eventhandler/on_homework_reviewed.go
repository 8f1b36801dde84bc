package eventhandler

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON HOMEWORK REVIEWED HANDLER
// Отправляет пользователю ответ куратора на домашнее задание.
// ═══════════════════════════════════════════════════════════════════════════

// OnHomeworkReviewedHandler пишет пользователю.
type OnHomeworkReviewedHandler struct {
	notifier command.Notifier
	catalog  *course.Catalog
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOnHomeworkReviewedHandler creates the handler. timeout <= 0 means 30s.
func NewOnHomeworkReviewedHandler(notifier command.Notifier, catalog *course.Catalog, timeout time.Duration, logger *slog.Logger) *OnHomeworkReviewedHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnHomeworkReviewedHandler{notifier: notifier, catalog: catalog, timeout: timeout, logger: logger}
}

// Register подписывает обработчик на шину.
func (h *OnHomeworkReviewedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventHomeworkReviewed, h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnHomeworkReviewedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.HomeworkReviewedEvent)
	if !ok {
		return fmt.Errorf("on_homework_reviewed: unexpected event %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, e.UserID.Int64(), ReviewText(h.catalog.ModuleTitle(e.ModuleID), e.ModuleID, e.Review)); err != nil {
		return fmt.Errorf("notify user %d about review: %w", e.UserID, err)
	}

	h.logger.Info("review delivered", "submission_id", e.SubmissionID, "user_id", e.UserID)
	return nil
}

// ReviewText - сообщение пользователю об ответе куратора.
func ReviewText(title string, module shared.ModuleID, review string) string {
	return fmt.Sprintf("💬 <b>Куратор ответил на ваше решение по модулю %d: %s</b>\n\n%s",
		module, html.EscapeString(title), html.EscapeString(review))
}
