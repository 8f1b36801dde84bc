// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON FEEDBACK SUBMITTED HANDLER
// Пересылает новую обратную связь всем операторам курса.
// ═══════════════════════════════════════════════════════════════════════════

// OnFeedbackSubmittedHandler уведомляет операторов.
type OnFeedbackSubmittedHandler struct {
	notify  *command.NotifyOperatorsHandler
	timeout time.Duration
	logger  *slog.Logger
}

// NewOnFeedbackSubmittedHandler creates the handler. timeout <= 0 means 30s.
func NewOnFeedbackSubmittedHandler(notify *command.NotifyOperatorsHandler, timeout time.Duration, logger *slog.Logger) *OnFeedbackSubmittedHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnFeedbackSubmittedHandler{notify: notify, timeout: timeout, logger: logger}
}

// Register подписывает обработчик на шину.
func (h *OnFeedbackSubmittedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventFeedbackSubmitted, h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnFeedbackSubmittedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.FeedbackSubmittedEvent)
	if !ok {
		return fmt.Errorf("on_feedback_submitted: unexpected event %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.notify.Handle(ctx, command.NotifyOperatorsCommand{
		Text: conversation.OperatorFeedbackText(e.UserID, e.Body),
	})
	if err != nil {
		return err
	}

	h.logger.Info("feedback forwarded to operators",
		"feedback_id", e.FeedbackID,
		"user_id", e.UserID,
		"delivered", res.Delivered,
		"failed", res.Failed,
	)
	return nil
}
