// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFY OPERATORS COMMAND
// Рассылает сообщение всем операторам курса. Доставка best-effort:
// ошибка одного получателя не мешает остальным.
// ══════════════════════════════════════════════════════════════════════════════

// Notifier отправляет HTML-сообщение в чат Telegram.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, html string) error
}

// NotifyOperatorsCommand - сообщение для операторов.
type NotifyOperatorsCommand struct {
	Text string
}

// Validate validates the command.
func (c NotifyOperatorsCommand) Validate() error {
	if c.Text == "" {
		return errors.New("notify_operators: text is required")
	}
	return nil
}

// NotifyOperatorsResult - итог рассылки.
type NotifyOperatorsResult struct {
	Delivered int
	Failed    int
}

// NotifyOperatorsHandler handles NotifyOperatorsCommand.
type NotifyOperatorsHandler struct {
	notifier    Notifier
	operators   []shared.UserID
	concurrency int
	logger      *slog.Logger
}

// NewNotifyOperatorsHandler creates the handler. concurrency <= 0 means 4.
func NewNotifyOperatorsHandler(notifier Notifier, operators []shared.UserID, concurrency int, logger *slog.Logger) *NotifyOperatorsHandler {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyOperatorsHandler{
		notifier:    notifier,
		operators:   operators,
		concurrency: concurrency,
		logger:      logger.With("component", "notify_operators"),
	}
}

// Handle отправляет сообщение всем операторам, не более concurrency
// запросов одновременно.
func (h *NotifyOperatorsHandler) Handle(ctx context.Context, cmd NotifyOperatorsCommand) (*NotifyOperatorsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var delivered, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for _, op := range h.operators {
		g.Go(func() error {
			if err := h.notifier.Notify(gctx, op.Int64(), cmd.Text); err != nil {
				failed.Add(1)
				h.logger.Warn("operator notification failed", "operator_id", op, "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return &NotifyOperatorsResult{
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
	}, nil
}
