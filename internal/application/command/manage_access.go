package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS MANAGEMENT COMMANDS
// Операции админки: коды доступа и ручная смена тарифа.
// ══════════════════════════════════════════════════════════════════════════════

// AddAccessCodeCommand добавляет код в allow-list тарифа.
type AddAccessCodeCommand struct {
	Code   string
	Tariff string
}

// ChangeTariffCommand меняет тариф пользователя.
type ChangeTariffCommand struct {
	UserID shared.UserID
	Tariff string
}

// AccessHandler handles access management commands.
type AccessHandler struct {
	codes  course.AccessCodeRepository
	users  user.Repository
	events shared.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessHandler creates the handler. events may be nil.
func NewAccessHandler(codes course.AccessCodeRepository, users user.Repository, events shared.EventPublisher, logger *slog.Logger) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{
		codes:  codes,
		users:  users,
		events: events,
		logger: logger.With("component", "access_admin"),
		now:    time.Now,
	}
}

// AddCode добавляет код. Дубликат в любом тарифе - ErrDuplicateAccessCode.
func (h *AccessHandler) AddCode(ctx context.Context, cmd AddAccessCodeCommand) (*course.AccessCode, error) {
	tariff, err := course.ParseTariff(cmd.Tariff)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return nil, shared.ErrEmptyAccessCode
	}

	ac := course.AccessCode{Code: code, Tariff: tariff, CreatedAt: h.now().UTC()}
	if err := h.codes.Add(ctx, ac); err != nil {
		return nil, err
	}

	h.logger.Info("access code added", "tariff", tariff)
	return &ac, nil
}

// DeleteCode удаляет код.
func (h *AccessHandler) DeleteCode(ctx context.Context, code string) error {
	if err := h.codes.Delete(ctx, strings.TrimSpace(code)); err != nil {
		return err
	}
	h.logger.Info("access code deleted")
	return nil
}

// ChangeTariff меняет тариф существующего пользователя.
func (h *AccessHandler) ChangeTariff(ctx context.Context, cmd ChangeTariffCommand) (*user.Account, error) {
	tariff, err := course.ParseTariff(cmd.Tariff)
	if err != nil {
		return nil, err
	}

	acc, err := h.users.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, shared.ErrUserNotFound
	}
	if acc.Tariff == tariff {
		return acc, nil
	}

	applied, err := h.users.SetTariff(ctx, cmd.UserID, tariff)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, shared.ErrUserNotFound
	}

	old := acc.Tariff
	acc.Tariff = tariff

	if h.events != nil {
		event := shared.NewTariffChangedEvent(acc.UserID, old.String(), tariff.String())
		if err := h.events.Publish(event); err != nil {
			h.logger.Warn("publish event failed", "event_type", event.EventType(), "error", err)
		}
	}

	return acc, nil
}
