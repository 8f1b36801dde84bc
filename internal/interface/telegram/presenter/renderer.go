package presenter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// RENDERER
// Отправляет ответы диалога: всплывающие уведомления на callback, замену
// сообщения под кнопкой, новые сообщения с клавиатурами.
// ══════════════════════════════════════════════════════════════════════════════

// Лимит текста answerCallbackQuery.
const maxAlertLength = 200

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Sender - методы Bot API, которыми пользуется рендерер.
type Sender interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error
}

// Target - куда отвечать.
type Target struct {
	ChatID int64

	// MessageID - сообщение с нажатой кнопкой.
	MessageID int64

	// CallbackID - непустой, если событие пришло с inline-кнопки.
	CallbackID string
}

// FromCallback reports whether the event came from an inline button.
func (t Target) FromCallback() bool {
	return t.CallbackID != ""
}

// Renderer sends conversation replies.
type Renderer struct {
	api    Sender
	logger *slog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(api Sender, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{api: api, logger: logger}
}

// Render отправляет ответы по порядку. На callback всегда отвечает ровно
// один раз, даже если ответов нет. Ошибки отдельных сообщений собираются.
func (r *Renderer) Render(ctx context.Context, target Target, replies []conversation.Reply) error {
	alert := ""
	if target.FromCallback() {
		for _, reply := range replies {
			if reply.Alert {
				alert = AlertText(reply.Text)
				break
			}
		}
		if err := r.api.AnswerCallbackQuery(ctx, target.CallbackID, alert, alert != ""); err != nil {
			r.logger.Warn("answer callback query failed", "chat_id", target.ChatID, "error", err)
		}
	}

	var errs []error
	alertShown := false
	for i, reply := range replies {
		// всплывающее уведомление без кнопок не дублируется сообщением
		if alert != "" && !alertShown && reply.Alert {
			alertShown = true
			if len(reply.Choices) == 0 {
				continue
			}
		}

		if err := r.renderOne(ctx, target, reply); err != nil {
			errs = append(errs, fmt.Errorf("reply %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (r *Renderer) renderOne(ctx context.Context, target Target, reply conversation.Reply) error {
	if reply.Replace && target.FromCallback() && target.MessageID != 0 && reply.Menu == conversation.MenuKeep {
		kb, err := InlineKeyboard(reply.Choices)
		if err != nil {
			return err
		}
		_, err = r.api.EditMessageText(ctx, target.ChatID, target.MessageID, reply.Text, "HTML", kb)
		if err == nil || telegram.IsMessageNotModified(err) {
			return nil
		}
		r.logger.Warn("edit message failed, sending new one",
			"chat_id", target.ChatID,
			"message_id", target.MessageID,
			"error", err,
		)
	}

	markup, err := ReplyMarkup(reply)
	if err != nil {
		return err
	}

	_, err = r.api.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:            target.ChatID,
		Text:              reply.Text,
		ParseMode:         "HTML",
		DisableWebPreview: true,
		ReplyMarkup:       markup,
	})
	return err
}

// AlertText убирает HTML и обрезает текст до лимита уведомления.
func AlertText(s string) string {
	s = html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(s) <= maxAlertLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxAlertLength-1]) + "…"
}
