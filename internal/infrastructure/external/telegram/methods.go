package telegram

import (
	"context"
	"errors"
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams - тело sendMessage.
type SendMessageParams struct {
	ChatID              int64  `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
	DisableWebPreview   bool   `json:"disable_web_page_preview,omitempty"`
	ReplyToMessageID    int64  `json:"reply_to_message_id,omitempty"`

	// ReplyMarkup: *InlineKeyboardMarkup, *ReplyKeyboardMarkup или *ReplyKeyboardRemove.
	ReplyMarkup any `json:"reply_markup,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	msg, err := call[Message](ctx, c, "sendMessage", params)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendHTML - текст с parse_mode=HTML без клавиатуры.
func (c *Client) SendHTML(ctx context.Context, chatID int64, html string) (*Message, error) {
	return c.SendMessage(ctx, SendMessageParams{ChatID: chatID, Text: html, ParseMode: "HTML"})
}

type editMessageTextParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText заменяет текст и inline-клавиатуру сообщения бота.
// Редактирование без изменений даёт ошибку IsMessageNotModified.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	msg, err := call[Message](ctx, c, "editMessageText", editMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: keyboard,
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type answerCallbackParams struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

// AnswerCallbackQuery снимает «часики» с кнопки; text показывается
// всплывашкой или алертом.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error {
	_, err := call[bool](ctx, c, "answerCallbackQuery", answerCallbackParams{
		CallbackQueryID: callbackQueryID,
		Text:            text,
		ShowAlert:       showAlert && text != "",
	})
	return err
}

// Notify отправляет HTML-сообщение без клавиатуры (уведомления операторам,
// ответы куратора).
func (c *Client) Notify(ctx context.Context, chatID int64, html string) error {
	if chatID == 0 {
		return errors.New("notify: chat id is required")
	}
	_, err := c.SendHTML(ctx, chatID, html)
	if IsUserBlocked(err) || IsChatNotFound(err) {
		c.logger.Warn("recipient unreachable", "chat_id", chatID, "error", err)
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATES AND BOT INFO
// ══════════════════════════════════════════════════════════════════════════════

type getUpdatesParams struct {
	Offset  int64 `json:"offset,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Timeout int   `json:"timeout"`
}

// GetUpdates - один long polling запрос; timeout в секундах.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit, timeout int) ([]Update, error) {
	return call[[]Update](ctx, c, "getUpdates", getUpdatesParams{Offset: offset, Limit: limit, Timeout: timeout})
}

type setWebhookParams struct {
	URL            string   `json:"url"`
	MaxConnections int      `json:"max_connections,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

func (c *Client) SetWebhook(ctx context.Context, url string, maxConnections int, allowedUpdates []string) error {
	_, err := call[bool](ctx, c, "setWebhook", setWebhookParams{
		URL:            url,
		MaxConnections: maxConnections,
		AllowedUpdates: allowedUpdates,
	})
	return err
}

// GetMe проверяет токен при старте.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	me, err := call[User](ctx, c, "getMe", nil)
	if err != nil {
		return nil, err
	}
	return &me, nil
}
