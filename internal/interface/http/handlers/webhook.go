package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK
// POST /webhook/telegram/{secret}. Telegram повторяет доставку на любой
// ответ кроме 2xx, поэтому ошибки обработки логируются, а ответ всегда 200.
// ══════════════════════════════════════════════════════════════════════════════

// MaxWebhookBody - предел размера апдейта.
const MaxWebhookBody = 1 << 20

// UpdateHandler processes one decoded update.
type UpdateHandler func(ctx context.Context, update *telegram.Update) error

// TelegramWebhook serves webhook deliveries.
type TelegramWebhook struct {
	secret  string
	handler UpdateHandler
	logger  *logger.Logger

	received atomic.Int64
	failed   atomic.Int64
}

// NewTelegramWebhook creates the endpoint. Пустой secret отключает проверку
// пути, что допустимо только в development.
func NewTelegramWebhook(secret string, handler UpdateHandler, log *logger.Logger) *TelegramWebhook {
	if log == nil {
		log = logger.Default()
	}
	return &TelegramWebhook{
		secret:  secret,
		handler: handler,
		logger:  log.With(logger.Component("telegram_webhook")),
	}
}

// ServeHTTP implements http.Handler.
func (h *TelegramWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.PathValue("secret")), []byte(h.secret)) != 1 {
		WriteError(w, http.StatusNotFound, requestID, CodeNotFound, "not found")
		return
	}

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxWebhookBody)).Decode(&update); err != nil {
		h.failed.Add(1)
		h.logger.Warn("bad webhook payload", logger.RequestID(requestID), logger.Err(err))
		WriteError(w, http.StatusBadRequest, requestID, CodeInvalidRequest, "invalid update payload")
		return
	}
	h.received.Add(1)

	if h.handler != nil {
		if err := h.handler(r.Context(), &update); err != nil {
			h.failed.Add(1)
			h.logger.Error("webhook update failed",
				logger.RequestID(requestID),
				logger.Int64("update_id", update.UpdateID),
				logger.Err(err),
			)
		}
	}

	WriteJSON(w, http.StatusOK, requestID, map[string]bool{"ok": true})
}

// WebhookStats - счётчики доставок.
type WebhookStats struct {
	Received int64 `json:"received"`
	Failed   int64 `json:"failed"`
}

// Stats returns delivery counters.
func (h *TelegramWebhook) Stats() WebhookStats {
	return WebhookStats{Received: h.received.Load(), Failed: h.failed.Load()}
}
