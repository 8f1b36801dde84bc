package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// APIError - ответ Bot API с ok=false.
type APIError struct {
	Code        int
	Description string

	// RetryAfter в секундах, только для 429.
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// IsTransientError - сетевые сбои, 5xx и 429. Такие ошибки повторяются
// и учитываются предохранителем; 4xx (бот заблокирован, чат не найден)
// говорят о получателе, а не о доступности API.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "eof", "timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retryAfter(err error) time.Duration {
	if apiErr, ok := asAPIError(err); ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// IsChatNotFound - получатель ни разу не писал боту.
func IsChatNotFound(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Description), "chat not found")
}

// IsUserBlocked - бот заблокирован или аккаунт удалён.
func IsUserBlocked(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusForbidden
}

// IsMessageNotModified - editMessageText с тем же текстом и клавиатурой.
func IsMessageNotModified(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Description, "message is not modified")
}
