// Package telegram - обёртка над Telegram Bot API поверх net/http:
// сообщения с inline- и reply-клавиатурами, кнопки мини-приложения,
// ответы на callback, long polling и webhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alem-hub/course-bot/pkg/circuitbreaker"
	"github.com/alem-hub/course-bot/pkg/retry"
)

const defaultBaseURL = "https://api.telegram.org"

// ClientConfig - настройки клиента Bot API.
type ClientConfig struct {
	Token   string
	BaseURL string

	// Timeout HTTP-запроса; должен покрывать PollingTimeout.
	// 0 - PollingTimeout + 30s.
	Timeout time.Duration

	// RetryAttempts - повторы сверх первой попытки.
	RetryAttempts int
	RetryDelay    time.Duration

	// PollingTimeout - таймаут long polling в getUpdates.
	PollingTimeout time.Duration

	// Breaker размыкается при серии сбоев Bot API (nil - без предохранителя).
	// Сбоем считаются только ошибки, которые повторяет ретраер.
	Breaker *circuitbreaker.CircuitBreaker

	Logger *slog.Logger
	Debug  bool
}

func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:          token,
		BaseURL:        defaultBaseURL,
		Timeout:        60 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     time.Second,
		PollingTimeout: 30 * time.Second,
	}
}

// Client вызывает методы Bot API. Безопасен для конкурентного использования.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollingTimeout <= 0 {
		cfg.PollingTimeout = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.PollingTimeout + 30*time.Second
	}

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

// Breaker returns the configured circuit breaker or nil.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.config.Breaker
}

// ─────────────────────────────────────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────────────────────────────────────

// call выполняет метод API и декодирует result в T.
func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	err := c.invoke(ctx, method, params, &out)
	return out, err
}

// invoke: 429 ждёт retry_after из ответа, сетевые ошибки и 5xx повторяются
// с backoff. Вся серия попыток - один вызов для предохранителя.
func (c *Client) invoke(ctx context.Context, method string, params, out any) error {
	r := retry.TelegramRetrier(
		retry.WithMaxAttempts(c.config.RetryAttempts+1),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithRetryIf(IsTransientError),
		retry.WithDelayHint(retryAfter),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("telegram api call retry",
				"method", method,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)

	attempts := func(ctx context.Context) error {
		return r.Do(ctx, func(ctx context.Context) error {
			return c.roundTrip(ctx, method, params, out)
		})
	}

	var err error
	if c.config.Breaker != nil {
		err = c.config.Breaker.Execute(ctx, attempts)
	} else {
		err = attempts(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// roundTrip - одна попытка без повторов.
func (c *Client) roundTrip(ctx context.Context, method string, params, out any) error {
	var body io.Reader = http.NoBody
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	url := c.config.BaseURL + "/bot" + c.config.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// 502 от прокси часто приходит HTML-страницей.
		if resp.StatusCode >= http.StatusInternalServerError {
			return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if !envelope.OK {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		return apiErr
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
