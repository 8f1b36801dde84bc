// Package telegram - Telegram-интерфейс бота курса: приём апдейтов
// (long polling или webhook), очередь на пользователя, вызов машины
// диалога и отрисовка ответов.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/config"
	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
	"github.com/alem-hub/course-bot/internal/infrastructure/messaging"
	"github.com/alem-hub/course-bot/internal/interface/telegram/middleware"
	"github.com/alem-hub/course-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the public URL Telegram posts updates to.
	WebhookURL string

	// AllowedUpdates specifies which update types to receive.
	AllowedUpdates []string

	// MaxConnections - max_connections для setWebhook.
	MaxConnections int

	Debug  bool
	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:           config.ModePolling,
		AllowedUpdates: []string{"message", "callback_query"},
		MaxConnections: 40,
		Logger:         slog.Default(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Client - методы Bot API, нужные боту.
type Client interface {
	presenter.Sender
	GetMe(ctx context.Context) (*telegram.User, error)
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
	SetWebhook(ctx context.Context, url string, maxConnections int, allowedUpdates []string) error
}

// Conversation обрабатывает одно событие пользователя.
type Conversation interface {
	Handle(ctx context.Context, in conversation.Inbound) conversation.Outcome
}

// BotDependencies contains all dependencies of the bot.
type BotDependencies struct {
	Client       Client
	Conversation Conversation

	// Dispatcher сериализует события одного пользователя.
	Dispatcher *messaging.Dispatcher

	// RateLimiter; nil - лимиты по умолчанию с банами в памяти.
	RateLimiter *middleware.RateLimiter
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config       BotConfig
	client       Client
	conversation Conversation
	dispatcher   *messaging.Dispatcher
	router       *Router
	renderer     *presenter.Renderer
	logger       *slog.Logger

	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware
	metrics     *middleware.MetricsMiddleware

	running   bool
	runningMu sync.RWMutex

	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu              sync.RWMutex
	StartedAt       time.Time
	UpdatesReceived int64
	UpdatesHandled  int64
	UpdatesRejected int64
	ErrorsCount     int64
}

// NewBot creates a new Telegram bot.
func NewBot(cfg BotConfig, deps BotDependencies) (*Bot, error) {
	if deps.Client == nil {
		return nil, errors.New("telegram client is required")
	}
	if deps.Conversation == nil {
		return nil, errors.New("conversation handler is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModePolling
	}
	if len(cfg.AllowedUpdates) == 0 {
		cfg.AllowedUpdates = DefaultBotConfig().AllowedUpdates
	}

	limiter := deps.RateLimiter
	if limiter == nil {
		rlCfg := middleware.DefaultRateLimitConfig()
		rlCfg.Logger = cfg.Logger
		limiter = middleware.NewRateLimiter(rlCfg)
	}

	recoveryCfg := middleware.DefaultRecoveryConfig()
	recoveryCfg.Logger = cfg.Logger

	metricsCfg := middleware.DefaultMetricsConfig()
	metricsCfg.Logger = cfg.Logger

	return &Bot{
		config:       cfg,
		client:       deps.Client,
		conversation: deps.Conversation,
		dispatcher:   deps.Dispatcher,
		router:       NewRouter(RouterConfig{Logger: cfg.Logger, Debug: cfg.Debug}),
		renderer:     presenter.NewRenderer(deps.Client, cfg.Logger),
		logger:       cfg.Logger,
		rateLimiter:  limiter,
		recovery:     middleware.NewRecoveryMiddleware(recoveryCfg),
		metrics:      middleware.NewMetricsMiddleware(metricsCfg),
		stats:        &BotStats{},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start проверяет токен и принимает апдейты до отмены ctx.
// В режиме webhook апдейты приходят через HandleUpdate из HTTP-сервера.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.runningMu.Unlock()

	b.stats.mu.Lock()
	b.stats.StartedAt = time.Now()
	b.stats.mu.Unlock()

	b.logger.Info("starting telegram bot", "mode", b.config.Mode)

	if err := b.verifyToken(ctx); err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}

	switch b.config.Mode {
	case config.ModePolling:
		b.logger.Info("starting long polling")
		return b.client.StartPolling(ctx, b.HandleUpdate)

	case config.ModeWebhook:
		if b.config.WebhookURL == "" {
			return errors.New("webhook URL is required for webhook mode")
		}
		if err := b.client.SetWebhook(ctx, b.config.WebhookURL, b.config.MaxConnections, b.config.AllowedUpdates); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}
		b.logger.Info("webhook registered")
		<-ctx.Done()
		return nil

	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop перестаёт принимать апдейты и дожидается очередей пользователей.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot", "pending_users", b.dispatcher.Pending())
	b.rateLimiter.Stop()

	if err := b.dispatcher.Stop(ctx); err != nil {
		b.logger.Warn("graceful shutdown timeout exceeded", "error", err)
		return err
	}

	b.logger.Info("all updates processed")
	return nil
}

// IsRunning reports whether Start has been called and Stop has not.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

func (b *Bot) verifyToken(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return err
	}

	b.logger.Info("bot verified", "id", me.ID, "username", me.Username)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleUpdate декодирует апдейт и ставит его в очередь пользователя.
// Возвращается сразу, обработка идёт в диспетчере.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	b.stats.mu.Lock()
	b.stats.UpdatesReceived++
	b.stats.mu.Unlock()

	route, ok := b.router.Route(update)
	if !ok {
		return nil
	}

	if route.Inbound.Event == nil {
		// неизвестная кнопка: убрать индикатор загрузки и ничего не делать
		return b.client.AnswerCallbackQuery(ctx, route.Target.CallbackID, "", false)
	}

	userID := route.Inbound.UserID.Int64()
	if res := b.rateLimiter.Check(ctx, userID); !res.Allowed {
		b.reject()
		return b.notify(ctx, route.Target, res.ResponseMessage)
	}

	err := b.dispatcher.Submit(route.Inbound.UserID, func(ctx context.Context) error {
		return b.process(ctx, route)
	})
	switch {
	case errors.Is(err, messaging.ErrMailboxFull):
		b.reject()
		return b.notify(ctx, route.Target, middleware.RateLimitMessage(time.Second))
	case err != nil:
		return fmt.Errorf("submit update %d: %w", update.UpdateID, err)
	}
	return nil
}

// process выполняется в очереди пользователя.
func (b *Bot) process(ctx context.Context, route Route) error {
	userID := route.Inbound.UserID.Int64()
	rc := b.metrics.Start(route.Kind, userID)

	err := b.recovery.Run(userID, route.Kind, func() error {
		out := b.conversation.Handle(ctx, route.Inbound)
		if out.Err != nil {
			b.logger.Debug("conversation outcome",
				"user_id", userID,
				"mode", out.Next.Mode,
				"error", out.Err,
			)
		}
		return b.renderer.Render(ctx, route.Target, out.Replies)
	})

	var panicInfo *middleware.PanicInfo
	if errors.As(err, &panicInfo) {
		_ = b.renderer.Render(ctx, presenter.Target{ChatID: route.Target.ChatID}, []conversation.Reply{{Text: b.recovery.UserMessage()}})
	}

	rc.End(err)

	b.stats.mu.Lock()
	if err != nil {
		b.stats.ErrorsCount++
	} else {
		b.stats.UpdatesHandled++
	}
	b.stats.mu.Unlock()

	return err
}

// notify отвечает в обход машины диалога: всплывашкой на callback,
// сообщением на текст.
func (b *Bot) notify(ctx context.Context, target presenter.Target, text string) error {
	if target.FromCallback() {
		return b.client.AnswerCallbackQuery(ctx, target.CallbackID, presenter.AlertText(text), true)
	}
	_, err := b.client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:    target.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	return err
}

func (b *Bot) reject() {
	b.stats.mu.Lock()
	b.stats.UpdatesRejected++
	b.stats.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats - снимок статистики бота.
type Stats struct {
	Running         bool                                `json:"running"`
	Uptime          string                              `json:"uptime"`
	UpdatesReceived int64                               `json:"updates_received"`
	UpdatesHandled  int64                               `json:"updates_handled"`
	UpdatesRejected int64                               `json:"updates_rejected"`
	ErrorsCount     int64                               `json:"errors_count"`
	PendingUsers    int                                 `json:"pending_users"`
	Requests        middleware.MetricsSnapshot          `json:"requests"`
	Dispatcher      messaging.DispatcherMetricsSnapshot `json:"dispatcher"`
}

// GetStats returns current bot statistics.
func (b *Bot) GetStats() Stats {
	b.stats.mu.RLock()
	s := Stats{
		Running:         b.IsRunning(),
		UpdatesReceived: b.stats.UpdatesReceived,
		UpdatesHandled:  b.stats.UpdatesHandled,
		UpdatesRejected: b.stats.UpdatesRejected,
		ErrorsCount:     b.stats.ErrorsCount,
	}
	if !b.stats.StartedAt.IsZero() {
		s.Uptime = time.Since(b.stats.StartedAt).Round(time.Second).String()
	}
	b.stats.mu.RUnlock()

	s.PendingUsers = b.dispatcher.Pending()
	s.Requests = b.metrics.Snapshot()
	s.Dispatcher = b.dispatcher.Metrics().Snapshot()
	return s
}
