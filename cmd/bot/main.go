// Package main - точка входа бота курса: Telegram-диалог, мини-приложение
// с прогрессом и админ-API для куратора.
//
// Слои:
// - Domain: курс, тарифы, прогресс, домашние задания, машина диалога
// - Application: команды (коды доступа, проверка ДЗ, уведомления) и запросы
// - Infrastructure: PostgreSQL/in-memory хранилища, Redis, Bot API, шина событий
// - Interface: Telegram-бот и HTTP-сервер
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/course-bot/config"

	// Domain
	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"

	// Application layer
	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/application/eventhandler"
	"github.com/alem-hub/course-bot/internal/application/query"

	// Infrastructure layer
	"github.com/alem-hub/course-bot/internal/infrastructure/content"
	tgapi "github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
	"github.com/alem-hub/course-bot/internal/infrastructure/messaging"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/course-bot/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-bot/internal/infrastructure/scheduler/jobs"

	// Interface layer
	httpserver "github.com/alem-hub/course-bot/internal/interface/http"
	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/internal/interface/telegram"
	"github.com/alem-hub/course-bot/internal/interface/telegram/middleware"

	// Packages
	"github.com/alem-hub/course-bot/pkg/circuitbreaker"
	"github.com/alem-hub/course-bot/pkg/logger"
	"github.com/alem-hub/course-bot/pkg/retry"
	"github.com/alem-hub/course-bot/pkg/timeutil"
)

const eventHandlerTimeout = 30 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting course bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
		"mode", cfg.Telegram.Mode,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. КАТАЛОГ КУРСА
	// ─────────────────────────────────────────────────────────────────────────
	catalog, err := loadCatalog(cfg.Course.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load course catalog: %w", err)
	}
	log.Info("course catalog loaded",
		"modules", len(catalog.Modules()),
		"source", catalogSource(cfg.Course.CatalogPath),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩА (PostgreSQL или in-memory)
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close(log)

	registry := course.NewRegistry(catalog, store.codes)
	if cfg.Database.SeedAccessCodes {
		added, err := registry.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed access codes: %w", err)
		}
		log.Info("default access codes seeded", "added", added)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS: СОСТОЯНИЕ ДИАЛОГА И БАНЫ
	// ─────────────────────────────────────────────────────────────────────────
	states, bans, cache := openStateStores(ctx, cfg, log)
	if cache != nil {
		defer func() {
			log.Info("closing redis connection...")
			_ = cache.Close()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TELEGRAM API CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.TelegramAPI(tgapi.IsTransientError, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})

	tgCfg := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	tgCfg.PollingTimeout = cfg.Telegram.PollingTimeout
	tgCfg.Timeout = 0 // выводится из PollingTimeout
	tgCfg.Breaker = breaker
	tgCfg.Logger = log.With("component", "telegram_api")
	tgCfg.Debug = cfg.App.Debug
	client := tgapi.NewClient(tgCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS И ОБРАБОТЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	bus.Use(messaging.RecoveryMiddleware(log), messaging.LoggingMiddleware(log))
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	operators := make([]shared.UserID, 0, len(cfg.Telegram.AdminIDs))
	for _, id := range cfg.Telegram.AdminIDs {
		operators = append(operators, shared.UserID(id))
	}
	if len(operators) == 0 {
		log.Warn("no operators configured: feedback will not be delivered")
	}

	notifyOperators := command.NewNotifyOperatorsHandler(client, operators, cfg.Telegram.NotifyConcurrency, log)
	if err := eventhandler.NewOnFeedbackSubmittedHandler(notifyOperators, eventHandlerTimeout, log).Register(bus); err != nil {
		return fmt.Errorf("failed to register feedback handler: %w", err)
	}
	if err := eventhandler.NewOnHomeworkReviewedHandler(client, catalog, eventHandlerTimeout, log).Register(bus); err != nil {
		return fmt.Errorf("failed to register review handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	accessHandler := command.NewAccessHandler(store.codes, store.users, bus, log)
	reviewHandler := command.NewReviewSubmissionHandler(store.submissions, bus, log)
	progressQuery := query.NewGetCourseProgressHandler(registry, store.users, store.progress, store.submissions)
	adminQueries := query.NewAdminQueries(registry, store.users, store.progress, store.submissions, store.codes)

	machine := conversation.NewMachine(conversation.Config{
		Registry:    registry,
		Users:       store.users,
		Progress:    store.progress,
		Submissions: store.submissions,
		States:      states,
		Events:      bus,
		Operators:   operators,
		MiniAppURL:  cfg.Course.MiniAppURL,
		Logger:      log.With("component", "conversation"),
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 9. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	dispatcherCfg := messaging.DefaultDispatcherConfig()
	dispatcherCfg.MaxConcurrent = cfg.Telegram.MaxConcurrentUpdates
	dispatcherCfg.MailboxSize = cfg.Telegram.MailboxSize
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)

	rlCfg := middleware.DefaultRateLimitConfig()
	rlCfg.RequestsPerMinute = cfg.Telegram.UserRateLimit
	rlCfg.BanDuration = cfg.Telegram.UserRateLimitBan
	rlCfg.Bans = bans
	rlCfg.Logger = log
	for _, id := range cfg.Telegram.AdminIDs {
		rlCfg.WhitelistedUsers[id] = true
	}

	botCfg := telegram.DefaultBotConfig()
	botCfg.Mode = cfg.Telegram.Mode
	if cfg.UseWebhook() {
		botCfg.WebhookURL = cfg.WebhookEndpoint()
	}
	botCfg.Debug = cfg.App.Debug
	botCfg.Logger = log

	bot, err := telegram.NewBot(botCfg, telegram.BotDependencies{
		Client:       client,
		Conversation: machine,
		Dispatcher:   dispatcher,
		RateLimiter:  middleware.NewRateLimiter(rlCfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Logger = log
	sched := scheduler.New(schedCfg)
	if hour, minute, ok := cfg.ReviewDigestTime(); ok && len(operators) > 0 {
		digest := jobs.NewReviewDigestJob(adminQueries, notifyOperators, log)
		if err := sched.Register(digest, scheduler.Daily{Hour: hour, Minute: minute, Location: timeutil.AlmatyTZ}); err != nil {
			return fmt.Errorf("failed to register review digest: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if store.conn != nil {
		health.AddCheck("database", handlers.PingCheck(store.conn), true)
	}
	if cache != nil {
		health.AddCheck("redis", handlers.PingCheck(cache), false)
	}
	health.AddCheck("telegram_api", func(context.Context) error {
		if breaker.State() == circuitbreaker.StateOpen {
			return circuitbreaker.ErrOpen
		}
		return nil
	}, false)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	auth, err := setupAuth(cfg, log)
	if err != nil {
		return err
	}

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpCfg.WebhookSecret = cfg.Telegram.WebhookSecret
	httpCfg.Version = cfg.App.Version

	httpDeps := httpserver.Dependencies{
		Progress:      progressQuery,
		Admin:         adminQueries,
		Access:        accessHandler,
		Review:        reviewHandler,
		Auth:          auth,
		Logger:        logger.New(logger.Options{Level: logger.ParseLevel(cfg.Observability.LogLevel)}),
		HealthChecker: health,
		BotStats: func() interface{} {
			stats := runtimeStats{
				Bot:         bot.GetStats(),
				TelegramAPI: breaker.Snapshot(),
				Events:      bus.Metrics().Snapshot(),
				Jobs:        sched.Jobs(),
				Storage:     store.kind,
			}
			if store.conn != nil {
				pool := store.conn.Stats()
				stats.DBPool = &pool
			}
			return stats
		},
	}
	if cfg.UseWebhook() {
		httpDeps.Webhook = bot.HandleUpdate
	}

	httpServer, err := httpserver.NewServer(httpCfg, httpDeps)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := bot.Start(gctx); err != nil {
			return fmt.Errorf("telegram bot error: %w", err)
		}
		return nil
	})

	log.Info("course bot is running",
		"http_address", httpCfg.Address(),
		"telegram_mode", cfg.Telegram.Mode,
		"storage", store.kind,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		// 1. бот: дожидаемся очередей пользователей
		var errs []error
		if err := bot.Stop(shutdownCtx); err != nil {
			log.Error("failed to stop bot gracefully", "error", err)
			errs = append(errs, err)
		}

		// 2. HTTP: webhook и админка
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop HTTP server gracefully", "error", err)
			errs = append(errs, err)
		}

		// 3. фоновые задачи
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop", "error", err)
		}

		// 4. event bus, Redis и база закрываются через defer
		if err := errors.Join(errs...); err != nil {
			log.Warn("shutdown completed with errors")
			return nil
		}
		log.Info("shutdown completed successfully")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service error", "error", err)
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// storage - набор репозиториев одного бэкенда.
type storage struct {
	kind        string
	conn        *postgres.Connection
	users       user.Repository
	progress    progress.Repository
	submissions submission.Repository
	codes       course.AccessCodeRepository
}

func (s *storage) close(log *slog.Logger) {
	if s.conn != nil {
		log.Info("closing database connection...")
		s.conn.Close()
	}
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	if cfg.UseMemoryStorage() {
		log.Warn("DATABASE_URL is empty: using in-memory storage, data is lost on restart")
		return &storage{
			kind:        "memory",
			users:       memory.NewUserRepository(),
			progress:    memory.NewProgressRepository(),
			submissions: memory.NewSubmissionRepository(),
			codes:       memory.NewAccessCodeRepository(),
		}, nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.QueryTimeout = cfg.Database.QueryTimeout

	log.Info("connecting to database...")
	var conn *postgres.Connection
	err := retry.StartupRetrier(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
	})).Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	log.Info("running database migrations...")
	applied, err := postgres.NewMigrator(conn).Migrate(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed", "applied", applied)

	return &storage{
		kind:        "postgres",
		conn:        conn,
		users:       postgres.NewUserRepository(conn),
		progress:    postgres.NewProgressRepository(conn),
		submissions: postgres.NewSubmissionRepository(conn),
		codes:       postgres.NewAccessCodeRepository(conn),
	}, nil
}

// openStateStores подключает Redis для состояния диалога и банов.
// Недоступный Redis не валит запуск: остаются хранилища в памяти процесса.
func openStateStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (conversation.StateStore, middleware.BanStore, *redis.Cache) {
	fallback := func() (conversation.StateStore, middleware.BanStore, *redis.Cache) {
		return memory.NewStateStore(), middleware.NewMemoryBanStore(), nil
	}
	if cfg.Redis.Disabled {
		log.Info("redis disabled: conversation state kept in memory")
		return fallback()
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.URL = cfg.Redis.URL
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	log.Info("connecting to redis...", "addr", redisCfg.Addr())
	var cache *redis.Cache
	err := retry.StartupRetrier(retry.WithMaxAttempts(3)).Do(ctx, func(ctx context.Context) error {
		c, err := redis.NewCache(ctx, redisCfg)
		if err != nil {
			return err
		}
		cache = c
		return nil
	})
	if err != nil {
		log.Warn("redis unavailable: conversation state kept in memory", "error", err)
		return fallback()
	}

	log.Info("redis connection established", "state_ttl", cfg.Redis.StateTTL.String())
	return redis.NewStateStore(cache, cfg.Redis.StateTTL, log), redis.NewBanStore(cache), cache
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func loadCatalog(path string) (*course.Catalog, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}

func catalogSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// setupAuth включает админ-API, только когда заданы пароль и ключ подписи.
func setupAuth(cfg *config.Config, log *slog.Logger) (*handlers.Authenticator, error) {
	a := cfg.Admin
	if a.JWTSecret == "" || (a.Password == "" && a.PasswordHash == "") {
		log.Warn("admin credentials are not configured: admin API disabled")
		return nil, nil
	}
	auth, err := handlers.NewAuthenticator(handlers.AuthConfig{
		Username:     a.Username,
		Password:     a.Password,
		PasswordHash: a.PasswordHash,
		JWTSecret:    a.JWTSecret,
		TokenTTL:     a.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure admin auth: %w", err)
	}
	return auth, nil
}

// runtimeStats - содержимое /api/admin/stats.
type runtimeStats struct {
	Bot         telegram.Stats                    `json:"bot"`
	TelegramAPI circuitbreaker.Snapshot           `json:"telegram_api"`
	Events      messaging.EventBusMetricsSnapshot `json:"events"`
	Jobs        []scheduler.JobInfo               `json:"jobs"`
	Storage     string                            `json:"storage"`
	DBPool      *postgres.PoolStats               `json:"db_pool,omitempty"`
}

// setupLogger настраивает slog для инфраструктуры и бота.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Observability.LogLevel)); err == nil {
		opts.Level = level
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
