// Package http serves the admin API, the mini-app data endpoint, health
// checks and the Telegram webhook.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/application/query"
	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes - предел тела запросов админки.
	MaxBodyBytes int64

	AllowedOrigins []string

	// RateLimitPerMinute - запросов в минуту с одного IP, 0 - без лимита.
	RateLimitPerMinute int

	// WebhookSecret - последний сегмент пути webhook.
	WebhookSecret string

	Version string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dependencies - то, что нужно обработчикам.
type Dependencies struct {
	Progress *query.GetCourseProgressHandler
	Admin    *query.AdminQueries
	Access   *command.AccessHandler
	Review   *command.ReviewSubmissionHandler

	// Auth == nil отключает /api/admin/*.
	Auth *handlers.Authenticator

	Logger        *logger.Logger
	HealthChecker handlers.HealthChecker

	// Webhook == nil в режиме polling: маршрут не регистрируется.
	Webhook handlers.UpdateHandler

	// BotStats отдаётся в /api/admin/stats.
	BotStats func() interface{}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	mux     *http.ServeMux
	handler http.Handler
	srv     *http.Server
	limiter *ipLimiter
	webhook *handlers.TelegramWebhook

	// startedAt - unix nano запуска, 0 пока сервер не слушает.
	startedAt atomic.Int64
}

func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Progress == nil || deps.Admin == nil || deps.Access == nil || deps.Review == nil {
		return nil, errors.New("http: course handlers are required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: log.With(logger.Component("http")),
		mux:    http.NewServeMux(),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newIPLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.routes()
	s.handler = s.middleware()(s.mux)
	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

// Handler - роутер со всей цепочкой middleware.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() {
	// служебные
	for _, p := range []string{"GET /health", "GET /healthz"} {
		s.mux.HandleFunc(p, s.handleHealth)
	}
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /live", s.handleLive)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	s.mux.HandleFunc("GET /api/mini-app/user-data", s.handleMiniAppUserData)

	if s.deps.Webhook != nil {
		s.webhook = handlers.NewTelegramWebhook(s.config.WebhookSecret, s.deps.Webhook, s.logger)
		s.mux.Handle("POST /webhook/telegram/{secret}", s.webhook)
	}

	if s.deps.Auth == nil {
		s.logger.Warn("admin API disabled: credentials are not configured")
		return
	}

	limit := handlers.LimitBody(s.config.MaxBodyBytes)
	s.mux.Handle("POST /api/admin/login",
		handlers.Chain(handlers.NoStore, limit)(http.HandlerFunc(s.handleAdminLogin)))

	private := handlers.Chain(handlers.NoStore, limit, s.deps.Auth.Middleware)
	for pattern, h := range map[string]http.HandlerFunc{
		"GET /api/admin/users":                    s.handleListUsers,
		"GET /api/admin/users/{id}":               s.handleUserDetails,
		"PUT /api/admin/users/{id}/tariff":        s.handleChangeTariff,
		"GET /api/admin/modules":                  s.handleListModules,
		"GET /api/admin/modules/{id}":             s.handleModuleDetails,
		"GET /api/admin/feedback":                 s.handleListFeedback,
		"GET /api/admin/submissions":              s.handleListSubmissions,
		"POST /api/admin/submissions/{id}/review": s.handleReviewSubmission,
		"GET /api/admin/access-codes":             s.handleListAccessCodes,
		"POST /api/admin/access-codes":            s.handleAddAccessCode,
		"DELETE /api/admin/access-codes/{code}":   s.handleDeleteAccessCode,
		"GET /api/admin/stats":                    s.handleStats,
	} {
		s.mux.Handle(pattern, private(h))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start слушает адрес из Config и блокируется до Shutdown.
func (s *Server) Start() error {
	if !s.startedAt.CompareAndSwap(0, time.Now().UnixNano()) {
		return errors.New("http: server already running")
	}
	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.startedAt.Store(0)
	return fmt.Errorf("http: %w", err)
}

// Shutdown дожидается активных запросов в пределах ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.startedAt.Swap(0) == 0 {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

// Uptime - 0, если сервер не запущен.
func (s *Server) Uptime() time.Duration {
	started := s.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}
