// Package config читает настройки бота из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Режимы получения обновлений Telegram.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// digestOff в REVIEW_DIGEST_AT отключает ежедневную сводку.
const digestOff = "off"

// Config - все настройки процесса.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Telegram      TelegramConfig
	HTTP          HTTPConfig
	Admin         AdminConfig
	Course        CourseConfig
	Observability ObservabilityConfig
}

type AppConfig struct {
	Name            string
	Environment     Environment
	Debug           bool
	Version         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig: пустой URL вне production - in-memory хранилища.
type DatabaseConfig struct {
	URL string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration

	// SeedAccessCodes заливает коды доступа из каталога при старте.
	SeedAccessCodes bool
}

// RedisConfig: URL (redis://:pass@host:6379/0) важнее отдельных полей.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// StateTTL - срок жизни состояния диалога, 0 - бессрочно.
	StateTTL time.Duration

	// Disabled держит состояние и баны в памяти процесса.
	Disabled bool
}

type TelegramConfig struct {
	Token string
	Mode  string

	// WebhookURL - публичный базовый адрес; путь с секретом добавляет
	// WebhookEndpoint.
	WebhookURL     string
	WebhookSecret  string
	PollingTimeout time.Duration

	// UserRateLimit - сообщений в минуту от одного пользователя.
	UserRateLimit    int
	UserRateLimitBan time.Duration

	MaxConcurrentUpdates int
	MailboxSize          int

	// AdminIDs - операторы: получают обратную связь и сводки.
	AdminIDs          []int64
	NotifyConcurrency int
}

type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string

	// RateLimit - запросов в минуту с одного IP, 0 - без лимита.
	RateLimit int
}

// AdminConfig: Password для разработки, PasswordHash (bcrypt) для production.
type AdminConfig struct {
	Username     string
	Password     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

type CourseConfig struct {
	// CatalogPath - YAML-каталог вместо встроенного.
	CatalogPath string
	MiniAppURL  string

	// ReviewDigestAt - "HH:MM" по Алматы, пусто - сводка отключена.
	ReviewDigestAt string
}

type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load читает окружение и проверяет результат. Все ошибки разбора
// и валидации возвращаются одним списком.
func Load() (*Config, error) {
	e := &envReader{}

	cfg := &Config{
		App:           loadApp(e),
		Database:      loadDatabase(e),
		Redis:         loadRedis(e),
		Telegram:      loadTelegram(e),
		HTTP:          loadHTTP(e),
		Admin:         loadAdmin(e),
		Course:        loadCourse(e),
		Observability: ObservabilityConfig{LogLevel: e.str("LOG_LEVEL", "info"), LogFormat: e.str("LOG_FORMAT", "json")},
	}

	problems := append(e.errs, cfg.problems()...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("configuration errors:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return cfg, nil
}

func loadApp(e *envReader) AppConfig {
	env := Environment(e.str("APP_ENV", string(EnvDevelopment)))
	return AppConfig{
		Name:            e.str("APP_NAME", "course-bot"),
		Environment:     env,
		Debug:           env == EnvDevelopment || e.bool("APP_DEBUG", false),
		Version:         e.str("APP_VERSION", "0.1.0"),
		ShutdownTimeout: e.duration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabase(e *envReader) DatabaseConfig {
	return DatabaseConfig{
		URL:             databaseURL(e),
		MaxConns:        e.int("DB_MAX_CONNS", 25),
		MinConns:        e.int("DB_MIN_CONNS", 5),
		ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: e.duration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		QueryTimeout:    e.duration("DB_QUERY_TIMEOUT", 30*time.Second),
		SeedAccessCodes: e.bool("DB_SEED_ACCESS_CODES", true),
	}
}

// databaseURL собирает DSN из DB_* когда DATABASE_URL не задан.
func databaseURL(e *envReader) string {
	if dsn := e.str("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	host, user := e.str("DB_HOST", ""), e.str("DB_USER", "")
	if host == "" || user == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, e.str("DB_PASSWORD", "")),
		Host:     host + ":" + e.str("DB_PORT", "5432"),
		Path:     "/" + e.str("DB_NAME", "postgres"),
		RawQuery: "sslmode=" + e.str("DB_SSLMODE", "require"),
	}
	return u.String()
}

func loadRedis(e *envReader) RedisConfig {
	return RedisConfig{
		URL:          e.str("REDIS_URL", ""),
		Host:         e.str("REDIS_HOST", "localhost"),
		Port:         e.int("REDIS_PORT", 6379),
		Password:     e.str("REDIS_PASSWORD", ""),
		DB:           e.int("REDIS_DB", 0),
		PoolSize:     e.int("REDIS_POOL_SIZE", 10),
		MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		StateTTL:     e.duration("CONVERSATION_STATE_TTL", 0),
		Disabled:     e.bool("REDIS_DISABLED", false),
	}
}

func loadTelegram(e *envReader) TelegramConfig {
	return TelegramConfig{
		Token:                e.str("TELEGRAM_BOT_TOKEN", ""),
		Mode:                 strings.ToLower(e.str("TELEGRAM_MODE", ModePolling)),
		WebhookURL:           e.str("TELEGRAM_WEBHOOK_URL", ""),
		WebhookSecret:        e.str("TELEGRAM_WEBHOOK_SECRET", ""),
		PollingTimeout:       e.duration("TELEGRAM_POLLING_TIMEOUT", 60*time.Second),
		UserRateLimit:        e.int("TELEGRAM_USER_RATE_LIMIT", 20),
		UserRateLimitBan:     e.duration("TELEGRAM_USER_RATE_LIMIT_BAN", 5*time.Minute),
		MaxConcurrentUpdates: e.int("TELEGRAM_MAX_CONCURRENT_UPDATES", 100),
		MailboxSize:          e.int("TELEGRAM_MAILBOX_SIZE", 16),
		AdminIDs:             e.ids("TELEGRAM_ADMIN_IDS"),
		NotifyConcurrency:    e.int("TELEGRAM_NOTIFY_CONCURRENCY", 4),
	}
}

func loadHTTP(e *envReader) HTTPConfig {
	return HTTPConfig{
		Host:           e.str("HTTP_HOST", "0.0.0.0"),
		Port:           e.int("HTTP_PORT", 8080),
		ReadTimeout:    e.duration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   e.duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		AllowedOrigins: e.list("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		RateLimit:      e.int("HTTP_RATE_LIMIT", 120),
	}
}

func loadAdmin(e *envReader) AdminConfig {
	return AdminConfig{
		Username:     e.str("ADMIN_USERNAME", "admin"),
		Password:     e.str("ADMIN_PASSWORD", ""),
		PasswordHash: e.str("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:    e.str("ADMIN_JWT_SECRET", ""),
		TokenTTL:     e.duration("ADMIN_TOKEN_TTL", 12*time.Hour),
	}
}

func loadCourse(e *envReader) CourseConfig {
	digest := e.str("REVIEW_DIGEST_AT", "09:00")
	if strings.EqualFold(digest, digestOff) {
		digest = ""
	}
	return CourseConfig{
		CatalogPath:    e.str("COURSE_CATALOG_PATH", ""),
		MiniAppURL:     strings.TrimRight(e.str("MINI_APP_URL", ""), "/"),
		ReviewDigestAt: digest,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate reports every problem at once.
func (c *Config) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return errors.New(strings.Join(p, "; "))
	}
	return nil
}

func (c *Config) problems() []string {
	var p []string
	need := func(cond bool, msg string) {
		if !cond {
			p = append(p, msg)
		}
	}

	need(c.Telegram.Token != "", "TELEGRAM_BOT_TOKEN is required")
	need(c.Telegram.Mode == ModePolling || c.Telegram.Mode == ModeWebhook,
		fmt.Sprintf("TELEGRAM_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.Telegram.Mode))

	if c.UseWebhook() {
		need(c.Telegram.WebhookURL != "", "TELEGRAM_WEBHOOK_URL is required in webhook mode")
		need(c.Telegram.WebhookSecret != "", "TELEGRAM_WEBHOOK_SECRET is required in webhook mode")
	}

	if c.IsProduction() {
		need(c.Database.URL != "", "DATABASE_URL is required in production")
		need(c.Admin.JWTSecret != "", "ADMIN_JWT_SECRET is required in production")
		need(c.Admin.Password != "" || c.Admin.PasswordHash != "", "ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required in production")
	}

	need(c.HTTP.Port > 0 && c.HTTP.Port <= 65535, "HTTP_PORT must be 1-65535")
	need(c.Telegram.MailboxSize > 0, "TELEGRAM_MAILBOX_SIZE must be positive")
	need(c.Redis.StateTTL >= 0, "CONVERSATION_STATE_TTL cannot be negative")

	if c.Course.ReviewDigestAt != "" {
		_, err := time.Parse("15:04", c.Course.ReviewDigestAt)
		need(err == nil, `REVIEW_DIGEST_AT must be HH:MM or "off"`)
	}
	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }
func (c *Config) IsProduction() bool  { return c.App.Environment == EnvProduction }
func (c *Config) UseWebhook() bool    { return c.Telegram.Mode == ModeWebhook }

// UseMemoryStorage reports whether in-memory stores replace PostgreSQL.
func (c *Config) UseMemoryStorage() bool {
	return c.Database.URL == "" && !c.IsProduction()
}

// WebhookEndpoint - полный адрес для setWebhook: базовый URL плюс путь
// с секретом, который проверяет HTTP-сервер.
func (c *Config) WebhookEndpoint() string {
	return strings.TrimRight(c.Telegram.WebhookURL, "/") + "/webhook/telegram/" + c.Telegram.WebhookSecret
}

// ReviewDigestTime returns hour and minute of the daily digest.
// ok=false when the digest is disabled.
func (c *Config) ReviewDigestTime() (hour, minute int, ok bool) {
	if c.Course.ReviewDigestAt == "" {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", c.Course.ReviewDigestAt)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// ══════════════════════════════════════════════════════════════════════════════
// ENV READER
// ══════════════════════════════════════════════════════════════════════════════

// envReader читает переменные; пустое значение - значение по умолчанию,
// неразборчивое - ошибка в errs.
type envReader struct {
	errs []string
}

func parseEnv[T any](e *envReader, key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: cannot parse %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) str(key, def string) string {
	return parseEnv(e, key, def, func(s string) (string, error) { return s, nil })
}

func (e *envReader) int(key string, def int) int {
	return parseEnv(e, key, def, strconv.Atoi)
}

func (e *envReader) bool(key string, def bool) bool {
	return parseEnv(e, key, def, strconv.ParseBool)
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	return parseEnv(e, key, def, time.ParseDuration)
}

// list - значения через запятую, пустые элементы пропускаются.
func (e *envReader) list(key string, def []string) []string {
	return parseEnv(e, key, def, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	})
}

// ids - Telegram user id через запятую.
func (e *envReader) ids(key string) []int64 {
	return parseEnv(e, key, []int64(nil), func(s string) ([]int64, error) {
		var out []int64
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("bad id %q", part)
			}
			out = append(out, id)
		}
		return out, nil
	})
}
