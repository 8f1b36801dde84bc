// Package middleware - обёртки вокруг обработки одного обновления
// Telegram: лимит запросов, восстановление после паники, метрики.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Token bucket на пользователя. BanThreshold нарушений за violationWindow
// дают временный бан в BanStore, который видят все экземпляры бота.
// ══════════════════════════════════════════════════════════════════════════════

const (
	violationWindow = 5 * time.Minute
	idleBucketTTL   = 10 * time.Minute
)

type BanStore interface {
	Ban(ctx context.Context, userID int64, d time.Duration) error
	BannedFor(ctx context.Context, userID int64) (time.Duration, error)
	Unban(ctx context.Context, userID int64) error
}

type RateLimitConfig struct {
	// RequestsPerMinute - скорость пополнения корзины.
	RequestsPerMinute int
	// BurstSize - ёмкость корзины.
	BurstSize int

	CleanupInterval time.Duration
	BanDuration     time.Duration
	BanThreshold    int

	// WhitelistedUsers не ограничиваются (операторы).
	WhitelistedUsers map[int64]bool

	// Bans == nil - баны в памяти процесса.
	Bans BanStore

	Logger *slog.Logger
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      3,
		WhitelistedUsers:  map[int64]bool{},
	}
}

// RateLimitMessage - ответ пользователю, упёршемуся в лимит.
func RateLimitMessage(retryAfter time.Duration) string {
	secs := max(int(retryAfter/time.Second), 1)
	if secs < 60 {
		return fmt.Sprintf("⏳ Слишком много запросов. Подождите %d сек. и попробуйте снова.", secs)
	}
	return fmt.Sprintf("⏳ Слишком много запросов. Подождите %d мин. и попробуйте снова.", secs/60)
}

type RateLimitResult struct {
	Allowed    bool
	IsBanned   bool
	RetryAfter time.Duration

	// ResponseMessage заполнен, когда Allowed=false.
	ResponseMessage string
}

func denied(retryAfter time.Duration, banned bool) RateLimitResult {
	return RateLimitResult{IsBanned: banned, RetryAfter: retryAfter, ResponseMessage: RateLimitMessage(retryAfter)}
}

type RateLimiter struct {
	config RateLimitConfig
	bans   BanStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[int64]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

// bucket - состояние одного пользователя; защищено RateLimiter.mu.
type bucket struct {
	tokens     float64
	refilledAt time.Time

	violations   int
	lastViolated time.Time
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	orDefault := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	orDefault(&config.RequestsPerMinute, def.RequestsPerMinute)
	orDefault(&config.BurstSize, def.BurstSize)
	orDefault(&config.BanThreshold, def.BanThreshold)
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.BanDuration <= 0 {
		config.BanDuration = def.BanDuration
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	bans := config.Bans
	if bans == nil {
		bans = NewMemoryBanStore()
	}

	rl := &RateLimiter{
		config:  config,
		bans:    bans,
		logger:  config.Logger,
		now:     time.Now,
		buckets: make(map[int64]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Check тратит токен пользователя. Сбой BanStore не блокирует
// пользователя: проверка продолжается по корзине.
func (rl *RateLimiter) Check(ctx context.Context, userID int64) RateLimitResult {
	if rl.config.WhitelistedUsers[userID] {
		return RateLimitResult{Allowed: true}
	}

	switch left, err := rl.bans.BannedFor(ctx, userID); {
	case err != nil:
		rl.logger.Warn("ban lookup failed", "user_id", userID, "error", err)
	case left > 0:
		return denied(left, true)
	}

	wait, violations := rl.take(userID)
	if wait == 0 {
		return RateLimitResult{Allowed: true}
	}
	if violations < rl.config.BanThreshold {
		return denied(wait, false)
	}

	if err := rl.bans.Ban(ctx, userID, rl.config.BanDuration); err != nil {
		rl.logger.Warn("ban store failed", "user_id", userID, "error", err)
		return denied(wait, false)
	}
	rl.logger.Warn("user temporarily banned", "user_id", userID, "duration", rl.config.BanDuration)
	return denied(rl.config.BanDuration, false)
}

// take возвращает 0, если токен взят, иначе время до следующего токена
// и число нарушений в текущем окне.
func (rl *RateLimiter) take(userID int64) (time.Duration, int) {
	now := rl.now()
	capacity := float64(rl.config.BurstSize)
	perSecond := float64(rl.config.RequestsPerMinute) / 60

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{tokens: capacity, refilledAt: now}
		rl.buckets[userID] = b
	}
	if dt := now.Sub(b.refilledAt).Seconds(); dt > 0 {
		b.tokens = min(capacity, b.tokens+dt*perSecond)
		b.refilledAt = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, 0
	}

	if now.Sub(b.lastViolated) > violationWindow {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = now
	return time.Duration((1 - b.tokens) / perSecond * float64(time.Second)), b.violations
}

// Reset снимает с пользователя лимит и бан.
func (rl *RateLimiter) Reset(ctx context.Context, userID int64) error {
	rl.mu.Lock()
	delete(rl.buckets, userID)
	rl.mu.Unlock()
	return rl.bans.Unban(ctx, userID)
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	t := time.NewTicker(rl.config.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
			rl.dropIdle(rl.now())
		}
	}
}

func (rl *RateLimiter) dropIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, b := range rl.buckets {
		if now.Sub(b.refilledAt) > idleBucketTTL {
			delete(rl.buckets, id)
		}
	}
}
