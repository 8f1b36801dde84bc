package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY
// Паника в обработке обновления не роняет процесс: она становится
// *PanicInfo, а пользователь получает UserMessage.
// ══════════════════════════════════════════════════════════════════════════════

type RecoveryConfig struct {
	EnableStackTrace bool
	UserErrorMessage string

	// MaxPanicsPerMinute - сколько паник в минуту логируются со стеком.
	MaxPanicsPerMinute int

	Logger *slog.Logger
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		UserErrorMessage:   "❌ Произошла ошибка. Пожалуйста, попробуйте позже.",
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo - восстановленная паника как ошибка.
type PanicInfo struct {
	Value      interface{}
	StackTrace string
	UserID     int64
	Operation  string
	Timestamp  time.Time
}

func (p *PanicInfo) Error() string {
	return fmt.Sprintf("panic in %s for user %d: %v", p.Operation, p.UserID, p.Value)
}

type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	logged      int
}

func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	def := DefaultRecoveryConfig()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = def.UserErrorMessage
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = def.MaxPanicsPerMinute
	}
	return &RecoveryMiddleware{config: config, logger: config.Logger}
}

func (m *RecoveryMiddleware) UserMessage() string { return m.config.UserErrorMessage }

// Run вызывает fn; обычная ошибка возвращается как есть.
func (m *RecoveryMiddleware) Run(userID int64, operation string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = m.recovered(v, userID, operation)
		}
	}()
	return fn()
}

func (m *RecoveryMiddleware) recovered(v interface{}, userID int64, operation string) *PanicInfo {
	info := &PanicInfo{Value: v, UserID: userID, Operation: operation, Timestamp: time.Now()}

	// при лавине паник стек и лог пропускаются
	if !m.takeLogSlot(info.Timestamp) {
		return info
	}
	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}
	m.logger.Error("panic recovered",
		"user_id", userID,
		"operation", operation,
		"panic", fmt.Sprint(v),
		"stack", info.StackTrace,
	)
	return info
}

func (m *RecoveryMiddleware) takeLogSlot(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.windowStart) >= time.Minute {
		m.windowStart, m.logged = now, 0
	}
	if m.logged >= m.config.MaxPanicsPerMinute {
		return false
	}
	m.logged++
	return true
}
