// Package messaging - внутрипроцессная доставка событий и обновлений.
//
// InMemoryEventBus разносит доменные события (shared.Event) по подписчикам:
// уведомления операторам, ответы куратора. Dispatcher раскладывает входящие
// обновления Telegram по очередям пользователей, чтобы события одного
// пользователя обрабатывались строго последовательно.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// Middleware оборачивает обработчик доменного события.
type Middleware func(shared.EventHandler) shared.EventHandler

// InMemoryEventBusConfig - режим доставки.
type InMemoryEventBusConfig struct {
	// AsyncMode: Publish не ждёт обработчиков, Close ждёт.
	AsyncMode bool

	// WorkerPoolSize ограничивает число одновременно работающих
	// асинхронных обработчиков.
	WorkerPoolSize int

	Logger        *slog.Logger
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig: асинхронно, 10 обработчиков, с метриками.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10, EnableMetrics: true}
}

// InMemoryEventBus реализует shared.EventBus в памяти процесса. События
// после Publish не переживают рестарт: все мутации к этому моменту уже
// сохранены, подписчики только уведомляют.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	byType      map[shared.EventType][]shared.EventHandler
	catchAll    []shared.EventHandler
	middlewares []Middleware
	closed      bool

	async   bool
	slots   chan struct{}
	pending sync.WaitGroup

	logger  *slog.Logger
	metrics *EventBusMetrics
}

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}

	b := &InMemoryEventBus{
		byType: make(map[shared.EventType][]shared.EventHandler),
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, cfg.WorkerPoolSize),
		logger: cfg.Logger.With("component", "event_bus"),
	}
	if cfg.EnableMetrics {
		b.metrics = NewEventBusMetrics()
	}
	return b
}

// Use добавляет middleware; действует на подписки, сделанные после вызова.
func (b *InMemoryEventBus) Use(mw ...Middleware) {
	b.mu.Lock()
	b.middlewares = append(b.middlewares, mw...)
	b.mu.Unlock()
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func(h shared.EventHandler) {
		b.byType[eventType] = append(b.byType[eventType], h)
	})
}

// SubscribeAll registers a handler that sees every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func(h shared.EventHandler) {
		b.catchAll = append(b.catchAll, h)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func(shared.EventHandler)) error {
	if handler == nil {
		return errNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	for i := len(b.middlewares) - 1; i >= 0; i-- {
		handler = b.middlewares[i](handler)
	}
	add(handler)
	return nil
}

// Publish передаёт событие подписчикам. Ошибки обработчиков только
// логируются и попадают в метрики.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.catchAll...)
	if b.async {
		// Add под RLock: Close не может начать Wait раньше.
		b.pending.Add(len(handlers))
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}
	if b.metrics != nil {
		b.metrics.recordPublish(event.EventType())
	}

	for _, h := range handlers {
		if b.async {
			go b.runAsync(event, h)
		} else {
			b.run(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, h shared.EventHandler) {
	defer b.pending.Done()
	b.slots <- struct{}{}
	defer func() { <-b.slots }()
	b.run(event, h)
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := h(event)
	if b.metrics != nil {
		b.metrics.recordHandled(time.Since(start), err)
	}
	if err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}

// Close запрещает новые публикации и ждёт уже запущенные обработчики.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics is nil unless EnableMetrics was set.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARES
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryMiddleware превращает панику обработчика в ErrHandlerPanic.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panicked", "event_type", event.EventType(), "panic", r)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware пишет в debug каждое выполнение обработчика.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			logger.Debug("event handled",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"duration", time.Since(start),
				"success", err == nil,
			)
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics - счётчики шины для /api/admin/stats.
type EventBusMetrics struct {
	executions atomic.Int64
	failures   atomic.Int64
	busyNanos  atomic.Int64

	mu     sync.Mutex
	byType map[shared.EventType]int64
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{byType: make(map[shared.EventType]int64)}
}

func (m *EventBusMetrics) recordPublish(t shared.EventType) {
	m.mu.Lock()
	m.byType[t]++
	m.mu.Unlock()
}

func (m *EventBusMetrics) recordHandled(d time.Duration, err error) {
	m.executions.Add(1)
	m.busyNanos.Add(int64(d))
	if err != nil {
		m.failures.Add(1)
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of EventBusMetrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64                      `json:"total_published"`
	PublishedByType        map[shared.EventType]int64 `json:"published_by_type"`
	TotalHandlerExecs      int64                      `json:"total_handler_execs"`
	HandlerFailures        int64                      `json:"handler_failures"`
	HandlerSuccessRate     float64                    `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration              `json:"average_handler_duration"`
}

func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	snap := EventBusMetricsSnapshot{
		PublishedByType:    make(map[shared.EventType]int64),
		TotalHandlerExecs:  m.executions.Load(),
		HandlerFailures:    m.failures.Load(),
		HandlerSuccessRate: 1,
	}

	m.mu.Lock()
	for t, n := range m.byType {
		snap.PublishedByType[t] = n
		snap.TotalPublished += n
	}
	m.mu.Unlock()

	if n := snap.TotalHandlerExecs; n > 0 {
		snap.HandlerSuccessRate = float64(n-snap.HandlerFailures) / float64(n)
		snap.AverageHandlerDuration = time.Duration(m.busyNanos.Load() / n)
	}
	return snap
}
