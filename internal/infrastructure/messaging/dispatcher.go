package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Task - единица работы для одного пользователя (обработка одного обновления).
type Task func(ctx context.Context) error

// TaskMiddleware оборачивает задачу пользователя.
type TaskMiddleware func(userID shared.UserID, next Task) Task

// Dispatcher держит по очереди (mailbox) на пользователя.
//
// Задачи одного пользователя выполняются строго по одной в порядке
// поступления, задачи разных пользователей - параллельно, но не более
// MaxConcurrent одновременно. Горутина очереди живёт, пока в очереди
// есть задачи.
type Dispatcher struct {
	mu          sync.Mutex
	mailboxes   map[shared.UserID]chan Task
	mailboxSize int
	slots       chan struct{}
	middlewares []TaskMiddleware
	logger      *slog.Logger
	metrics     *DispatcherMetrics
	closed      bool
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// MaxConcurrent - сколько задач разных пользователей выполняется одновременно.
	MaxConcurrent int

	// MailboxSize - ёмкость очереди одного пользователя. Переполнение
	// отклоняет новую задачу с ErrMailboxFull.
	MailboxSize int

	// TaskTimeout ограничивает одну задачу (0 - без ограничения).
	TaskTimeout time.Duration

	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrent: 32,
		MailboxSize:   16,
		TaskTimeout:   30 * time.Second,
	}
}

// NewDispatcher creates a new per-user dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 32
	}
	if config.MailboxSize <= 0 {
		config.MailboxSize = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := config.Logger.With("component", "dispatcher")

	d := &Dispatcher{
		mailboxes:   make(map[shared.UserID]chan Task),
		mailboxSize: config.MailboxSize,
		slots:       make(chan struct{}, config.MaxConcurrent),
		logger:      logger,
		metrics:     NewDispatcherMetrics(),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Первым добавленный middleware оказывается внешним.
	d.middlewares = append(d.middlewares, TaskRecoveryMiddleware(logger), TaskMetricsMiddleware(d.metrics))
	if config.TaskTimeout > 0 {
		d.middlewares = append(d.middlewares, TaskTimeoutMiddleware(config.TaskTimeout))
	}

	return d
}

// Use adds a middleware to the chain.
func (d *Dispatcher) Use(mw TaskMiddleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
}

// Submit ставит задачу в очередь пользователя и сразу возвращается.
func (d *Dispatcher) Submit(userID shared.UserID, task Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	task = d.chain(userID, task)

	box, ok := d.mailboxes[userID]
	if !ok {
		box = make(chan Task, d.mailboxSize)
		d.mailboxes[userID] = box
		d.wg.Add(1)
		go d.drain(userID, box)
	}

	select {
	case box <- task:
		d.metrics.RecordSubmit()
		return nil
	default:
		d.metrics.RecordRejected()
		d.logger.Warn("mailbox is full, task rejected", "user_id", userID, "size", d.mailboxSize)
		return ErrMailboxFull
	}
}

func (d *Dispatcher) chain(userID shared.UserID, task Task) Task {
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		task = d.middlewares[i](userID, task)
	}
	return task
}

// drain выполняет задачи пользователя по одной. Проверка пустоты и
// удаление очереди идут под тем же мьютексом, что и Submit, поэтому
// задача не может попасть в уже брошенную очередь.
func (d *Dispatcher) drain(userID shared.UserID, box chan Task) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		var task Task
		select {
		case task = <-box:
		default:
			delete(d.mailboxes, userID)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		d.slots <- struct{}{}
		if err := task(d.ctx); err != nil {
			d.logger.Error("task failed", "user_id", userID, "error", err)
		}
		<-d.slots
	}
}

// Pending возвращает число пользователей с непустой очередью.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

// Stop перестаёт принимать задачи и ждёт, пока очереди опустеют.
// Если ctx истекает раньше, контекст задач отменяется.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}
}

// Metrics returns dispatcher metrics.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK MIDDLEWARES
// ══════════════════════════════════════════════════════════════════════════════

// TaskRecoveryMiddleware перехватывает панику задачи.
func TaskRecoveryMiddleware(logger *slog.Logger) TaskMiddleware {
	return func(userID shared.UserID, next Task) Task {
		return func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("task panicked",
						"user_id", userID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx)
		}
	}
}

// TaskMetricsMiddleware записывает длительность и результат задачи.
func TaskMetricsMiddleware(metrics *DispatcherMetrics) TaskMiddleware {
	return func(_ shared.UserID, next Task) Task {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)
			metrics.RecordExecution(time.Since(start), err == nil)
			return err
		}
	}
}

// TaskTimeoutMiddleware ограничивает время выполнения задачи.
func TaskTimeoutMiddleware(timeout time.Duration) TaskMiddleware {
	return func(_ shared.UserID, next Task) Task {
		return func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics tracks dispatcher performance.
type DispatcherMetrics struct {
	mu sync.RWMutex

	Submitted     int64
	Rejected      int64
	Executed      int64
	Failed        int64
	TotalDuration time.Duration
}

// NewDispatcherMetrics creates new dispatcher metrics.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{}
}

// RecordSubmit records an accepted task.
func (m *DispatcherMetrics) RecordSubmit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted++
}

// RecordRejected records a task rejected by a full mailbox.
func (m *DispatcherMetrics) RecordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rejected++
}

// RecordExecution records a finished task.
func (m *DispatcherMetrics) RecordExecution(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Executed++
	m.TotalDuration += duration
	if !success {
		m.Failed++
	}
}

// Snapshot returns a copy of current metrics.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg := time.Duration(0)
	if m.Executed > 0 {
		avg = m.TotalDuration / time.Duration(m.Executed)
	}

	return DispatcherMetricsSnapshot{
		Submitted:       m.Submitted,
		Rejected:        m.Rejected,
		Executed:        m.Executed,
		Failed:          m.Failed,
		AverageDuration: avg,
	}
}

// DispatcherMetricsSnapshot is a point-in-time snapshot.
type DispatcherMetricsSnapshot struct {
	Submitted       int64         `json:"submitted"`
	Rejected        int64         `json:"rejected"`
	Executed        int64         `json:"executed"`
	Failed          int64         `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
}

var (
	// ErrDispatcherClosed is returned by Submit after Stop.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrMailboxFull is returned when the user's mailbox is at capacity.
	ErrMailboxFull = errors.New("user mailbox is full")
)
