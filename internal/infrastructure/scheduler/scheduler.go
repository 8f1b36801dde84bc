// Package scheduler запускает фоновые задачи бота по расписанию
// (ежедневная сводка непроверенных домашних заданий).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrJobExists      = errors.New("job already registered")
	ErrJobNotFound    = errors.New("job not found")
)

// Job - фоновая задача.
type Job interface {
	Name() string

	// Run выполняет задачу; ctx отменяется при остановке планировщика.
	Run(ctx context.Context) error
}

// Schedule вычисляет следующий запуск.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config holds scheduler settings.
type Config struct {
	// Tick - как часто проверять наступившие задачи.
	Tick time.Duration

	// JobTimeout ограничивает один запуск (0 - без ограничения).
	JobTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:       30 * time.Second,
		JobTimeout: 5 * time.Minute,
	}
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	nextRun  time.Time
	lastRun  time.Time
	lastErr  error
	runs     int64
	failures int64
	busy     bool
}

// Scheduler runs registered jobs. Один и тот же job не перекрывается сам с собой.
type Scheduler struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Tick <= 0 {
		config.Tick = DefaultConfig().Tick
	}
	return &Scheduler{
		config: config,
		logger: config.Logger.With("component", "scheduler"),
		now:    time.Now,
		jobs:   make(map[string]*scheduledJob),
	}
}

// Register adds a job. Первый запуск - по расписанию, не сразу.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	s.jobs[name] = &scheduledJob{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(s.now()),
	}
	s.logger.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", s.jobs[name].nextRun)
	return nil
}

// Start launches the loop and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for them.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.busy && !now.Before(sj.nextRun) {
			sj.busy = true
			sj.nextRun = sj.schedule.Next(now)
			due = append(due, sj)
		}
	}
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			_ = s.execute(ctx, sj)
		}(sj)
	}
}

// RunNow выполняет задачу вне расписания и ждёт результата.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if sj.busy {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already running", name)
	}
	sj.busy = true
	s.mu.Unlock()

	return s.execute(ctx, sj)
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) error {
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	name := sj.job.Name()
	start := s.now()
	err := runSafely(ctx, sj.job)
	duration := time.Since(start)

	s.mu.Lock()
	sj.busy = false
	sj.lastRun = start
	sj.lastErr = err
	sj.runs++
	if err != nil {
		sj.failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", duration.String())
	}
	return err
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo - состояние задачи для /api/admin/stats.
type JobInfo struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
}

// Jobs returns registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		info := JobInfo{
			Name:     name,
			Schedule: sj.schedule.String(),
			NextRun:  sj.nextRun,
			LastRun:  sj.lastRun,
			Runs:     sj.runs,
			Failures: sj.failures,
		}
		if sj.lastErr != nil {
			info.LastError = sj.lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
