package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc возвращает ошибку, если зависимость недоступна.
type HealthCheckFunc func(ctx context.Context) error

// Pinger - пул pgx, клиент Redis, клиент Bot API.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) HealthCheckFunc { return p.Ping }

type HealthStatus struct {
	// Healthy - все проверки прошли.
	Healthy bool `json:"healthy"`

	// Ready - прошли все критичные проверки. Падение некритичной
	// (Redis с запасным in-memory состоянием) не снимает готовность.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registeredCheck struct {
	name     string
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker запускает проверки параллельно, каждую со
// своим таймаутом.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 3 * time.Second,
	}
}

func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck регистрирует проверку; повторное имя заменяет прежнюю.
// critical=false: сбой делает сервис нездоровым, но не снимает готовность.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i] = registeredCheck{name: name, fn: fn, critical: critical}
			return
		}
	}
	c.checks = append(c.checks, registeredCheck{name: name, fn: fn, critical: critical})
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := append([]registeredCheck(nil), c.checks...)
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "no checks registered"
		return status
	}

	// Ошибки проверок - результат, а не сбой группы: Go всегда nil.
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, chk := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, chk, timeout)
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = make(map[string]CheckResult, len(checks))
	var failed []string
	for i, chk := range checks {
		r := results[i]
		status.Checks[chk.name] = r
		if r.Healthy {
			continue
		}
		failed = append(failed, chk.name)
		status.Healthy = false
		status.Ready = status.Ready && !r.Critical
	}

	if len(failed) == 0 {
		status.Message = "all checks passed"
	} else {
		sort.Strings(failed)
		status.Message = "failed: " + strings.Join(failed, ", ")
	}
	return status
}

func runCheck(ctx context.Context, chk registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := chk.fn(ctx)
	r := CheckResult{
		Healthy:  err == nil,
		Critical: chk.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}
