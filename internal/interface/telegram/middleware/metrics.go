package middleware

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// Счётчики и гистограмма задержек по типам входящих событий.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// HistogramBuckets - верхние границы корзин в миллисекундах.
	HistogramBuckets []float64

	SlowRequestThreshold time.Duration

	Logger *slog.Logger
}

// DefaultMetricsConfig returns defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		HistogramBuckets:     []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		SlowRequestThreshold: 2 * time.Second,
	}
}

// MetricsMiddleware collects per-kind request metrics.
type MetricsMiddleware struct {
	config MetricsConfig
	logger *slog.Logger

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	kinds sync.Map // map[string]*kindMetrics

	histMu  sync.Mutex
	buckets []int64
}

type kindMetrics struct {
	total         atomic.Int64
	errors        atomic.Int64
	totalDuration atomic.Int64
	maxDuration   atomic.Int64
}

// NewMetricsMiddleware creates the middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = DefaultMetricsConfig().HistogramBuckets
	}
	sort.Float64s(config.HistogramBuckets)
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MetricsMiddleware{
		config:  config,
		logger:  config.Logger,
		buckets: make([]int64, len(config.HistogramBuckets)+1),
	}
}

// RequestContext tracks one request.
type RequestContext struct {
	Kind      string
	UserID    int64
	StartTime time.Time

	m *MetricsMiddleware
}

// Start begins tracking a request.
func (m *MetricsMiddleware) Start(kind string, userID int64) *RequestContext {
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)
	return &RequestContext{Kind: kind, UserID: userID, StartTime: time.Now(), m: m}
}

// End finishes tracking.
func (rc *RequestContext) End(err error) {
	m := rc.m
	d := time.Since(rc.StartTime)
	m.activeRequests.Add(-1)

	km := m.kind(rc.Kind)
	km.total.Add(1)
	if err != nil {
		km.errors.Add(1)
		m.totalErrors.Add(1)
	}
	km.totalDuration.Add(int64(d))
	for {
		cur := km.maxDuration.Load()
		if int64(d) <= cur || km.maxDuration.CompareAndSwap(cur, int64(d)) {
			break
		}
	}

	m.observe(d)

	if m.config.SlowRequestThreshold > 0 && d > m.config.SlowRequestThreshold {
		m.logger.Warn("slow update", "kind", rc.Kind, "user_id", rc.UserID, "duration", d)
	}
}

func (m *MetricsMiddleware) kind(name string) *kindMetrics {
	if v, ok := m.kinds.Load(name); ok {
		return v.(*kindMetrics)
	}
	v, _ := m.kinds.LoadOrStore(name, &kindMetrics{})
	return v.(*kindMetrics)
}

func (m *MetricsMiddleware) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	idx := sort.SearchFloat64s(m.config.HistogramBuckets, ms)

	m.histMu.Lock()
	m.buckets[idx]++
	m.histMu.Unlock()
}

// KindSnapshot - метрики одного типа событий.
type KindSnapshot struct {
	Total       int64         `json:"total"`
	Errors      int64         `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	MaxDuration time.Duration `json:"max_duration_ns"`
}

// MetricsSnapshot - снимок всех метрик.
type MetricsSnapshot struct {
	TotalRequests  int64                   `json:"total_requests"`
	TotalErrors    int64                   `json:"total_errors"`
	ActiveRequests int64                   `json:"active_requests"`
	Kinds          map[string]KindSnapshot `json:"kinds"`
	Histogram      map[string]int64        `json:"latency_histogram_ms"`
}

// Snapshot returns current values.
func (m *MetricsMiddleware) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
		Kinds:          make(map[string]KindSnapshot),
		Histogram:      make(map[string]int64),
	}

	m.kinds.Range(func(key, value interface{}) bool {
		km := value.(*kindMetrics)
		ks := KindSnapshot{
			Total:       km.total.Load(),
			Errors:      km.errors.Load(),
			MaxDuration: time.Duration(km.maxDuration.Load()),
		}
		if ks.Total > 0 {
			ks.AvgDuration = time.Duration(km.totalDuration.Load() / ks.Total)
		}
		s.Kinds[key.(string)] = ks
		return true
	})

	m.histMu.Lock()
	defer m.histMu.Unlock()
	for i, n := range m.buckets {
		label := "+Inf"
		if i < len(m.config.HistogramBuckets) {
			label = formatBucket(m.config.HistogramBuckets[i])
		}
		s.Histogram["le_"+label] = n
	}

	return s
}

func formatBucket(v float64) string {
	return time.Duration(v * float64(time.Millisecond)).String()
}
