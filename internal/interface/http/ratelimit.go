package http

import (
	"sync"
	"time"
)

// ipLimiter - фиксированное окно на адрес: limit запросов за window.
// Просроченные окна вычищает фоновая горутина до Stop.
type ipLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*ipWindow

	stop     chan struct{}
	stopOnce sync.Once
}

type ipWindow struct {
	start time.Time
	count int
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	l := &ipLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*ipWindow),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow считает запрос; при отказе возвращает время до конца окна.
func (l *ipLimiter) Allow(ip string) (time.Duration, bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[ip] = &ipWindow{start: now, count: 1}
		return 0, true
	}
	if w.count >= l.limit {
		return w.start.Add(l.window).Sub(now), false
	}
	w.count++
	return 0, true
}

func (l *ipLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ipLimiter) sweepLoop() {
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.sweep(l.now())
		}
	}
}

func (l *ipLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, ip)
		}
	}
}
