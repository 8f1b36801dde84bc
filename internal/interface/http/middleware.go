package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// middleware - глобальная цепочка. Request id снаружи: его видят и
// журнал запросов, и восстановление после паники.
func (s *Server) middleware() handlers.Middleware {
	mw := []handlers.Middleware{
		s.withRequestID,
		s.withAccessLog,
		s.withRecovery,
		handlers.SecurityHeaders,
		s.withCORS,
	}
	if s.limiter != nil {
		mw = append(mw, s.withRateLimit)
	}
	return handlers.Chain(mw...)
}

type ctxKey struct{}

const maxRequestIDLen = 64

// withRequestID принимает X-Request-ID клиента или выдаёт UUID.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = logger.WithContext(ctx, s.logger.With(logger.RequestID(id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.Status()
		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", redactPath(r.URL.Path)),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
			logger.String("ip", clientIP(r)),
		}
		log := logger.FromContext(r.Context(), s.logger)
		if status >= http.StatusInternalServerError {
			log.Error("http request", fields...)
		} else {
			log.Info("http request", fields...)
		}
	})
}

// withRecovery отвечает 500 на панику обработчика. http.ErrAbortHandler
// пробрасывается: net/http сам обрывает соединение.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context(), s.logger).Error("panic recovered",
				logger.String("panic", fmt.Sprint(rec)),
				logger.String("stack", string(debug.Stack())),
				logger.String("path", redactPath(r.URL.Path)),
			)
			handlers.WriteError(w, http.StatusInternalServerError, requestID(r.Context()),
				handlers.CodeInternal, "an unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS: мини-приложение открывается внутри Telegram с другого домена.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		// preflight
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// withRateLimit ограничивает запросы по IP. Webhook не ограничивается:
// все обновления приходят с адресов Telegram.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/webhook/") {
			next.ServeHTTP(w, r)
			return
		}
		if wait, ok := s.limiter.Allow(clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
			handlers.WriteError(w, http.StatusTooManyRequests, requestID(r.Context()),
				handlers.CodeRateLimited, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter запоминает первый записанный код ответа.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
