package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/course-bot/internal/application/query"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), map[string]interface{}{
		"name":    "course-bot",
		"version": s.config.Version,
		"status":  "running",
		"uptime":  s.Uptime().Round(time.Second).String(),
		"endpoints": map[string]string{
			"health":   "/health",
			"mini_app": "/api/mini-app/user-data?user_id={id}",
			"admin":    "/api/admin",
		},
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Context())
	if s.deps.HealthChecker == nil {
		handlers.WriteJSON(w, http.StatusOK, reqID, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	handlers.WriteJSON(w, code, reqID, status)
}

// handleReady answers readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Context())
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			handlers.WriteErrorWithDetails(w, http.StatusServiceUnavailable, reqID,
				handlers.CodeUnavailable, "service is not ready", status.Message)
			return
		}
	}
	handlers.WriteJSON(w, http.StatusOK, reqID, map[string]string{"status": "ready"})
}

// handleLive answers liveness probes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// MINI-APP
// Отдаёт проекцию без конверта: страница мини-приложения читает поля
// user/progress/homework из корня ответа.
// ══════════════════════════════════════════════════════════════════════════════

type miniAppError struct {
	Error string `json:"error"`
}

// GET /api/mini-app/user-data?user_id=N
func (s *Server) handleMiniAppUserData(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		handlers.WriteRaw(w, http.StatusBadRequest, miniAppError{Error: "User ID is required"})
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		handlers.WriteRaw(w, http.StatusBadRequest, miniAppError{Error: "User ID must be a positive integer"})
		return
	}

	dto, err := s.deps.Progress.Handle(r.Context(), query.GetCourseProgressQuery{UserID: shared.UserID(id)})
	switch {
	case err == nil:
		handlers.WriteRaw(w, http.StatusOK, dto)
	case errors.Is(err, shared.ErrUserNotFound):
		handlers.WriteRaw(w, http.StatusNotFound, miniAppError{Error: "User not found"})
	default:
		logger.FromContext(r.Context(), s.logger).Error("mini-app query failed",
			logger.UserID(id),
			logger.Err(err),
		)
		handlers.WriteRaw(w, http.StatusInternalServerError, miniAppError{Error: "Internal error"})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain errors to HTTP statuses. Подробности сбоев
// хранилища уходят только в лог.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	reqID := requestID(r.Context())

	switch {
	case shared.IsNotFound(err):
		handlers.WriteError(w, http.StatusNotFound, reqID, handlers.CodeNotFound, publicMessage(err))
	case shared.IsAlreadyExists(err):
		handlers.WriteError(w, http.StatusConflict, reqID, handlers.CodeConflict, publicMessage(err))
	case shared.IsValidation(err):
		handlers.WriteError(w, http.StatusBadRequest, reqID, handlers.CodeInvalidRequest, publicMessage(err))
	case errors.Is(err, shared.ErrForbidden):
		handlers.WriteError(w, http.StatusForbidden, reqID, handlers.CodeForbidden, publicMessage(err))
	default:
		logger.FromContext(r.Context(), s.logger).Error("admin operation failed",
			logger.Operation(op),
			logger.Err(err),
		)
		handlers.WriteError(w, http.StatusInternalServerError, reqID, handlers.CodeInternal, "internal error")
	}
}

// publicMessage отдаёт текст DomainError без внутренней цепочки.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
