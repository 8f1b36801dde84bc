package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/application/query"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN API
// /api/admin/*: пользователи, модули, решения, обратная связь, коды доступа.
// Все маршруты кроме login требуют Bearer токен.
// ══════════════════════════════════════════════════════════════════════════════

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tariffRequest struct {
	Tariff string `json:"tariff"`
}

type reviewRequest struct {
	Review string `json:"review"`
}

type accessCodeRequest struct {
	Code   string `json:"code"`
	Tariff string `json:"tariff"`
}

type reviewedSubmission struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	ModuleID   int        `json:"module_id"`
	Review     *string    `json:"review"`
	ReviewedAt *time.Time `json:"reviewed_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Auth
// ─────────────────────────────────────────────────────────────────────────────

// POST /api/admin/login
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	session, err := s.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("admin login rejected",
			logger.AdminUser(req.Username),
			logger.String("ip", clientIP(r)),
		)
		handlers.WriteError(w, http.StatusUnauthorized, requestID(r.Context()),
			handlers.CodeUnauthorized, err.Error())
		return
	}

	logger.FromContext(r.Context(), s.logger).Info("admin logged in", logger.AdminUser(req.Username))
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), session)
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/admin/users?page=&page_size=
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	list, err := s.deps.Admin.ListUsers(r.Context(), page)
	if err != nil {
		s.writeDomainError(w, r, "list_users", err)
		return
	}

	handlers.WriteJSONWithMeta(w, http.StatusOK, requestID(r.Context()), list.Users, &handlers.ResponseMeta{
		TotalCount: list.Total,
		Page:       list.Page,
		PageSize:   list.PageSize,
		HasMore:    page.Offset()+len(list.Users) < list.Total,
	})
}

// GET /api/admin/users/{id}
func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseUserID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "user_details", err)
		return
	}

	details, err := s.deps.Admin.UserDetails(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, "user_details", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), details)
}

// PUT /api/admin/users/{id}/tariff
func (s *Server) handleChangeTariff(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseUserID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "change_tariff", err)
		return
	}

	var req tariffRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	acc, err := s.deps.Access.ChangeTariff(r.Context(), command.ChangeTariffCommand{UserID: id, Tariff: req.Tariff})
	if err != nil {
		s.writeDomainError(w, r, "change_tariff", err)
		return
	}
	logger.FromContext(r.Context(), s.logger).Info("tariff changed",
		logger.UserID(id.Int64()),
		logger.String("tariff", acc.Tariff.String()),
	)

	details, err := s.deps.Admin.UserDetails(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, "change_tariff", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), details)
}

// ─────────────────────────────────────────────────────────────────────────────
// Modules
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/admin/modules
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), s.deps.Admin.Modules())
}

// GET /api/admin/modules/{id}
func (s *Server) handleModuleDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		handlers.WriteError(w, http.StatusBadRequest, requestID(r.Context()),
			handlers.CodeInvalidRequest, "module id must be a positive integer")
		return
	}

	for _, m := range s.deps.Admin.Modules() {
		if m.ID == id {
			handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), m)
			return
		}
	}
	s.writeDomainError(w, r, "module_details", shared.ErrUnknownModule)
}

// ─────────────────────────────────────────────────────────────────────────────
// Feedback & submissions
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/admin/feedback?user_id=&page=
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUserID(w, r)
	if !ok {
		return
	}

	items, err := s.deps.Admin.Feedback(r.Context(), userID, pageFrom(r))
	if err != nil {
		s.writeDomainError(w, r, "list_feedback", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), items)
}

// GET /api/admin/submissions?user_id=&module_id=&open=1&page=
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUserID(w, r)
	if !ok {
		return
	}

	search := query.SubmissionSearch{
		UserID:   userID,
		OnlyOpen: queryBool(r, "open"),
		Page:     pageFrom(r),
	}
	if raw := r.URL.Query().Get("module_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handlers.WriteError(w, http.StatusBadRequest, requestID(r.Context()),
				handlers.CodeInvalidRequest, "module_id must be a positive integer")
			return
		}
		mid := shared.ModuleID(n)
		search.ModuleID = &mid
	}

	items, err := s.deps.Admin.Submissions(r.Context(), search)
	if err != nil {
		s.writeDomainError(w, r, "list_submissions", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), items)
}

// POST /api/admin/submissions/{id}/review
func (s *Server) handleReviewSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		handlers.WriteError(w, http.StatusBadRequest, requestID(r.Context()),
			handlers.CodeInvalidRequest, "submission id must be a positive integer")
		return
	}

	var req reviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	sub, err := s.deps.Review.Handle(r.Context(), command.ReviewSubmissionCommand{SubmissionID: id, Review: req.Review})
	if err != nil {
		s.writeDomainError(w, r, "review_submission", err)
		return
	}

	logger.FromContext(r.Context(), s.logger).Info("submission reviewed",
		logger.SubmissionID(sub.ID),
		logger.UserID(sub.UserID.Int64()),
		logger.ModuleID(sub.ModuleID.Int()),
	)
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), reviewedSubmission{
		ID:         sub.ID,
		UserID:     sub.UserID.Int64(),
		ModuleID:   sub.ModuleID.Int(),
		Review:     sub.Review,
		ReviewedAt: sub.ReviewedAt,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Access codes
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/admin/access-codes
func (s *Server) handleListAccessCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.deps.Admin.AccessCodes(r.Context())
	if err != nil {
		s.writeDomainError(w, r, "list_access_codes", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), codes)
}

// POST /api/admin/access-codes
func (s *Server) handleAddAccessCode(w http.ResponseWriter, r *http.Request) {
	var req accessCodeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	ac, err := s.deps.Access.AddCode(r.Context(), command.AddAccessCodeCommand{Code: req.Code, Tariff: req.Tariff})
	if err != nil {
		s.writeDomainError(w, r, "add_access_code", err)
		return
	}

	handlers.WriteJSON(w, http.StatusCreated, requestID(r.Context()), query.AccessCodeDTO{
		Code:      ac.Code,
		Tariff:    ac.Tariff.String(),
		CreatedAt: ac.CreatedAt,
	})
}

// DELETE /api/admin/access-codes/{code}
func (s *Server) handleDeleteAccessCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := s.deps.Access.DeleteCode(r.Context(), code); err != nil {
		s.writeDomainError(w, r, "delete_access_code", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), map[string]string{"deleted": code})
}

// ─────────────────────────────────────────────────────────────────────────────
// Stats
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/admin/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime": s.Uptime().Round(time.Second).String(),
	}
	if s.deps.BotStats != nil {
		stats["bot"] = s.deps.BotStats()
	}
	if s.webhook != nil {
		stats["webhook"] = s.webhook.Stats()
	}
	handlers.WriteJSON(w, http.StatusOK, requestID(r.Context()), stats)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// decodeBody reads a JSON body. false - ответ об ошибке уже записан.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	reqID := requestID(r.Context())
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		handlers.WriteError(w, http.StatusRequestEntityTooLarge, reqID,
			handlers.CodePayloadTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		handlers.WriteError(w, http.StatusBadRequest, reqID,
			handlers.CodeInvalidRequest, "request body is empty")
	default:
		handlers.WriteErrorWithDetails(w, http.StatusBadRequest, reqID,
			handlers.CodeInvalidRequest, "malformed JSON body", err.Error())
	}
	return false
}

func (s *Server) optionalUserID(w http.ResponseWriter, r *http.Request) (*shared.UserID, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return nil, true
	}
	id, err := shared.ParseUserID(raw)
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, requestID(r.Context()),
			handlers.CodeInvalidRequest, fmt.Sprintf("invalid user_id %q", raw))
		return nil, false
	}
	return &id, true
}

func pageFrom(r *http.Request) shared.Pagination {
	return shared.NewPagination(
		queryInt(r, "page", 1),
		queryInt(r, "page_size", shared.DefaultPageSize),
	)
}
