package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// Админка получает {success, data|error, meta, request_id}; мини-приложение
// читает голый JSON (WriteRaw).
// ══════════════════════════════════════════════════════════════════════════════

const apiVersion = "v1"

type envelope struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta: поля пагинации заполняет только список пользователей.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

// Коды ошибок API.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodePayloadTooLarge = "payload_too_large"
	CodeRateLimited     = "rate_limit_exceeded"
	CodeInternal        = "internal_server_error"
	CodeUnavailable     = "service_unavailable"
)

func WriteJSON(w http.ResponseWriter, status int, requestID string, data interface{}) {
	WriteJSONWithMeta(w, status, requestID, data, nil)
}

func WriteJSONWithMeta(w http.ResponseWriter, status int, requestID string, data interface{}, meta *ResponseMeta) {
	WriteRaw(w, status, envelope{
		Success:   status < http.StatusBadRequest,
		Data:      data,
		Meta:      stamp(meta),
		RequestID: requestID,
	})
}

func WriteError(w http.ResponseWriter, status int, requestID, code, message string) {
	WriteErrorWithDetails(w, status, requestID, code, message, "")
}

func WriteErrorWithDetails(w http.ResponseWriter, status int, requestID, code, message, details string) {
	WriteRaw(w, status, envelope{
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      stamp(nil),
		RequestID: requestID,
	})
}

// WriteRaw пишет v как есть.
func WriteRaw(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func stamp(meta *ResponseMeta) *ResponseMeta {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = apiVersion
	return meta
}
