// Package shared - типы, общие для всех доменных пакетов: ошибки,
// события и value objects. Без внешних зависимостей.
package shared

import (
	"errors"
	"fmt"
)

// Виды ошибок. Конкретные ошибки ниже несут один из них в Kind,
// проверка идёт через errors.Is или хелперы Is*.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrForbidden     = errors.New("forbidden")
	ErrStorage       = errors.New("storage failure")
)

// DomainError - ошибка с контекстом "domain.Op". Message безопасно
// показывать наружу (админ-API), Err - только в лог.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Unwrap отдаёт причину, а при её отсутствии - вид ошибки.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is совпадает с другой DomainError с теми же полями (кроме Err),
// с видом ошибки и с любой ошибкой в цепочке причины.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind && e.Message == t.Message
	}
	return (e.Kind != nil && errors.Is(e.Kind, target)) || (e.Err != nil && errors.Is(e.Err, target))
}

func defineError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context to a lower-level error.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// StorageError оборачивает сбой репозитория: вызывающий проверяет
// IsStorageFailure, ошибка драйвера остаётся для логов.
func StorageError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorage, "storage operation failed", err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Курс и доступ
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrNotEnrolled  = defineError("course", "CheckAccess", ErrForbidden, "user is not enrolled")
	ErrInvalidCode  = defineError("course", "ResolveCode", ErrInvalidInput, "access code is not recognised")
	ErrModuleLocked = defineError("course", "CheckAccess", ErrForbidden, "module is not available on the current tariff")

	ErrUnknownTariff       = defineError("course", "ParseTariff", ErrInvalidInput, "unknown tariff")
	ErrUnknownModule       = defineError("course", "FindModule", ErrNotFound, "module not found")
	ErrAccessCodeNotFound  = defineError("course", "DeleteCode", ErrNotFound, "access code not found")
	ErrDuplicateAccessCode = defineError("course", "AddCode", ErrAlreadyExists, "access code already exists")
	ErrEmptyAccessCode     = defineError("course", "AddCode", ErrEmptyValue, "access code cannot be empty")
)

// ─────────────────────────────────────────────────────────────────────────────
// Пользователи
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrUserNotFound      = defineError("user", "Find", ErrNotFound, "user not found")
	ErrUserAlreadyExists = defineError("user", "Create", ErrAlreadyExists, "user already exists")
	ErrInvalidUserID     = defineError("user", "Validate", ErrInvalidID, "invalid user ID")
)

// ─────────────────────────────────────────────────────────────────────────────
// Домашние задания и обратная связь
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrEmptySubmission    = defineError("submission", "Append", ErrEmptyValue, "homework submission cannot be empty")
	ErrEmptyFeedback      = defineError("submission", "AppendFeedback", ErrEmptyValue, "feedback cannot be empty")
	ErrSubmissionNotFound = defineError("submission", "Find", ErrNotFound, "submission not found")
	ErrEmptyReview        = defineError("submission", "Review", ErrEmptyValue, "review text cannot be empty")
)

// ErrStorageFailure - то, что видит пользователь при сбое хранилища.
var ErrStorageFailure = defineError("storage", "Execute", ErrStorage, "storage failure")

// ─────────────────────────────────────────────────────────────────────────────
// Классификация
// ─────────────────────────────────────────────────────────────────────────────

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool  { return errors.Is(err, ErrAlreadyExists) }
func IsStorageFailure(err error) bool { return errors.Is(err, ErrStorage) }

// IsValidation - ошибка во входных данных (HTTP 400).
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEmptyValue)
}
