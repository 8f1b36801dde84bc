// Package submission - журнал домашних заданий и обратной связи.
// Записи только добавляются; единственное изменение - ответ куратора
// на домашнее задание.
package submission

import (
	"strings"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Submission - решение домашнего задания.
type Submission struct {
	ID          int64
	UserID      shared.UserID
	ModuleID    shared.ModuleID
	Body        string
	SubmittedAt time.Time

	// Review - ответ куратора, nil пока не проверено.
	Review     *string
	ReviewedAt *time.Time
}

// IsReviewed проверяет, ответил ли куратор.
func (s *Submission) IsReviewed() bool {
	return s.Review != nil
}

// FeedbackMessage - обратная связь от пользователя.
type FeedbackMessage struct {
	ID     int64
	UserID shared.UserID
	Body   string
	SentAt time.Time
}

// NormalizeBody обрезает пробелы и проверяет, что текст не пустой.
func NormalizeBody(body string, empty error) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", empty
	}
	return body, nil
}
