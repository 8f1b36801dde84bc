// Package conversation - конечный автомат диалога с пользователем.
//
// Машина получает событие (Event), текущее состояние пользователя (State)
// и хранилища, а возвращает ответы, выполненную мутацию и следующее
// состояние. С хранилищами машина работает только через интерфейсы.
//
// Состояния:
//
//	Idle
//	AwaitingAccessCode
//	AwaitingFeedbackDraft -> AwaitingFeedbackConfirm
//	AwaitingHomeworkDraft(M) -> AwaitingHomeworkConfirm(M)
//
// Ожидающие состояния не имеют таймаута. Сериализация событий одного
// пользователя обеспечивается снаружи (messaging.Dispatcher).
package conversation

import (
	"context"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Mode - режим диалога.
type Mode string

const (
	ModeIdle                    Mode = "idle"
	ModeAwaitingAccessCode      Mode = "awaiting_access_code"
	ModeAwaitingFeedbackDraft   Mode = "awaiting_feedback_draft"
	ModeAwaitingFeedbackConfirm Mode = "awaiting_feedback_confirm"
	ModeAwaitingHomeworkDraft   Mode = "awaiting_homework_draft"
	ModeAwaitingHomeworkConfirm Mode = "awaiting_homework_confirm"
)

// IsValid проверяет, что режим известен.
func (m Mode) IsValid() bool {
	switch m {
	case ModeIdle, ModeAwaitingAccessCode,
		ModeAwaitingFeedbackDraft, ModeAwaitingFeedbackConfirm,
		ModeAwaitingHomeworkDraft, ModeAwaitingHomeworkConfirm:
		return true
	}
	return false
}

// State - состояние диалога пользователя вместе с черновиком.
type State struct {
	Mode      Mode            `json:"mode"`
	ModuleID  shared.ModuleID `json:"module_id,omitempty"`
	Draft     string          `json:"draft,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Idle возвращает начальное состояние.
func Idle() State {
	return State{Mode: ModeIdle}
}

// IsIdle проверяет, что пользователь ничего не вводит.
func (s State) IsIdle() bool {
	return s.Mode == ModeIdle || s.Mode == ""
}

// Same сравнивает состояния без учёта UpdatedAt.
func (s State) Same(other State) bool {
	if s.IsIdle() && other.IsIdle() {
		return true
	}
	return s.Mode == other.Mode && s.ModuleID == other.ModuleID && s.Draft == other.Draft
}

// AwaitingAccessCode - ждём код доступа.
func AwaitingAccessCode() State {
	return State{Mode: ModeAwaitingAccessCode}
}

// AwaitingFeedbackDraft - ждём текст обратной связи.
func AwaitingFeedbackDraft() State {
	return State{Mode: ModeAwaitingFeedbackDraft}
}

// AwaitingFeedbackConfirm - черновик обратной связи ждёт подтверждения.
func AwaitingFeedbackConfirm(draft string) State {
	return State{Mode: ModeAwaitingFeedbackConfirm, Draft: draft}
}

// AwaitingHomeworkDraft - ждём решение для модуля.
func AwaitingHomeworkDraft(module shared.ModuleID) State {
	return State{Mode: ModeAwaitingHomeworkDraft, ModuleID: module}
}

// AwaitingHomeworkConfirm - решение ждёт подтверждения.
func AwaitingHomeworkConfirm(module shared.ModuleID, draft string) State {
	return State{Mode: ModeAwaitingHomeworkConfirm, ModuleID: module, Draft: draft}
}

// StateStore хранит состояние диалога по пользователю.
type StateStore interface {
	// Load возвращает состояние. Отсутствие записи - Idle без ошибки.
	Load(ctx context.Context, id shared.UserID) (State, error)

	// Save сохраняет состояние.
	Save(ctx context.Context, id shared.UserID, state State) error

	// Clear удаляет состояние (эквивалентно Idle).
	Clear(ctx context.Context, id shared.UserID) error
}
