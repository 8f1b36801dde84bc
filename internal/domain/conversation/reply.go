package conversation

import (
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// MenuKind - какую постоянную клавиатуру показать вместе с ответом.
type MenuKind int

const (
	MenuKeep   MenuKind = iota // не менять
	MenuMain                   // главное меню
	MenuBack                   // одна кнопка "вернуться в главное меню"
	MenuRemove                 // убрать клавиатуру
)

// Choice - логический выбор под сообщением. Рендеринг делает транспорт.
type Choice struct {
	Label string

	// Event - событие, которое придёт при выборе.
	Event Event

	// WebAppURL - открыть мини-приложение вместо события.
	WebAppURL string
}

// Reply - ответ пользователю.
type Reply struct {
	Text    string
	Choices [][]Choice
	Menu    MenuKind

	// Alert - короткое всплывающее уведомление, если событие пришло с кнопки.
	Alert bool

	// Replace - заменить сообщение, с кнопки которого пришло событие.
	Replace bool
}

// MutationKind - что изменилось в хранилищах.
type MutationKind string

const (
	MutationNone              MutationKind = ""
	MutationAccountCreated    MutationKind = "account_created"
	MutationTariffChanged     MutationKind = "tariff_changed"
	MutationModuleCompleted   MutationKind = "module_completed"
	MutationHomeworkSubmitted MutationKind = "homework_submitted"
	MutationFeedbackSubmitted MutationKind = "feedback_submitted"
)

// Mutation - выполненное изменение.
type Mutation struct {
	Kind     MutationKind
	ModuleID shared.ModuleID
	RecordID int64
	Tariff   course.Tariff
}

// Outcome - результат обработки события.
type Outcome struct {
	Replies  []Reply
	Mutation Mutation
	Next     State

	// Err - ошибка из таксономии (ErrNotEnrolled, ErrModuleLocked, ...),
	// уже показанная пользователю. Не фатальна.
	Err error
}
