package conversation

import "github.com/alem-hub/course-bot/internal/domain/shared"

// Event - входящее событие. Набор реализаций закрыт: транспорт
// декодирует сообщения и нажатия кнопок ровно в один из типов ниже.
type Event interface {
	isEvent()
}

// Command - логическая команда пользователя.
type Command string

const (
	CmdStart          Command = "start"
	CmdHelp           Command = "help"
	CmdMenu           Command = "menu"
	CmdAccess         Command = "access"
	CmdModules        Command = "modules"
	CmdHomework       Command = "homework"
	CmdProgress       Command = "progress"
	CmdWebApp         Command = "webapp"
	CmdFeedback       Command = "feedback"
	CmdInfo           Command = "info"
	CmdTariff         Command = "tariff"
	CmdAdmin          Command = "admin"
	CmdSubmitHomework Command = "submit_homework" // требует Module
	CmdCompleteModule Command = "complete_module" // требует Module
)

// Target - экран навигации.
type Target string

const (
	TargetMainMenu     Target = "main"
	TargetModuleList   Target = "modules"
	TargetHomeworkList Target = "homeworks"
	TargetModule       Target = "module"    // требует Module
	TargetMaterials    Target = "materials" // требует Module
	TargetHomework     Target = "homework"  // требует Module
)

// Flow - поток ввода, который подтверждается или отменяется.
type Flow string

const (
	FlowFeedback Flow = "feedback"
	FlowHomework Flow = "homework"
)

// CommandEvent - команда (/start, пункт меню, кнопка действия).
type CommandEvent struct {
	Name   Command
	Module shared.ModuleID
}

// TextEvent - произвольный текст.
type TextEvent struct {
	Body string
}

// NavigateEvent - переход на экран.
type NavigateEvent struct {
	Target Target
	Module shared.ModuleID
}

// ConfirmEvent - подтверждение черновика.
type ConfirmEvent struct {
	Flow   Flow
	Module shared.ModuleID
}

// CancelEvent - отмена черновика.
type CancelEvent struct {
	Flow   Flow
	Module shared.ModuleID
}

func (CommandEvent) isEvent()  {}
func (TextEvent) isEvent()     {}
func (NavigateEvent) isEvent() {}
func (ConfirmEvent) isEvent()  {}
func (CancelEvent) isEvent()   {}
