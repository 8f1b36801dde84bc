package presenter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK CODEC
// callback_data <-> conversation.Event. Формат совместим с уже отправленными
// клавиатурами: module_3, submit_homework_3, back_to_main и т.д.
// ══════════════════════════════════════════════════════════════════════════════

const (
	cbBackToMain      = "back_to_main"
	cbBackToModules   = "back_to_modules"
	cbBackToHomeworks = "back_to_homeworks"
	cbEnterCode       = "enter_access_code"
	cbSubmitFeedback  = "submit_feedback"
	cbCancelFeedback  = "cancel_feedback"
	cbCommandPrefix   = "cmd_"

	// Telegram ограничивает callback_data 64 байтами.
	maxCallbackData = 64
)

// префикс -> конструктор события с номером модуля
var moduleCallbacks = []struct {
	prefix string
	event  func(shared.ModuleID) conversation.Event
}{
	{"module_", func(m shared.ModuleID) conversation.Event {
		return conversation.NavigateEvent{Target: conversation.TargetModule, Module: m}
	}},
	{"locked_module_", func(m shared.ModuleID) conversation.Event {
		return conversation.NavigateEvent{Target: conversation.TargetModule, Module: m}
	}},
	{"materials_", func(m shared.ModuleID) conversation.Event {
		return conversation.NavigateEvent{Target: conversation.TargetMaterials, Module: m}
	}},
	{"homework_", func(m shared.ModuleID) conversation.Event {
		return conversation.NavigateEvent{Target: conversation.TargetHomework, Module: m}
	}},
	{"locked_homework_", func(m shared.ModuleID) conversation.Event {
		return conversation.NavigateEvent{Target: conversation.TargetHomework, Module: m}
	}},
	{"complete_module_", func(m shared.ModuleID) conversation.Event {
		return conversation.CommandEvent{Name: conversation.CmdCompleteModule, Module: m}
	}},
	{"submit_work_", func(m shared.ModuleID) conversation.Event {
		return conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: m}
	}},
	{"submit_homework_", func(m shared.ModuleID) conversation.Event {
		return conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: m}
	}},
	{"cancel_homework_", func(m shared.ModuleID) conversation.Event {
		return conversation.CancelEvent{Flow: conversation.FlowHomework, Module: m}
	}},
}

// EncodeCallback превращает событие в callback_data.
func EncodeCallback(ev conversation.Event) (string, error) {
	var data string

	switch e := ev.(type) {
	case conversation.NavigateEvent:
		switch e.Target {
		case conversation.TargetMainMenu:
			data = cbBackToMain
		case conversation.TargetModuleList:
			data = cbBackToModules
		case conversation.TargetHomeworkList:
			data = cbBackToHomeworks
		case conversation.TargetModule:
			data = withModule("module_", e.Module)
		case conversation.TargetMaterials:
			data = withModule("materials_", e.Module)
		case conversation.TargetHomework:
			data = withModule("homework_", e.Module)
		}

	case conversation.CommandEvent:
		switch e.Name {
		case conversation.CmdCompleteModule:
			data = withModule("complete_module_", e.Module)
		case conversation.CmdSubmitHomework:
			data = withModule("submit_work_", e.Module)
		case conversation.CmdAccess:
			data = cbEnterCode
		default:
			data = cbCommandPrefix + string(e.Name)
		}

	case conversation.ConfirmEvent:
		switch e.Flow {
		case conversation.FlowHomework:
			data = withModule("submit_homework_", e.Module)
		case conversation.FlowFeedback:
			data = cbSubmitFeedback
		}

	case conversation.CancelEvent:
		switch e.Flow {
		case conversation.FlowHomework:
			data = withModule("cancel_homework_", e.Module)
		case conversation.FlowFeedback:
			data = cbCancelFeedback
		}
	}

	if data == "" {
		return "", fmt.Errorf("event %#v has no callback encoding", ev)
	}
	if len(data) > maxCallbackData {
		return "", fmt.Errorf("callback data %q exceeds %d bytes", data, maxCallbackData)
	}
	return data, nil
}

// DecodeCallback разбирает callback_data. ok=false для неизвестных данных.
func DecodeCallback(data string) (conversation.Event, bool) {
	switch data {
	case cbBackToMain:
		return conversation.NavigateEvent{Target: conversation.TargetMainMenu}, true
	case cbBackToModules:
		return conversation.NavigateEvent{Target: conversation.TargetModuleList}, true
	case cbBackToHomeworks:
		return conversation.NavigateEvent{Target: conversation.TargetHomeworkList}, true
	case cbEnterCode:
		return conversation.CommandEvent{Name: conversation.CmdAccess}, true
	case cbSubmitFeedback:
		return conversation.ConfirmEvent{Flow: conversation.FlowFeedback}, true
	case cbCancelFeedback:
		return conversation.CancelEvent{Flow: conversation.FlowFeedback}, true
	}

	for _, cb := range moduleCallbacks {
		rest, found := strings.CutPrefix(data, cb.prefix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			continue
		}
		return cb.event(shared.ModuleID(n)), true
	}

	if name, found := strings.CutPrefix(data, cbCommandPrefix); found && name != "" {
		cmd := conversation.Command(name)
		if _, known := plainCommands[cmd]; known {
			return conversation.CommandEvent{Name: cmd}, true
		}
	}

	return nil, false
}

// plainCommands - команды без номера модуля.
var plainCommands = map[conversation.Command]struct{}{
	conversation.CmdStart:    {},
	conversation.CmdHelp:     {},
	conversation.CmdMenu:     {},
	conversation.CmdAccess:   {},
	conversation.CmdModules:  {},
	conversation.CmdHomework: {},
	conversation.CmdProgress: {},
	conversation.CmdWebApp:   {},
	conversation.CmdFeedback: {},
	conversation.CmdInfo:     {},
	conversation.CmdTariff:   {},
	conversation.CmdAdmin:    {},
}

// IsPlainCommand reports whether name is a command without a module number.
func IsPlainCommand(name string) bool {
	_, ok := plainCommands[conversation.Command(name)]
	return ok
}

func withModule(prefix string, m shared.ModuleID) string {
	if m <= 0 {
		return ""
	}
	return prefix + strconv.Itoa(int(m))
}
