package telegram

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
	"github.com/alem-hub/course-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// Декодирует апдейт Telegram ровно в одно событие диалога. Команды, подписи
// кнопок меню и callback_data разбираются только здесь.
// ══════════════════════════════════════════════════════════════════════════════

// Префикс команд /homework1 … /homeworkN.
const homeworkCommandPrefix = "homework"

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Logger *slog.Logger

	// Debug включает логирование решений маршрутизации.
	Debug bool
}

// Route - результат декодирования апдейта.
type Route struct {
	Inbound conversation.Inbound
	Target  presenter.Target

	// Kind - "command", "text" или "callback", для метрик.
	Kind string
}

// Router maps updates to conversation events.
type Router struct {
	commands map[string]conversation.Command
	labels   map[string]conversation.Event
	logger   *slog.Logger
	debug    bool
}

// NewRouter creates a router with the full command surface registered.
func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	r := &Router{
		commands: make(map[string]conversation.Command),
		labels:   make(map[string]conversation.Event),
		logger:   config.Logger,
		debug:    config.Debug,
	}

	for _, cmd := range []conversation.Command{
		conversation.CmdStart,
		conversation.CmdHelp,
		conversation.CmdMenu,
		conversation.CmdAccess,
		conversation.CmdModules,
		conversation.CmdHomework,
		conversation.CmdProgress,
		conversation.CmdWebApp,
		conversation.CmdFeedback,
		conversation.CmdInfo,
		conversation.CmdTariff,
		conversation.CmdAdmin,
	} {
		r.RegisterCommand(string(cmd), cmd)
	}

	r.RegisterLabel(conversation.LabelModules, conversation.CommandEvent{Name: conversation.CmdModules})
	r.RegisterLabel(conversation.LabelHomework, conversation.CommandEvent{Name: conversation.CmdHomework})
	r.RegisterLabel(conversation.LabelProgress, conversation.CommandEvent{Name: conversation.CmdProgress})
	r.RegisterLabel(conversation.LabelWebApp, conversation.CommandEvent{Name: conversation.CmdWebApp})
	r.RegisterLabel(conversation.LabelFeedback, conversation.CommandEvent{Name: conversation.CmdFeedback})
	r.RegisterLabel(conversation.LabelInfo, conversation.CommandEvent{Name: conversation.CmdInfo})
	r.RegisterLabel(conversation.LabelTariff, conversation.CommandEvent{Name: conversation.CmdTariff})
	r.RegisterLabel(conversation.LabelBackToMain, conversation.NavigateEvent{Target: conversation.TargetMainMenu})

	return r
}

// RegisterCommand maps a slash command (without "/") to a logical command.
func (r *Router) RegisterCommand(name string, cmd conversation.Command) {
	r.commands[strings.ToLower(name)] = cmd
}

// RegisterLabel maps a reply keyboard label to an event.
func (r *Router) RegisterLabel(label string, ev conversation.Event) {
	r.labels[label] = ev
}

// Route decodes an update. ok=false - апдейт не для диалога (не личный чат,
// не текст, служебный тип). Для callback с неизвестными данными ok=true,
// а Inbound.Event == nil: на такой callback нужно только ответить.
func (r *Router) Route(u *telegram.Update) (Route, bool) {
	if u == nil {
		return Route{}, false
	}
	switch {
	case u.Message != nil:
		return r.routeMessage(u.Message)
	case u.CallbackQuery != nil:
		return r.routeCallback(u.CallbackQuery)
	default:
		return Route{}, false
	}
}

func (r *Router) routeMessage(msg *telegram.Message) (Route, bool) {
	if msg.From == nil || msg.From.IsBot || !telegram.IsPrivateChat(msg) {
		return Route{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Route{}, false
	}

	route := Route{
		Inbound: conversation.Inbound{
			UserID:  shared.UserID(msg.From.ID),
			Profile: profileOf(msg.From),
		},
		Target: presenter.Target{ChatID: msg.Chat.ID},
		Kind:   "text",
	}

	if name := telegram.ExtractCommand(msg); name != "" {
		if ev, ok := r.command(name); ok {
			route.Inbound.Event = ev
			route.Kind = "command"
			r.trace("command", route)
			return route, true
		}
	}

	if ev, ok := r.labels[strings.TrimSpace(msg.Text)]; ok {
		route.Inbound.Event = ev
		route.Kind = "command"
		r.trace("menu label", route)
		return route, true
	}

	// неизвестные /команды идут в диалог как обычный текст
	route.Inbound.Event = conversation.TextEvent{Body: msg.Text}
	r.trace("text", route)
	return route, true
}

func (r *Router) routeCallback(cq *telegram.CallbackQuery) (Route, bool) {
	if cq.From == nil {
		return Route{}, false
	}

	target := presenter.Target{ChatID: cq.From.ID, CallbackID: cq.ID}
	if cq.Message != nil && cq.Message.Chat != nil {
		target.ChatID = cq.Message.Chat.ID
		target.MessageID = cq.Message.MessageID
	}

	route := Route{
		Inbound: conversation.Inbound{
			UserID:  shared.UserID(cq.From.ID),
			Profile: profileOf(cq.From),
		},
		Target: target,
		Kind:   "callback",
	}

	ev, ok := presenter.DecodeCallback(cq.Data)
	if !ok {
		r.logger.Warn("unknown callback data", "user_id", cq.From.ID, "data", cq.Data)
		return route, true
	}
	route.Inbound.Event = ev
	r.trace("callback", route)
	return route, true
}

// command decodes /name and /homeworkN.
func (r *Router) command(name string) (conversation.Event, bool) {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return conversation.CommandEvent{Name: cmd}, true
	}

	if rest, found := strings.CutPrefix(name, homeworkCommandPrefix); found && rest != "" {
		n, err := strconv.Atoi(rest)
		if err == nil && n > 0 {
			return conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: shared.ModuleID(n)}, true
		}
	}

	return nil, false
}

func (r *Router) trace(what string, route Route) {
	if !r.debug {
		return
	}
	r.logger.Debug("update routed",
		"route", what,
		"user_id", route.Inbound.UserID,
		"event", route.Inbound.Event,
	)
}

func profileOf(u *telegram.User) user.Profile {
	return user.Profile{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
