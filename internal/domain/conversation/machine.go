package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// Config - зависимости машины.
type Config struct {
	Registry    *course.Registry
	Users       user.Repository
	Progress    progress.Repository
	Submissions submission.Repository
	States      StateStore

	// Events получает доменные события после успешных мутаций (опционально).
	Events shared.EventPublisher

	// Operators могут вызывать /admin.
	Operators []shared.UserID

	// MiniAppURL - адрес страницы мини-приложения; user_id добавляется в query.
	MiniAppURL string

	Logger *slog.Logger
	Now    func() time.Time
}

// Machine обрабатывает события диалога.
type Machine struct {
	registry    *course.Registry
	users       user.Repository
	progress    progress.Repository
	submissions submission.Repository
	states      StateStore
	events      shared.EventPublisher
	operators   map[shared.UserID]struct{}
	miniAppURL  string
	logger      *slog.Logger
	now         func() time.Time

	// committed - состояние до действия, которое уже записано в хранилища,
	// но не снято из StateStore. Повторная загрузка такого состояния
	// считается Idle.
	mu        sync.Mutex
	committed map[shared.UserID]State
}

// NewMachine создаёт машину состояний.
func NewMachine(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ops := make(map[shared.UserID]struct{}, len(cfg.Operators))
	for _, id := range cfg.Operators {
		ops[id] = struct{}{}
	}

	return &Machine{
		registry:    cfg.Registry,
		users:       cfg.Users,
		progress:    cfg.Progress,
		submissions: cfg.Submissions,
		states:      cfg.States,
		events:      cfg.Events,
		operators:   ops,
		miniAppURL:  cfg.MiniAppURL,
		logger:      cfg.Logger.With("component", "conversation"),
		now:         cfg.Now,
		committed:   make(map[shared.UserID]State),
	}
}

// Inbound - событие от конкретного пользователя.
type Inbound struct {
	UserID  shared.UserID
	Profile user.Profile
	Event   Event
}

// Handle обрабатывает одно событие. Вызовы для одного пользователя
// должны быть последовательными.
func (m *Machine) Handle(ctx context.Context, in Inbound) Outcome {
	st, err := m.states.Load(ctx, in.UserID)
	if err != nil {
		m.logger.Error("load conversation state failed", "user_id", in.UserID, "error", err)
		return Outcome{
			Replies: []Reply{{Text: textGenericError}},
			Next:    Idle(),
			Err:     shared.ErrStorageFailure,
		}
	}
	if !st.Mode.IsValid() {
		st = Idle()
	}
	st = m.dropCommitted(ctx, in.UserID, st)

	out := m.decide(ctx, in, st)
	if out.Next.Same(st) {
		return out
	}

	err = m.persist(ctx, in.UserID, out.Next)
	switch {
	case err == nil:
		m.setCommitted(in.UserID, nil)

	case out.Mutation.Kind != MutationNone:
		// Запись уже в хранилище: откат состояния дал бы повторную отправку.
		m.logger.Error("save conversation state after mutation failed",
			"user_id", in.UserID,
			"mutation", out.Mutation.Kind,
			"error", err,
		)
		m.setCommitted(in.UserID, &st)

	default:
		m.logger.Error("save conversation state failed",
			"user_id", in.UserID,
			"mode", out.Next.Mode,
			"error", err,
		)
		out.Replies = append(out.Replies, Reply{Text: textGenericError})
		if out.Err == nil {
			out.Err = shared.ErrStorageFailure
		}
		out.Next = st
	}

	return out
}

// dropCommitted подменяет на Idle состояние, действие которого уже
// выполнено, и повторяет его снятие из StateStore.
func (m *Machine) dropCommitted(ctx context.Context, id shared.UserID, st State) State {
	m.mu.Lock()
	prev, ok := m.committed[id]
	m.mu.Unlock()
	if !ok {
		return st
	}
	if !prev.Same(st) {
		m.setCommitted(id, nil)
		return st
	}

	if err := m.states.Clear(ctx, id); err != nil {
		m.logger.Warn("clear committed conversation state failed", "user_id", id, "error", err)
	} else {
		m.setCommitted(id, nil)
	}
	return Idle()
}

func (m *Machine) setCommitted(id shared.UserID, st *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st == nil {
		delete(m.committed, id)
		return
	}
	m.committed[id] = *st
}

func (m *Machine) persist(ctx context.Context, id shared.UserID, next State) error {
	if next.IsIdle() {
		return m.states.Clear(ctx, id)
	}
	next.UpdatedAt = m.now().UTC()
	return m.states.Save(ctx, id, next)
}

func (m *Machine) decide(ctx context.Context, in Inbound, st State) Outcome {
	switch ev := in.Event.(type) {
	case CommandEvent:
		return m.onCommand(ctx, in, st, ev)
	case TextEvent:
		return m.onText(ctx, in, st, ev)
	case NavigateEvent:
		return m.onNavigate(ctx, in, st, ev)
	case ConfirmEvent:
		return m.onConfirm(ctx, in, st, ev)
	case CancelEvent:
		return m.onCancel(st, ev)
	}
	return unrecognized(st)
}

// ─────────────────────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────────────────────

func (m *Machine) onCommand(ctx context.Context, in Inbound, st State, ev CommandEvent) Outcome {
	switch ev.Name {
	case CmdStart:
		acc, err := m.account(ctx, in.UserID)
		if err != nil {
			return m.storageFailure(st, "start", in.UserID, err)
		}
		if acc == nil {
			return Outcome{Replies: []Reply{{Text: textWelcomeNew(), Choices: accessChoices()}}, Next: Idle()}
		}
		return Outcome{
			Replies: []Reply{
				{Text: textWelcomeBack(acc.Tariff.String())},
				mainMenu(),
			},
			Next: Idle(),
		}

	case CmdMenu:
		return m.showMainMenu(ctx, in.UserID)

	case CmdHelp:
		return stay(st, Reply{Text: textHelp})

	case CmdInfo:
		return stay(st, m.infoView())

	case CmdAccess:
		return Outcome{
			Replies: []Reply{{Text: textAccessPrompt, Menu: MenuRemove}},
			Next:    AwaitingAccessCode(),
		}

	case CmdModules:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			return stay(st, m.moduleListView(acc, false))
		})

	case CmdHomework:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			return stay(st, m.homeworkListView(acc, false))
		})

	case CmdProgress:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			view, err := m.progressView(ctx, acc)
			if err != nil {
				return m.storageFailure(st, "progress", in.UserID, err)
			}
			return stay(st, view)
		})

	case CmdTariff:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			return stay(st, m.tariffView(acc))
		})

	case CmdWebApp:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			return stay(st, m.webAppView(acc.UserID))
		})

	case CmdFeedback:
		return m.withAccount(ctx, in.UserID, st, false, func(*user.Account) Outcome {
			return Outcome{
				Replies: []Reply{{Text: textFeedbackAsk, Menu: MenuBack}},
				Next:    AwaitingFeedbackDraft(),
			}
		})

	case CmdSubmitHomework:
		return m.withAccount(ctx, in.UserID, st, false, func(acc *user.Account) Outcome {
			mod, out, ok := m.unlockedModule(acc, ev.Module, st, textHomeworkLocked)
			if !ok {
				return out
			}
			assignment := mod.Homework
			if assignment == "" {
				assignment = textNoHomework
			}
			return Outcome{
				Replies: []Reply{{Text: textHomeworkPrompt(mod.ID, assignment), Menu: MenuBack}},
				Next:    AwaitingHomeworkDraft(mod.ID),
			}
		})

	case CmdCompleteModule:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			mod, out, ok := m.unlockedModule(acc, ev.Module, st, textModuleLocked)
			if !ok {
				return out
			}
			if err := m.progress.Mark(ctx, acc.UserID, mod.ID, true); err != nil {
				return m.storageFailure(st, "mark progress", in.UserID, err)
			}
			m.publish(shared.NewModuleCompletedEvent(acc.UserID, mod.ID))
			return Outcome{
				Replies:  []Reply{{Text: textModuleCompleted(mod.ID), Alert: true}},
				Mutation: Mutation{Kind: MutationModuleCompleted, ModuleID: mod.ID},
				Next:     st,
			}
		})

	case CmdAdmin:
		if _, ok := m.operators[in.UserID]; !ok {
			return unrecognized(st)
		}
		n, err := m.users.Count(ctx)
		if err != nil {
			return m.storageFailure(st, "count users", in.UserID, err)
		}
		return stay(st, Reply{Text: textAdmin(n)})
	}

	return unrecognized(st)
}

// ─────────────────────────────────────────────────────────────────────────────
// Free text
// ─────────────────────────────────────────────────────────────────────────────

func (m *Machine) onText(ctx context.Context, in Inbound, st State, ev TextEvent) Outcome {
	switch st.Mode {
	case ModeAwaitingAccessCode:
		return m.redeem(ctx, in, ev.Body)

	case ModeAwaitingFeedbackDraft:
		draft, err := submission.NormalizeBody(ev.Body, shared.ErrEmptyFeedback)
		if err != nil {
			return Outcome{Replies: []Reply{{Text: textFeedbackEmpty}}, Next: st, Err: err}
		}
		return Outcome{
			Replies: []Reply{{Text: textFeedbackDraft(draft), Choices: confirmChoices(FlowFeedback, 0)}},
			Next:    AwaitingFeedbackConfirm(draft),
		}

	case ModeAwaitingHomeworkDraft:
		draft, err := submission.NormalizeBody(ev.Body, shared.ErrEmptySubmission)
		if err != nil {
			return Outcome{Replies: []Reply{{Text: textHomeworkEmpty}}, Next: st, Err: err}
		}
		acc, err := m.account(ctx, in.UserID)
		if err != nil {
			return m.storageFailure(st, "homework draft", in.UserID, err)
		}
		if acc == nil {
			return notEnrolled(Idle(), false)
		}
		if !m.registry.IsUnlocked(acc.Tariff, st.ModuleID) {
			return Outcome{
				Replies: []Reply{{Text: textHomeworkLocked(st.ModuleID), Menu: MenuMain}},
				Next:    Idle(),
				Err:     shared.ErrModuleLocked,
			}
		}
		return Outcome{
			Replies: []Reply{{Text: textHomeworkDraft(st.ModuleID, draft), Choices: confirmChoices(FlowHomework, st.ModuleID)}},
			Next:    AwaitingHomeworkConfirm(st.ModuleID, draft),
		}

	case ModeAwaitingFeedbackConfirm:
		return stay(st, Reply{Text: textConfirmHint, Choices: confirmChoices(FlowFeedback, 0)})

	case ModeAwaitingHomeworkConfirm:
		return stay(st, Reply{Text: textConfirmHint, Choices: confirmChoices(FlowHomework, st.ModuleID)})
	}

	return unrecognized(st)
}

// redeem обрабатывает введённый код. Любой исход возвращает в Idle.
func (m *Machine) redeem(ctx context.Context, in Inbound, code string) Outcome {
	tariff, err := m.registry.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCode) {
			return Outcome{
				Replies: []Reply{{Text: textInvalidCode, Menu: MenuRemove}},
				Next:    Idle(),
				Err:     shared.ErrInvalidCode,
			}
		}
		return m.storageFailure(Idle(), "resolve code", in.UserID, err)
	}

	acc, err := m.account(ctx, in.UserID)
	if err != nil {
		return m.storageFailure(Idle(), "redeem", in.UserID, err)
	}

	if acc != nil {
		applied, err := m.users.SetTariff(ctx, in.UserID, tariff)
		if err != nil {
			return m.storageFailure(Idle(), "set tariff", in.UserID, err)
		}
		if applied {
			m.publish(shared.NewTariffChangedEvent(in.UserID, acc.Tariff.String(), tariff.String()))
			return Outcome{
				Replies:  []Reply{{Text: textTariffUpgraded(tariff.String()), Menu: MenuMain}},
				Mutation: Mutation{Kind: MutationTariffChanged, Tariff: tariff},
				Next:     Idle(),
			}
		}
		// Запись исчезла между Get и SetTariff - создаём заново.
	}

	account, err := user.NewAccount(in.UserID, in.Profile, tariff, m.now())
	if err != nil {
		return m.storageFailure(Idle(), "new account", in.UserID, err)
	}

	err = m.users.Create(ctx, account)
	if shared.IsAlreadyExists(err) {
		// Параллельная регистрация: запись уже есть, обновляем тариф.
		existing, err := m.account(ctx, in.UserID)
		if err != nil {
			return m.storageFailure(Idle(), "redeem", in.UserID, err)
		}
		applied, err := m.users.SetTariff(ctx, in.UserID, tariff)
		if err != nil {
			return m.storageFailure(Idle(), "set tariff", in.UserID, err)
		}
		if existing == nil || !applied {
			return m.storageFailure(Idle(), "set tariff", in.UserID, shared.ErrUserNotFound)
		}
		m.publish(shared.NewTariffChangedEvent(in.UserID, existing.Tariff.String(), tariff.String()))
		return Outcome{
			Replies:  []Reply{{Text: textTariffUpgraded(tariff.String()), Menu: MenuMain}},
			Mutation: Mutation{Kind: MutationTariffChanged, Tariff: tariff},
			Next:     Idle(),
		}
	}
	if err != nil {
		return m.storageFailure(Idle(), "create account", in.UserID, err)
	}

	m.publish(shared.NewUserEnrolledEvent(in.UserID, in.Profile.Username, tariff.String()))
	return Outcome{
		Replies:  []Reply{{Text: textEnrolled(tariff.String(), m.registry.Describe(tariff)), Menu: MenuMain}},
		Mutation: Mutation{Kind: MutationAccountCreated, Tariff: tariff},
		Next:     Idle(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Navigation
// ─────────────────────────────────────────────────────────────────────────────

func (m *Machine) onNavigate(ctx context.Context, in Inbound, st State, ev NavigateEvent) Outcome {
	switch ev.Target {
	case TargetMainMenu:
		return m.showMainMenu(ctx, in.UserID)

	case TargetModuleList:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			return stay(st, m.moduleListView(acc, true))
		})

	case TargetHomeworkList:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			return stay(st, m.homeworkListView(acc, true))
		})

	case TargetModule:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			mod, out, ok := m.unlockedModule(acc, ev.Module, st, textModuleLocked)
			if !ok {
				return out
			}
			return stay(st, moduleView(mod))
		})

	case TargetMaterials:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			mod, out, ok := m.unlockedModule(acc, ev.Module, st, textModuleLocked)
			if !ok {
				return out
			}
			return stay(st, materialsView(mod))
		})

	case TargetHomework:
		return m.withAccount(ctx, in.UserID, st, true, func(acc *user.Account) Outcome {
			mod, out, ok := m.unlockedModule(acc, ev.Module, st, textHomeworkLocked)
			if !ok {
				return out
			}
			subs, err := m.submissions.ListFor(ctx, acc.UserID, &mod.ID)
			if err != nil {
				return m.storageFailure(st, "list submissions", in.UserID, err)
			}
			return stay(st, homeworkView(mod, subs))
		})
	}

	return unrecognized(st)
}

// ─────────────────────────────────────────────────────────────────────────────
// Confirm / Cancel
// ─────────────────────────────────────────────────────────────────────────────

func (m *Machine) onConfirm(ctx context.Context, in Inbound, st State, ev ConfirmEvent) Outcome {
	switch {
	case ev.Flow == FlowFeedback && st.Mode == ModeAwaitingFeedbackConfirm:
		draft, err := submission.NormalizeBody(st.Draft, shared.ErrEmptyFeedback)
		if err != nil {
			return Outcome{Replies: []Reply{{Text: textFeedbackEmpty, Alert: true}}, Next: AwaitingFeedbackDraft(), Err: err}
		}
		id, err := m.submissions.AppendFeedback(ctx, in.UserID, draft)
		if err != nil {
			return m.storageFailure(st, "append feedback", in.UserID, err)
		}
		m.publish(shared.NewFeedbackSubmittedEvent(in.UserID, id, draft))
		return Outcome{
			Replies:  []Reply{{Text: textFeedbackSent, Replace: true}, mainMenu()},
			Mutation: Mutation{Kind: MutationFeedbackSubmitted, RecordID: id},
			Next:     Idle(),
		}

	case ev.Flow == FlowHomework && st.Mode == ModeAwaitingHomeworkConfirm && ev.Module == st.ModuleID:
		draft, err := submission.NormalizeBody(st.Draft, shared.ErrEmptySubmission)
		if err != nil {
			return Outcome{Replies: []Reply{{Text: textHomeworkEmpty, Alert: true}}, Next: AwaitingHomeworkDraft(st.ModuleID), Err: err}
		}
		acc, err := m.account(ctx, in.UserID)
		if err != nil {
			return m.storageFailure(st, "confirm homework", in.UserID, err)
		}
		if acc == nil {
			return notEnrolled(Idle(), true)
		}
		if !m.registry.IsUnlocked(acc.Tariff, st.ModuleID) {
			return Outcome{
				Replies: []Reply{{Text: textHomeworkLocked(st.ModuleID), Replace: true}, mainMenu()},
				Next:    Idle(),
				Err:     shared.ErrModuleLocked,
			}
		}
		id, err := m.submissions.AppendSubmission(ctx, in.UserID, st.ModuleID, draft)
		if err != nil {
			return m.storageFailure(st, "append submission", in.UserID, err)
		}
		m.publish(shared.NewHomeworkSubmittedEvent(in.UserID, st.ModuleID, id))
		return Outcome{
			Replies:  []Reply{{Text: textHomeworkSent, Replace: true}, mainMenu()},
			Mutation: Mutation{Kind: MutationHomeworkSubmitted, ModuleID: st.ModuleID, RecordID: id},
			Next:     Idle(),
		}
	}

	return unrecognized(st)
}

func (m *Machine) onCancel(st State, ev CancelEvent) Outcome {
	switch {
	case ev.Flow == FlowFeedback &&
		(st.Mode == ModeAwaitingFeedbackConfirm || st.Mode == ModeAwaitingFeedbackDraft):
		return Outcome{Replies: []Reply{{Text: textFeedbackStop, Replace: true}, mainMenu()}, Next: Idle()}

	case ev.Flow == FlowHomework && ev.Module == st.ModuleID &&
		(st.Mode == ModeAwaitingHomeworkConfirm || st.Mode == ModeAwaitingHomeworkDraft):
		return Outcome{Replies: []Reply{{Text: textHomeworkStop, Replace: true}, mainMenu()}, Next: Idle()}
	}
	return unrecognized(st)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (m *Machine) account(ctx context.Context, id shared.UserID) (*user.Account, error) {
	return m.users.Get(ctx, id)
}

// withAccount выполняет fn для зарегистрированного пользователя.
func (m *Machine) withAccount(ctx context.Context, id shared.UserID, st State, alert bool, fn func(*user.Account) Outcome) Outcome {
	acc, err := m.account(ctx, id)
	if err != nil {
		return m.storageFailure(st, "get account", id, err)
	}
	if acc == nil {
		return notEnrolled(st, alert)
	}
	return fn(acc)
}

// unlockedModule проверяет существование модуля и доступ к нему на текущем тарифе.
func (m *Machine) unlockedModule(acc *user.Account, id shared.ModuleID, st State, locked func(shared.ModuleID) string) (course.Module, Outcome, bool) {
	mod, ok := m.registry.Catalog().Module(id)
	if !ok {
		return course.Module{}, unrecognized(st), false
	}
	if !m.registry.IsUnlocked(acc.Tariff, id) {
		return course.Module{}, Outcome{
			Replies: []Reply{{Text: locked(id), Alert: true}},
			Next:    st,
			Err:     shared.ErrModuleLocked,
		}, false
	}
	return mod, Outcome{}, true
}

// showMainMenu всегда сбрасывает черновик, даже при сбое чтения аккаунта.
func (m *Machine) showMainMenu(ctx context.Context, id shared.UserID) Outcome {
	acc, err := m.account(ctx, id)
	if err != nil {
		return m.storageFailure(Idle(), "main menu", id, err)
	}
	if acc == nil {
		return Outcome{Replies: []Reply{{Text: textNotEnrolled, Choices: accessChoices()}}, Next: Idle()}
	}
	return Outcome{Replies: []Reply{mainMenu()}, Next: Idle()}
}

func (m *Machine) storageFailure(st State, op string, id shared.UserID, err error) Outcome {
	m.logger.Error("storage operation failed", "op", op, "user_id", id, "error", err)
	return Outcome{
		Replies: []Reply{{Text: textGenericError}},
		Next:    st,
		Err:     shared.WrapError("conversation", op, shared.ErrStorage, "storage failure", err),
	}
}

func (m *Machine) publish(event shared.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(event); err != nil {
		m.logger.Warn("publish event failed", "event_type", event.EventType(), "error", err)
	}
}

func stay(st State, replies ...Reply) Outcome {
	return Outcome{Replies: replies, Next: st}
}

func unrecognized(st State) Outcome {
	return Outcome{Replies: []Reply{{Text: textUnrecognized, Menu: MenuMain}}, Next: st}
}

func notEnrolled(next State, alert bool) Outcome {
	return Outcome{
		Replies: []Reply{{Text: textNotEnrolled, Choices: accessChoices(), Alert: alert}},
		Next:    next,
		Err:     shared.ErrNotEnrolled,
	}
}

func mainMenu() Reply {
	return Reply{Text: textMainMenu, Menu: MenuMain}
}

func accessChoices() [][]Choice {
	return [][]Choice{{{Label: labelEnterCode, Event: CommandEvent{Name: CmdAccess}}}}
}

func confirmChoices(flow Flow, module shared.ModuleID) [][]Choice {
	return [][]Choice{{
		{Label: labelSend, Event: ConfirmEvent{Flow: flow, Module: module}},
		{Label: labelCancel, Event: CancelEvent{Flow: flow, Module: module}},
	}}
}
