package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
	"github.com/alem-hub/course-bot/internal/infrastructure/content"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/memory"
)

// ═══════════════════════════════════════════════════════════════════════════
// FIXTURES
// ═══════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type failingFeedback struct {
	*memory.SubmissionRepository
}

func (failingFeedback) AppendFeedback(context.Context, shared.UserID, string) (int64, error) {
	return 0, errors.New("disk full")
}

type failingStates struct {
	*memory.StateStore
}

func (failingStates) Load(context.Context, shared.UserID) (conversation.State, error) {
	return conversation.State{}, errors.New("redis down")
}

// clearFailing отказывает в Clear, пока fail=true.
type clearFailing struct {
	*memory.StateStore
	fail atomic.Bool
}

func (s *clearFailing) Clear(ctx context.Context, id shared.UserID) error {
	if s.fail.Load() {
		return errors.New("redis down")
	}
	return s.StateStore.Clear(ctx, id)
}

// flakyUsers отказывает в Get, пока fail=true; hideOnce прячет
// существующий аккаунт от одного Get (параллельная регистрация).
type flakyUsers struct {
	*memory.UserRepository
	fail     atomic.Bool
	hideOnce atomic.Bool
}

func (r *flakyUsers) Get(ctx context.Context, id shared.UserID) (*user.Account, error) {
	if r.fail.Load() {
		return nil, errors.New("connection reset")
	}
	if r.hideOnce.CompareAndSwap(true, false) {
		return nil, nil
	}
	return r.UserRepository.Get(ctx, id)
}

func withClearFailing(s *clearFailing) option {
	return func(c *conversation.Config) {
		s.StateStore = c.States.(*memory.StateStore)
		c.States = s
	}
}

func withFlakyUsers(r *flakyUsers) option {
	return func(c *conversation.Config) {
		r.UserRepository = c.Users.(*memory.UserRepository)
		c.Users = r
	}
}

type harness struct {
	machine  *conversation.Machine
	registry *course.Registry
	users    *memory.UserRepository
	progress *memory.ProgressRepository
	subs     *memory.SubmissionRepository
	states   *memory.StateStore
	events   *recordingPublisher
}

const operatorID shared.UserID = 1

type option func(*conversation.Config)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	codes := memory.NewAccessCodeRepository()
	registry := course.NewRegistry(content.MustDefault(), codes)
	_, err := registry.SeedDefaults(context.Background())
	require.NoError(t, err)

	h := &harness{
		registry: registry,
		users:    memory.NewUserRepository(),
		progress: memory.NewProgressRepository(),
		subs:     memory.NewSubmissionRepository(),
		states:   memory.NewStateStore(),
		events:   &recordingPublisher{},
	}

	cfg := conversation.Config{
		Registry:    registry,
		Users:       h.users,
		Progress:    h.progress,
		Submissions: h.subs,
		States:      h.states,
		Events:      h.events,
		Operators:   []shared.UserID{operatorID},
		MiniAppURL:  "https://example.com/app",
		Now:         func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.machine = conversation.NewMachine(cfg)
	return h
}

func (h *harness) send(t *testing.T, id shared.UserID, ev conversation.Event) conversation.Outcome {
	t.Helper()
	return h.machine.Handle(context.Background(), conversation.Inbound{
		UserID:  id,
		Profile: user.Profile{Username: "student", FirstName: "Ada"},
		Event:   ev,
	})
}

func (h *harness) state(t *testing.T, id shared.UserID) conversation.State {
	t.Helper()
	st, err := h.states.Load(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (h *harness) enroll(t *testing.T, id shared.UserID, code string) {
	t.Helper()
	h.send(t, id, conversation.CommandEvent{Name: conversation.CmdAccess})
	out := h.send(t, id, conversation.TextEvent{Body: code})
	require.NoError(t, out.Err)
}

func texts(out conversation.Outcome) string {
	s := ""
	for _, r := range out.Replies {
		s += r.Text + "\n"
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════
// ACCESS CODES
// ═══════════════════════════════════════════════════════════════════════════

func TestRedeem_BasicCodeCreatesAccount(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdAccess})
	require.Len(t, out.Replies, 1)
	assert.Equal(t, conversation.MenuRemove, out.Replies[0].Menu)
	assert.Equal(t, conversation.ModeAwaitingAccessCode, h.state(t, 42).Mode)

	out = h.send(t, 42, conversation.TextEvent{Body: "  basic123  "})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationAccountCreated, out.Mutation.Kind)
	assert.Equal(t, course.TariffBasic, out.Mutation.Tariff)
	assert.True(t, out.Next.IsIdle())
	assert.True(t, h.state(t, 42).IsIdle())
	assert.Contains(t, texts(out), "basic")

	acc, err := h.users.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, course.TariffBasic, acc.Tariff)
	assert.Equal(t, "student", acc.Username)

	assert.Equal(t, []shared.EventType{shared.EventUserEnrolled}, h.events.types())
}

func TestRedeem_InvalidCode(t *testing.T) {
	h := newHarness(t)

	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdAccess})
	out := h.send(t, 42, conversation.TextEvent{Body: "BASIC123"})

	assert.ErrorIs(t, out.Err, shared.ErrInvalidCode)
	assert.Contains(t, texts(out), "Неверный код доступа")
	assert.True(t, h.state(t, 42).IsIdle())

	acc, err := h.users.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, acc)
	assert.Empty(t, h.events.types())
}

func TestRedeem_UpgradeExistingAccount(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdAccess})
	out := h.send(t, 42, conversation.TextEvent{Body: "premium456"})

	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationTariffChanged, out.Mutation.Kind)
	assert.Equal(t, course.TariffPremium, out.Mutation.Tariff)

	acc, err := h.users.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, course.TariffPremium, acc.Tariff)

	count, err := h.users.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, []shared.EventType{shared.EventUserEnrolled, shared.EventTariffChanged}, h.events.types())
}

// ═══════════════════════════════════════════════════════════════════════════
// ACCESS CONTROL
// ═══════════════════════════════════════════════════════════════════════════

func TestRedeem_ConcurrentEnrollmentUpdatesTariff(t *testing.T) {
	users := &flakyUsers{}
	h := newHarness(t, withFlakyUsers(users))
	h.enroll(t, 42, "basic123")

	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdAccess})
	users.hideOnce.Store(true)
	out := h.send(t, 42, conversation.TextEvent{Body: "premium456"})

	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationTariffChanged, out.Mutation.Kind)
	assert.True(t, h.state(t, 42).IsIdle())

	acc, err := h.users.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, course.TariffPremium, acc.Tariff)

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	last, ok := h.events.events[len(h.events.events)-1].(shared.TariffChangedEvent)
	require.True(t, ok)
	assert.Equal(t, course.TariffBasic.String(), last.OldTariff)
	assert.Equal(t, course.TariffPremium.String(), last.NewTariff)
}

func TestNavigate_LockedModule(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	writes := h.states.Writes()

	out := h.send(t, 42, conversation.NavigateEvent{Target: conversation.TargetModule, Module: 5})

	assert.ErrorIs(t, out.Err, shared.ErrModuleLocked)
	require.Len(t, out.Replies, 1)
	assert.True(t, out.Replies[0].Alert)
	assert.Contains(t, out.Replies[0].Text, "Модуль 5 недоступен")
	assert.Equal(t, writes, h.states.Writes())
}

func TestNavigate_UnlockedModuleView(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, 42, conversation.NavigateEvent{Target: conversation.TargetModule, Module: 2})

	require.NoError(t, out.Err)
	require.Len(t, out.Replies, 1)
	assert.True(t, out.Replies[0].Replace)
	assert.Contains(t, out.Replies[0].Text, "Модуль 2:")
	assert.NotEmpty(t, out.Replies[0].Choices)
}

func TestModuleList_MarksLockedModules(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "standard123")

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdModules})

	require.Len(t, out.Replies, 1)
	rows := out.Replies[0].Choices
	require.Len(t, rows, 9)
	for i, row := range rows[:8] {
		locked := i >= 5
		assert.Equal(t, locked, strings.HasPrefix(row[0].Label, "🔒"), "module %d", i+1)
		assert.Equal(t, conversation.NavigateEvent{Target: conversation.TargetModule, Module: shared.ModuleID(i + 1)}, row[0].Event)
	}
}

func TestCommands_RequireEnrollment(t *testing.T) {
	h := newHarness(t)

	for _, cmd := range []conversation.Command{
		conversation.CmdModules, conversation.CmdHomework, conversation.CmdProgress,
		conversation.CmdTariff, conversation.CmdWebApp, conversation.CmdFeedback,
	} {
		out := h.send(t, 7, conversation.CommandEvent{Name: cmd})
		assert.ErrorIs(t, out.Err, shared.ErrNotEnrolled, cmd)
		require.Len(t, out.Replies, 1, cmd)
		assert.NotEmpty(t, out.Replies[0].Choices, cmd)
	}
	assert.True(t, h.state(t, 7).IsIdle())
}

// ═══════════════════════════════════════════════════════════════════════════
// HOMEWORK
// ═══════════════════════════════════════════════════════════════════════════

func TestHomework_SubmitFlow(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.AwaitingHomeworkDraft(2).Mode, h.state(t, 42).Mode)
	assert.Equal(t, shared.ModuleID(2), h.state(t, 42).ModuleID)

	out = h.send(t, 42, conversation.TextEvent{Body: "my <answer>"})
	require.NoError(t, out.Err)
	assert.Contains(t, texts(out), "my &lt;answer&gt;")
	st := h.state(t, 42)
	assert.Equal(t, conversation.ModeAwaitingHomeworkConfirm, st.Mode)
	assert.Equal(t, "my <answer>", st.Draft)

	out = h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationHomeworkSubmitted, out.Mutation.Kind)
	assert.True(t, h.state(t, 42).IsIdle())

	module := shared.ModuleID(2)
	subs, err := h.subs.ListFor(context.Background(), 42, &module)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "my <answer>", subs[0].Body)
	assert.Equal(t, out.Mutation.RecordID, subs[0].ID)

	assert.Contains(t, h.events.types(), shared.EventHomeworkSubmitted)

	view := h.send(t, 42, conversation.NavigateEvent{Target: conversation.TargetHomework, Module: 2})
	assert.Contains(t, texts(view), "Ваши отправленные решения")
}

func TestHomework_LockedModuleRejected(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 5})

	assert.ErrorIs(t, out.Err, shared.ErrModuleLocked)
	assert.True(t, h.state(t, 42).IsIdle())
}

func TestHomework_LockRecheckedAfterDowngrade(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "standard123")

	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 5})
	require.Equal(t, conversation.ModeAwaitingHomeworkDraft, h.state(t, 42).Mode)

	_, err := h.users.SetTariff(context.Background(), 42, course.TariffBasic)
	require.NoError(t, err)

	out := h.send(t, 42, conversation.TextEvent{Body: "answer"})
	assert.ErrorIs(t, out.Err, shared.ErrModuleLocked)
	assert.True(t, h.state(t, 42).IsIdle())

	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHomework_EmptyDraftKeepsState(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 1})

	out := h.send(t, 42, conversation.TextEvent{Body: "   \n "})

	assert.ErrorIs(t, out.Err, shared.ErrEmptySubmission)
	assert.Equal(t, conversation.ModeAwaitingHomeworkDraft, h.state(t, 42).Mode)
}

func TestHomework_ConfirmForOtherModuleIgnored(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})

	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 3})

	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	st := h.state(t, 42)
	assert.Equal(t, conversation.ModeAwaitingHomeworkConfirm, st.Mode)
	assert.Equal(t, shared.ModuleID(2), st.ModuleID)

	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHomework_TextInConfirmStateRepeatsChoices(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})

	out := h.send(t, 42, conversation.TextEvent{Body: "and one more thing"})

	require.Len(t, out.Replies, 1)
	require.Len(t, out.Replies[0].Choices, 1)
	assert.Equal(t, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2}, out.Replies[0].Choices[0][0].Event)
	assert.Equal(t, "answer", h.state(t, 42).Draft)
}

func TestHomework_CancelLeavesNoRows(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})

	out := h.send(t, 42, conversation.CancelEvent{Flow: conversation.FlowHomework, Module: 2})

	assert.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	assert.True(t, h.state(t, 42).IsIdle())

	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.NotContains(t, h.events.types(), shared.EventHomeworkSubmitted)
}

func TestHomework_StateClearFailureAfterSubmitNoDuplicate(t *testing.T) {
	states := &clearFailing{}
	h := newHarness(t, withClearFailing(states))
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})

	states.fail.Store(true)
	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})

	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationHomeworkSubmitted, out.Mutation.Kind)
	assert.True(t, out.Next.IsIdle())
	assert.NotContains(t, texts(out), "Произошла ошибка")

	// хранилище всё ещё держит черновик, повторное подтверждение его не отправит
	states.fail.Store(false)
	out = h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	assert.True(t, h.state(t, 42).IsIdle())

	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestHomework_RedraftAfterClearFailureIsSubmitted(t *testing.T) {
	states := &clearFailing{}
	h := newHarness(t, withClearFailing(states))
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})

	states.fail.Store(true)
	h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})
	states.fail.Store(false)

	// тот же текст заново: это новое решение
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})
	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})
	assert.Equal(t, conversation.MutationHomeworkSubmitted, out.Mutation.Kind)

	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

// ═══════════════════════════════════════════════════════════════════════════
// FEEDBACK
// ═══════════════════════════════════════════════════════════════════════════

func TestFeedback_SubmitFlow(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})
	assert.Equal(t, conversation.ModeAwaitingFeedbackDraft, h.state(t, 42).Mode)

	h.send(t, 42, conversation.TextEvent{Body: "great course"})
	assert.Equal(t, conversation.ModeAwaitingFeedbackConfirm, h.state(t, 42).Mode)

	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowFeedback})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationFeedbackSubmitted, out.Mutation.Kind)
	assert.True(t, h.state(t, 42).IsIdle())

	uid := shared.UserID(42)
	msgs, err := h.subs.ListFeedback(context.Background(), &uid, shared.DefaultPagination())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "great course", msgs[0].Body)

	assert.Contains(t, h.events.types(), shared.EventFeedbackSubmitted)
}

func TestFeedback_Cancel(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})
	h.send(t, 42, conversation.TextEvent{Body: "never mind"})

	out := h.send(t, 42, conversation.CancelEvent{Flow: conversation.FlowFeedback})

	assert.NoError(t, out.Err)
	assert.Contains(t, texts(out), "отменена")
	assert.True(t, h.state(t, 42).IsIdle())

	msgs, err := h.subs.ListFeedback(context.Background(), nil, shared.DefaultPagination())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFeedback_EmptyDraft(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})

	out := h.send(t, 42, conversation.TextEvent{Body: " "})

	assert.ErrorIs(t, out.Err, shared.ErrEmptyFeedback)
	assert.Equal(t, conversation.ModeAwaitingFeedbackDraft, h.state(t, 42).Mode)
}

func TestFeedback_StorageFailureKeepsConfirmState(t *testing.T) {
	failing := failingFeedback{memory.NewSubmissionRepository()}
	h := newHarness(t, func(c *conversation.Config) { c.Submissions = failing })
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})
	h.send(t, 42, conversation.TextEvent{Body: "great course"})

	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowFeedback})

	assert.True(t, shared.IsStorageFailure(out.Err))
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	st := h.state(t, 42)
	assert.Equal(t, conversation.ModeAwaitingFeedbackConfirm, st.Mode)
	assert.Equal(t, "great course", st.Draft)
	assert.NotContains(t, h.events.types(), shared.EventFeedbackSubmitted)
}

func TestFeedback_StateClearFailureAfterSendNoDuplicate(t *testing.T) {
	states := &clearFailing{}
	h := newHarness(t, withClearFailing(states))
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})
	h.send(t, 42, conversation.TextEvent{Body: "great course"})

	states.fail.Store(true)
	out := h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowFeedback})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationFeedbackSubmitted, out.Mutation.Kind)

	out = h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowFeedback})
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)

	msgs, err := h.subs.ListFeedback(context.Background(), nil, shared.DefaultPagination())
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// ═══════════════════════════════════════════════════════════════════════════
// MAIN MENU
// ═══════════════════════════════════════════════════════════════════════════

func TestMainMenu_DiscardsDraft(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 2})
	h.send(t, 42, conversation.TextEvent{Body: "answer"})
	require.Equal(t, conversation.ModeAwaitingHomeworkConfirm, h.state(t, 42).Mode)

	out := h.send(t, 42, conversation.NavigateEvent{Target: conversation.TargetMainMenu})

	assert.NoError(t, out.Err)
	assert.True(t, h.state(t, 42).IsIdle())
	require.Len(t, out.Replies, 1)
	assert.Equal(t, conversation.MenuMain, out.Replies[0].Menu)

	// черновик не отправляется задним числом
	out = h.send(t, 42, conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2})
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	subs, err := h.subs.ListFor(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMainMenu_DiscardsDraftOnStorageFailure(t *testing.T) {
	users := &flakyUsers{}
	h := newHarness(t, withFlakyUsers(users))
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})
	h.send(t, 42, conversation.TextEvent{Body: "draft text"})
	require.Equal(t, conversation.ModeAwaitingFeedbackConfirm, h.state(t, 42).Mode)

	users.fail.Store(true)
	out := h.send(t, 42, conversation.NavigateEvent{Target: conversation.TargetMainMenu})

	assert.True(t, shared.IsStorageFailure(out.Err))
	st := h.state(t, 42)
	assert.True(t, st.IsIdle())
	assert.Empty(t, st.Draft)
}

// ═══════════════════════════════════════════════════════════════════════════
// MISC
// ═══════════════════════════════════════════════════════════════════════════

func TestUnrecognizedTextInIdleChangesNothing(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, 42, conversation.TextEvent{Body: "hello?"})

	assert.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationNone, out.Mutation.Kind)
	assert.Equal(t, 0, h.states.Writes())
	count, err := h.users.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	require.Len(t, out.Replies, 1)
	assert.Equal(t, conversation.MenuMain, out.Replies[0].Menu)
}

func TestStart_ResetsFlow(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdFeedback})

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdStart})

	assert.True(t, h.state(t, 42).IsIdle())
	require.Len(t, out.Replies, 2)
	assert.Equal(t, conversation.MenuMain, out.Replies[1].Menu)
}

func TestStart_NewUserGetsAccessChoice(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, 99, conversation.CommandEvent{Name: conversation.CmdStart})

	require.Len(t, out.Replies, 1)
	require.Len(t, out.Replies[0].Choices, 1)
	assert.Equal(t, conversation.CommandEvent{Name: conversation.CmdAccess}, out.Replies[0].Choices[0][0].Event)
}

func TestCompleteModule_Progress(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdCompleteModule, Module: 1})
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.MutationModuleCompleted, out.Mutation.Kind)
	require.Len(t, out.Replies, 1)
	assert.True(t, out.Replies[0].Alert)

	// Повторная отметка не создаёт дубликат.
	h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdCompleteModule, Module: 1})
	assert.Equal(t, 1, h.progress.Rows(42))

	view := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdProgress})
	assert.Contains(t, texts(view), "33.3%")

	locked := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdCompleteModule, Module: 8})
	assert.ErrorIs(t, locked.Err, shared.ErrModuleLocked)
}

func TestAdmin_OperatorsOnly(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, operatorID, conversation.CommandEvent{Name: conversation.CmdAdmin})
	assert.Contains(t, texts(out), "Пользователей: 1")

	out = h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdAdmin})
	assert.NotContains(t, texts(out), "Админ-панель")
}

func TestWebApp_LinkCarriesUserID(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, 42, "basic123")

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdWebApp})

	require.Len(t, out.Replies, 1)
	require.Len(t, out.Replies[0].Choices, 1)
	assert.Equal(t, "https://example.com/app?user_id=42", out.Replies[0].Choices[0][0].WebAppURL)
}

func TestStateLoadFailure(t *testing.T) {
	h := newHarness(t, func(c *conversation.Config) {
		c.States = failingStates{memory.NewStateStore()}
	})

	out := h.send(t, 42, conversation.CommandEvent{Name: conversation.CmdHelp})

	assert.ErrorIs(t, out.Err, shared.ErrStorageFailure)
	assert.True(t, out.Next.IsIdle())
}

func TestMiniAppLink(t *testing.T) {
	assert.Empty(t, conversation.MiniAppLink("", 42))
	assert.Equal(t, "https://x.io/app?lang=ru&user_id=7", conversation.MiniAppLink("https://x.io/app?lang=ru", 7))
}
