package presenter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
)

func TestCallbackRoundTrip(t *testing.T) {
	events := []conversation.Event{
		conversation.NavigateEvent{Target: conversation.TargetMainMenu},
		conversation.NavigateEvent{Target: conversation.TargetModuleList},
		conversation.NavigateEvent{Target: conversation.TargetHomeworkList},
		conversation.NavigateEvent{Target: conversation.TargetModule, Module: 3},
		conversation.NavigateEvent{Target: conversation.TargetMaterials, Module: 8},
		conversation.NavigateEvent{Target: conversation.TargetHomework, Module: 1},
		conversation.CommandEvent{Name: conversation.CmdCompleteModule, Module: 2},
		conversation.CommandEvent{Name: conversation.CmdSubmitHomework, Module: 4},
		conversation.CommandEvent{Name: conversation.CmdAccess},
		conversation.CommandEvent{Name: conversation.CmdProgress},
		conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 5},
		conversation.CancelEvent{Flow: conversation.FlowHomework, Module: 5},
		conversation.ConfirmEvent{Flow: conversation.FlowFeedback},
		conversation.CancelEvent{Flow: conversation.FlowFeedback},
	}

	for _, ev := range events {
		data, err := EncodeCallback(ev)
		require.NoError(t, err, "%#v", ev)
		got, ok := DecodeCallback(data)
		require.True(t, ok, data)
		assert.Equal(t, ev, got, data)
	}
}

func TestEncodeCallback_Format(t *testing.T) {
	cases := map[string]conversation.Event{
		"module_3":          conversation.NavigateEvent{Target: conversation.TargetModule, Module: 3},
		"submit_homework_2": conversation.ConfirmEvent{Flow: conversation.FlowHomework, Module: 2},
		"cancel_feedback":   conversation.CancelEvent{Flow: conversation.FlowFeedback},
		"back_to_main":      conversation.NavigateEvent{Target: conversation.TargetMainMenu},
		"enter_access_code": conversation.CommandEvent{Name: conversation.CmdAccess},
	}
	for want, ev := range cases {
		got, err := EncodeCallback(ev)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := EncodeCallback(conversation.TextEvent{Body: "x"})
	assert.Error(t, err)
	_, err = EncodeCallback(conversation.NavigateEvent{Target: conversation.TargetModule})
	assert.Error(t, err)
}

func TestDecodeCallback_LegacyAndUnknown(t *testing.T) {
	ev, ok := DecodeCallback("locked_module_5")
	require.True(t, ok)
	assert.Equal(t, conversation.NavigateEvent{Target: conversation.TargetModule, Module: 5}, ev)

	ev, ok = DecodeCallback("locked_homework_6")
	require.True(t, ok)
	assert.Equal(t, conversation.NavigateEvent{Target: conversation.TargetHomework, Module: 6}, ev)

	for _, data := range []string{"", "module_", "module_x", "module_-1", "cmd_unknown", "cmd_", "whatever"} {
		_, ok := DecodeCallback(data)
		assert.False(t, ok, data)
	}
}

func TestReplyMarkup(t *testing.T) {
	markup, err := ReplyMarkup(conversation.Reply{
		Menu: conversation.MenuMain,
		Choices: [][]conversation.Choice{{
			{Label: "A", Event: conversation.NavigateEvent{Target: conversation.TargetModule, Module: 1}},
			{Label: "App", WebAppURL: "https://app.example.com/?user_id=42"},
		}},
	})
	require.NoError(t, err)
	kb, ok := markup.(*telegram.InlineKeyboardMarkup)
	require.True(t, ok, "inline keyboard wins over menu")
	assert.Equal(t, "module_1", kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "https://app.example.com/?user_id=42", kb.InlineKeyboard[0][1].WebApp.URL)

	markup, err = ReplyMarkup(conversation.Reply{Menu: conversation.MenuMain})
	require.NoError(t, err)
	menu := markup.(*telegram.ReplyKeyboardMarkup)
	assert.Equal(t, conversation.LabelModules, menu.Keyboard[0][0].Text)
	assert.Len(t, menu.Keyboard, 4)

	markup, _ = ReplyMarkup(conversation.Reply{Menu: conversation.MenuBack})
	assert.Equal(t, conversation.LabelBackToMain, markup.(*telegram.ReplyKeyboardMarkup).Keyboard[0][0].Text)

	markup, _ = ReplyMarkup(conversation.Reply{Menu: conversation.MenuRemove})
	assert.True(t, markup.(*telegram.ReplyKeyboardRemove).RemoveKeyboard)

	markup, _ = ReplyMarkup(conversation.Reply{})
	assert.Nil(t, markup)
}

// ─────────────────────────────────────────────────────────────────────────────
// Renderer
// ─────────────────────────────────────────────────────────────────────────────

type sentMessage struct {
	Method string
	Text   string
	Markup interface{}
	Alert  bool
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	editErr error
}

func (f *fakeSender) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Method: "send", Text: p.Text, Markup: p.ReplyMarkup})
	return &telegram.Message{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeSender) EditMessageText(_ context.Context, _, _ int64, text, _ string, kb *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.sent = append(f.sent, sentMessage{Method: "edit", Text: text, Markup: kb})
	return &telegram.Message{}, nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, _ string, text string, showAlert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Method: "answer", Text: text, Alert: showAlert})
	return nil
}

func (f *fakeSender) methods() []string {
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Method)
	}
	return out
}

var callbackTarget = Target{ChatID: 42, MessageID: 7, CallbackID: "cb"}

func TestRender_AlertOnlyOnCallback(t *testing.T) {
	s := &fakeSender{}
	r := NewRenderer(s, nil)

	err := r.Render(context.Background(), callbackTarget, []conversation.Reply{{Text: "Модуль 5 недоступен", Alert: true}})
	require.NoError(t, err)

	assert.Equal(t, []string{"answer"}, s.methods())
	assert.Equal(t, "Модуль 5 недоступен", s.sent[0].Text)
	assert.True(t, s.sent[0].Alert)
}

func TestRender_AlertAsMessageWithoutCallback(t *testing.T) {
	s := &fakeSender{}
	r := NewRenderer(s, nil)

	err := r.Render(context.Background(), Target{ChatID: 42}, []conversation.Reply{{Text: "locked", Alert: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"send"}, s.methods())
}

func TestRender_AlertWithChoicesAlsoSendsMessage(t *testing.T) {
	s := &fakeSender{}
	r := NewRenderer(s, nil)

	err := r.Render(context.Background(), callbackTarget, []conversation.Reply{{
		Text:    "no access",
		Alert:   true,
		Choices: [][]conversation.Choice{{{Label: "code", Event: conversation.CommandEvent{Name: conversation.CmdAccess}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer", "send"}, s.methods())
	assert.IsType(t, &telegram.InlineKeyboardMarkup{}, s.sent[1].Markup)
}

func TestRender_ReplaceEditsMessage(t *testing.T) {
	s := &fakeSender{}
	r := NewRenderer(s, nil)

	err := r.Render(context.Background(), callbackTarget, []conversation.Reply{
		{Text: "view", Replace: true},
		{Text: "menu", Menu: conversation.MenuMain},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer", "edit", "send"}, s.methods())
	assert.Equal(t, "", s.sent[0].Text)
	assert.False(t, s.sent[0].Alert)
}

func TestRender_EditFallbacks(t *testing.T) {
	t.Run("not modified is ignored", func(t *testing.T) {
		s := &fakeSender{editErr: &telegram.APIError{Code: 400, Description: "Bad Request: message is not modified"}}
		require.NoError(t, NewRenderer(s, nil).Render(context.Background(), callbackTarget, []conversation.Reply{{Text: "v", Replace: true}}))
		assert.Equal(t, []string{"answer"}, s.methods())
	})

	t.Run("other errors send a new message", func(t *testing.T) {
		s := &fakeSender{editErr: errors.New("message to edit not found")}
		require.NoError(t, NewRenderer(s, nil).Render(context.Background(), callbackTarget, []conversation.Reply{{Text: "v", Replace: true}}))
		assert.Equal(t, []string{"answer", "send"}, s.methods())
	})

	t.Run("replace from a message sends", func(t *testing.T) {
		s := &fakeSender{}
		require.NoError(t, NewRenderer(s, nil).Render(context.Background(), Target{ChatID: 1}, []conversation.Reply{{Text: "v", Replace: true}}))
		assert.Equal(t, []string{"send"}, s.methods())
	})
}

func TestAlertText(t *testing.T) {
	assert.Equal(t, "Модуль 1 & 2", AlertText("<b>Модуль 1 &amp; 2</b>"))

	long := AlertText(strings.Repeat("я", 300))
	assert.Equal(t, maxAlertLength, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}
