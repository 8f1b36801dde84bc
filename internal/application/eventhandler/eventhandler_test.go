package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/infrastructure/content"
	"github.com/alem-hub/course-bot/internal/infrastructure/messaging"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[int64][]string)
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

func TestFeedbackForwardedToOperators(t *testing.T) {
	n := &recordingNotifier{}
	notify := command.NewNotifyOperatorsHandler(n, []shared.UserID{100, 200}, 2, nil)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	require.NoError(t, NewOnFeedbackSubmittedHandler(notify, 0, nil).Register(bus))

	require.NoError(t, bus.Publish(shared.NewFeedbackSubmittedEvent(42, 1, "great <course>")))

	require.Len(t, n.sent[100], 1)
	require.Len(t, n.sent[200], 1)
	assert.Contains(t, n.sent[100][0], "пользователя 42")
	assert.Contains(t, n.sent[100][0], "great &lt;course&gt;")
}

func TestFeedbackHandler_WrongEvent(t *testing.T) {
	h := NewOnFeedbackSubmittedHandler(command.NewNotifyOperatorsHandler(&recordingNotifier{}, nil, 1, nil), 0, nil)
	assert.Error(t, h.Handle(shared.NewModuleCompletedEvent(1, 1)))
}

func TestReviewDeliveredToUser(t *testing.T) {
	n := &recordingNotifier{}
	h := NewOnHomeworkReviewedHandler(n, content.MustDefault(), 0, nil)

	require.NoError(t, h.Handle(shared.NewHomeworkReviewedEvent(42, 3, 9, "Хорошая работа")))

	require.Len(t, n.sent[42], 1)
	assert.Contains(t, n.sent[42][0], "модулю 3: Эмоциональный интеллект")
	assert.Contains(t, n.sent[42][0], "Хорошая работа")
}

func TestReviewDelivery_Error(t *testing.T) {
	n := &recordingNotifier{err: errors.New("blocked by user")}
	h := NewOnHomeworkReviewedHandler(n, content.MustDefault(), 0, nil)

	err := h.Handle(shared.NewHomeworkReviewedEvent(42, 3, 9, "ok"))
	assert.ErrorContains(t, err, "blocked by user")
}
