package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

func TestEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventFeedbackSubmitted, func(e shared.Event) error {
		typed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all++
		return errors.New("boom")
	}))

	require.NoError(t, bus.Publish(shared.NewFeedbackSubmittedEvent(42, 1, "great course")))
	require.NoError(t, bus.Publish(shared.NewModuleCompletedEvent(42, 2)))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
	assert.EqualValues(t, 2, snap.HandlerFailures)
}

func TestEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventUserEnrolled, func(e shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		calls.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewUserEnrolledEvent(shared.UserID(i+1), "", "basic")))
	}
	require.NoError(t, bus.Close())

	assert.EqualValues(t, 5, calls.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewUserEnrolledEvent(1, "", "basic")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventUserEnrolled, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestEventBus_RecoveryMiddleware(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	bus.Use(RecoveryMiddleware(bus.logger), LoggingMiddleware(bus.logger))

	require.NoError(t, bus.Subscribe(shared.EventModuleCompleted, func(shared.Event) error {
		panic("handler bug")
	}))

	assert.NotPanics(t, func() {
		require.NoError(t, bus.Publish(shared.NewModuleCompletedEvent(1, 1)))
	})
	assert.EqualValues(t, 1, bus.Metrics().Snapshot().HandlerFailures)
}

func TestEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventModuleCompleted, nil))
	assert.Error(t, bus.SubscribeAll(nil))
	assert.Error(t, bus.Publish(nil))
}

func TestDispatcher_SequentialPerUser(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MaxConcurrent: 8, MailboxSize: 64})

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, d.Submit(42, func(ctx context.Context) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			defer running.Add(-1)
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, d.Stop(context.Background()))

	assert.False(t, overlap.Load(), "tasks of one user must not interleave")
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_UsersRunInParallel(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MaxConcurrent: 2, MailboxSize: 4})

	started := make(chan shared.UserID, 2)
	release := make(chan struct{})
	for _, id := range []shared.UserID{1, 2} {
		id := id
		require.NoError(t, d.Submit(id, func(ctx context.Context) error {
			started <- id
			<-release
			return nil
		}))
	}

	// Обе задачи стартуют, не дожидаясь друг друга.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("users were not processed in parallel")
		}
	}
	close(release)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_MailboxFull(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MaxConcurrent: 1, MailboxSize: 1})

	block := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, d.Submit(7, func(ctx context.Context) error {
		close(running)
		<-block
		return nil
	}))
	<-running

	require.NoError(t, d.Submit(7, func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, d.Submit(7, func(ctx context.Context) error { return nil }), ErrMailboxFull)

	close(block)
	require.NoError(t, d.Stop(context.Background()))

	snap := d.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.Submitted)
	assert.EqualValues(t, 1, snap.Rejected)
	assert.EqualValues(t, 2, snap.Executed)
}

func TestDispatcher_PanicDoesNotKillMailbox(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())

	var after atomic.Bool
	require.NoError(t, d.Submit(5, func(ctx context.Context) error { panic("bad update") }))
	require.NoError(t, d.Submit(5, func(ctx context.Context) error {
		after.Store(true)
		return nil
	}))
	require.NoError(t, d.Stop(context.Background()))

	assert.True(t, after.Load())
	assert.EqualValues(t, 1, d.Metrics().Snapshot().Failed)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())
	require.NoError(t, d.Stop(context.Background()))

	assert.ErrorIs(t, d.Submit(1, func(ctx context.Context) error { return nil }), ErrDispatcherClosed)
	assert.Error(t, d.Submit(1, nil))
}

func TestDispatcher_StopDeadlineCancelsTasks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{TaskTimeout: 0})

	require.NoError(t, d.Submit(1, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}
