package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client), mr
}

func TestStateStore_RoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	store := NewStateStore(cache, 0, nil)
	ctx := context.Background()

	st, err := store.Load(ctx, 42)
	require.NoError(t, err)
	assert.True(t, st.IsIdle())

	want := conversation.AwaitingHomeworkConfirm(2, "ответ <b>")
	require.NoError(t, store.Save(ctx, 42, want))
	assert.True(t, mr.Exists("conversation:42"))
	assert.Zero(t, mr.TTL("conversation:42"))

	got, err := store.Load(ctx, 42)
	require.NoError(t, err)
	assert.True(t, want.Same(got))

	require.NoError(t, store.Clear(ctx, 42))
	assert.False(t, mr.Exists("conversation:42"))
}

func TestStateStore_TTL(t *testing.T) {
	cache, mr := newTestCache(t)
	store := NewStateStore(cache, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, 7, conversation.AwaitingFeedbackDraft()))
	assert.Equal(t, time.Hour, mr.TTL("conversation:7"))

	mr.FastForward(2 * time.Hour)

	st, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.True(t, st.IsIdle())
}

func TestStateStore_CorruptValueIsIdle(t *testing.T) {
	cache, mr := newTestCache(t)
	store := NewStateStore(cache, 0, nil)

	require.NoError(t, mr.Set("conversation:5", "{not json"))

	st, err := store.Load(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, st.IsIdle())
	assert.False(t, mr.Exists("conversation:5"))
}

func TestStateStore_UnavailableIsStorageFailure(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStateStore(NewCacheFromClient(client), 0, nil)

	_, err := store.Load(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, shared.IsStorageFailure(err))
}

func TestBanStore(t *testing.T) {
	cache, mr := newTestCache(t)
	bans := NewBanStore(cache)
	ctx := context.Background()

	d, err := bans.BannedFor(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, d)

	require.NoError(t, bans.Ban(ctx, 9, 10*time.Minute))
	require.NoError(t, bans.Ban(ctx, 9, time.Hour))

	d, err = bans.BannedFor(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)

	mr.FastForward(11 * time.Minute)
	d, err = bans.BannedFor(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, d)

	require.NoError(t, bans.Ban(ctx, 9, time.Minute))
	require.NoError(t, bans.Unban(ctx, 9))
	d, err = bans.BannedFor(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache:6380/2"

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}
