package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
	"github.com/alem-hub/course-bot/internal/infrastructure/content"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/memory"
)

type fixture struct {
	registry *course.Registry
	users    *memory.UserRepository
	progress *memory.ProgressRepository
	subs     *memory.SubmissionRepository
	codes    *memory.AccessCodeRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    memory.NewUserRepository(),
		progress: memory.NewProgressRepository(),
		subs:     memory.NewSubmissionRepository(),
		codes:    memory.NewAccessCodeRepository(),
	}
	f.registry = course.NewRegistry(content.MustDefault(), f.codes)
	_, err := f.registry.SeedDefaults(context.Background())
	require.NoError(t, err)
	return f
}

func (f *fixture) enroll(t *testing.T, id shared.UserID, tariff course.Tariff) {
	t.Helper()
	acc, err := user.NewAccount(id, user.Profile{Username: "student", FirstName: "Айгерим"}, tariff, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.users.Create(context.Background(), acc))
}

func TestGetCourseProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, 42, course.TariffBasic)

	require.NoError(t, f.progress.Mark(ctx, 42, 1, true))
	require.NoError(t, f.progress.Mark(ctx, 42, 7, true)) // вне тарифа
	_, err := f.subs.AppendSubmission(ctx, 42, 2, "a")
	require.NoError(t, err)
	_, err = f.subs.AppendSubmission(ctx, 42, 2, "b")
	require.NoError(t, err)

	h := NewGetCourseProgressHandler(f.registry, f.users, f.progress, f.subs)
	dto, err := h.Handle(ctx, GetCourseProgressQuery{UserID: 42})
	require.NoError(t, err)

	assert.Equal(t, int64(42), dto.User.UserID)
	assert.Equal(t, "basic", dto.User.Tariff)
	assert.Equal(t, 33, dto.Progress.Percentage)
	require.Len(t, dto.Progress.Modules, 3)
	assert.True(t, dto.Progress.Modules[0].Completed)
	assert.False(t, dto.Progress.Modules[1].Completed)
	assert.Equal(t, "Убеждения и внутренние ограничения", dto.Progress.Modules[1].Name)

	require.Len(t, dto.Homework, 3)
	assert.Equal(t, 0, dto.Homework[0].SubmissionsCount)
	assert.Equal(t, 2, dto.Homework[1].SubmissionsCount)
}

func TestGetCourseProgress_NotEnrolled(t *testing.T) {
	f := newFixture(t)
	h := NewGetCourseProgressHandler(f.registry, f.users, f.progress, f.subs)

	_, err := h.Handle(context.Background(), GetCourseProgressQuery{UserID: 7})
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	_, err = h.Handle(context.Background(), GetCourseProgressQuery{})
	assert.Error(t, err)
}

func TestAdminQueries_UsersAndDetails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, 1, course.TariffBasic)
	f.enroll(t, 2, course.TariffPremium)

	_, err := f.subs.AppendSubmission(ctx, 2, 5, "solution")
	require.NoError(t, err)
	_, err = f.subs.AppendFeedback(ctx, 2, "thanks")
	require.NoError(t, err)
	require.NoError(t, f.progress.Mark(ctx, 2, 5, true))

	q := NewAdminQueries(f.registry, f.users, f.progress, f.subs, f.codes)

	list, err := q.ListUsers(ctx, shared.NewPagination(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Users, 1)

	details, err := q.UserDetails(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Айгерим", details.Account.DisplayName)
	assert.Equal(t, 13, details.Progress.Percentage)
	require.Len(t, details.Submissions, 1)
	assert.Equal(t, "Отношения и границы", details.Submissions[0].ModuleName)
	require.Len(t, details.Feedback, 1)
	assert.Equal(t, "thanks", details.Feedback[0].Body)

	_, err = q.UserDetails(ctx, 99)
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestAdminQueries_SubmissionsFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.subs.AppendSubmission(ctx, 1, 1, "one")
	require.NoError(t, err)
	_, err = f.subs.AppendSubmission(ctx, 1, 2, "two")
	require.NoError(t, err)
	require.NoError(t, f.subs.SetReview(ctx, first, "ok"))

	q := NewAdminQueries(f.registry, f.users, f.progress, f.subs, f.codes)

	open, err := q.Submissions(ctx, SubmissionSearch{OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "two", open[0].Body)

	module := shared.ModuleID(1)
	byModule, err := q.Submissions(ctx, SubmissionSearch{ModuleID: &module})
	require.NoError(t, err)
	require.Len(t, byModule, 1)
	require.NotNil(t, byModule[0].Review)
	assert.Equal(t, "ok", *byModule[0].Review)
}

func TestAdminQueries_Catalog(t *testing.T) {
	f := newFixture(t)
	q := NewAdminQueries(f.registry, f.users, f.progress, f.subs, f.codes)

	mods := q.Modules()
	require.Len(t, mods, 8)
	assert.Equal(t, []string{"basic", "standard", "premium", "transition"}, mods[0].Tariffs)
	assert.Equal(t, []string{"premium", "transition"}, mods[7].Tariffs)

	codes, err := q.AccessCodes(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 8)
	assert.Equal(t, "basic", codes[0].Tariff)
	assert.Equal(t, "transition", codes[7].Tariff)
}
