package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		acc, err := user.NewAccount(shared.UserID(i), user.Profile{Username: "u"}, course.TariffBasic, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, acc))
	}

	dup, _ := user.NewAccount(1, user.Profile{}, course.TariffPremium, base)
	assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrUserAlreadyExists)
	assert.True(t, shared.IsAlreadyExists(repo.Create(ctx, dup)))

	missing, err := repo.Get(ctx, 77)
	require.NoError(t, err)
	assert.Nil(t, missing)

	applied, err := repo.SetTariff(ctx, 2, course.TariffPremium)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = repo.SetTariff(ctx, 77, course.TariffPremium)
	require.NoError(t, err)
	assert.False(t, applied)

	acc, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, course.TariffPremium, acc.Tariff)

	// Изменение копии не влияет на хранилище.
	acc.Tariff = course.TariffBasic
	again, _ := repo.Get(ctx, 2)
	assert.Equal(t, course.TariffPremium, again.Tariff)

	page, err := repo.List(ctx, shared.NewPagination(1, 2))
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, shared.UserID(3), page[0].UserID)
	assert.Equal(t, shared.UserID(2), page[1].UserID)

	page, err = repo.List(ctx, shared.NewPagination(2, 2))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, shared.UserID(1), page[0].UserID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAccessCodeRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository()

	require.NoError(t, repo.Add(ctx, course.AccessCode{Code: " vip ", Tariff: course.TariffTransition}))
	require.NoError(t, repo.Add(ctx, course.AccessCode{Code: "b", Tariff: course.TariffBasic}))
	require.NoError(t, repo.Add(ctx, course.AccessCode{Code: "a", Tariff: course.TariffBasic}))

	assert.ErrorIs(t, repo.Add(ctx, course.AccessCode{Code: "vip", Tariff: course.TariffBasic}), shared.ErrDuplicateAccessCode)
	assert.ErrorIs(t, repo.Add(ctx, course.AccessCode{Code: "  ", Tariff: course.TariffBasic}), shared.ErrEmptyAccessCode)
	assert.ErrorIs(t, repo.Add(ctx, course.AccessCode{Code: "x", Tariff: "gold"}), shared.ErrUnknownTariff)

	tariffs, err := repo.Lookup(ctx, "vip")
	require.NoError(t, err)
	assert.Equal(t, []course.Tariff{course.TariffTransition}, tariffs)

	tariffs, err = repo.Lookup(ctx, "VIP")
	require.NoError(t, err)
	assert.Empty(t, tariffs)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "vip"}, []string{list[0].Code, list[1].Code, list[2].Code})
	assert.False(t, list[0].CreatedAt.IsZero())

	require.NoError(t, repo.Delete(ctx, "vip"))
	assert.ErrorIs(t, repo.Delete(ctx, "vip"), shared.ErrAccessCodeNotFound)
}

func TestProgressRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository()

	require.NoError(t, repo.Mark(ctx, 1, 2, true))
	require.NoError(t, repo.Mark(ctx, 1, 2, true))
	require.NoError(t, repo.Mark(ctx, 1, 3, false))
	require.NoError(t, repo.Mark(ctx, 9, 2, true))

	assert.Equal(t, 2, repo.Rows(1))

	done, err := repo.GetAll(ctx, 1)
	require.NoError(t, err)
	assert.True(t, done.Has(2))
	assert.False(t, done.Has(3))
	assert.Len(t, done, 1)

	require.NoError(t, repo.Mark(ctx, 1, 2, false))
	done, err = repo.GetAll(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestSubmissionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSubmissionRepository()

	first, err := repo.AppendSubmission(ctx, 1, 2, "one")
	require.NoError(t, err)
	second, err := repo.AppendSubmission(ctx, 1, 2, "two")
	require.NoError(t, err)
	_, err = repo.AppendSubmission(ctx, 1, 3, "three")
	require.NoError(t, err)
	_, err = repo.AppendSubmission(ctx, 5, 2, "other user")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	module := shared.ModuleID(2)
	subs, err := repo.ListFor(ctx, 1, &module)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "two", subs[0].Body)
	assert.Equal(t, "one", subs[1].Body)

	counts, err := repo.CountByModule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[shared.ModuleID]int{2: 2, 3: 1}, counts)

	require.NoError(t, repo.SetReview(ctx, first, "хорошо"))
	assert.ErrorIs(t, repo.SetReview(ctx, 999, "x"), shared.ErrSubmissionNotFound)

	got, err := repo.Get(ctx, first)
	require.NoError(t, err)
	assert.True(t, got.IsReviewed())
	require.NotNil(t, got.Review)
	assert.Equal(t, "хорошо", *got.Review)

	open, err := repo.Search(ctx, submission.Filter{OnlyOpen: true, Pagination: shared.DefaultPagination()})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	uid := shared.UserID(5)
	mine, err := repo.Search(ctx, submission.Filter{UserID: &uid})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "other user", mine[0].Body)

	_, err = repo.AppendFeedback(ctx, 1, "first")
	require.NoError(t, err)
	_, err = repo.AppendFeedback(ctx, 2, "second")
	require.NoError(t, err)

	all, err := repo.ListFeedback(ctx, nil, shared.DefaultPagination())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Body)

	one := shared.UserID(1)
	fb, err := repo.ListFeedback(ctx, &one, shared.DefaultPagination())
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, "first", fb[0].Body)
}

func TestSubmissionRepository_ListForIsNotPaged(t *testing.T) {
	ctx := context.Background()
	repo := NewSubmissionRepository()

	total := shared.MaxPageSize + 5
	for i := 0; i < total; i++ {
		_, err := repo.AppendSubmission(ctx, 1, 2, fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
	}

	subs, err := repo.ListFor(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, subs, total)
	assert.Equal(t, fmt.Sprintf("answer %d", total-1), subs[0].Body)

	owner := shared.UserID(1)
	page, err := repo.Search(ctx, submission.Filter{UserID: &owner})
	require.NoError(t, err)
	assert.Len(t, page, shared.DefaultPageSize)
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()

	st, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.IsIdle())

	require.NoError(t, store.Save(ctx, 1, conversation.AwaitingHomeworkConfirm(3, "draft")))
	st, err = store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, conversation.ModeAwaitingHomeworkConfirm, st.Mode)
	assert.Equal(t, shared.ModuleID(3), st.ModuleID)
	assert.Equal(t, "draft", st.Draft)

	require.NoError(t, store.Clear(ctx, 1))
	st, err = store.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.IsIdle())
	assert.Equal(t, 2, store.Writes())
}
