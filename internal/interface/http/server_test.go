package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-bot/internal/application/command"
	"github.com/alem-hub/course-bot/internal/application/query"
	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
	"github.com/alem-hub/course-bot/internal/infrastructure/content"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
	"github.com/alem-hub/course-bot/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/course-bot/internal/interface/http/handlers"
	"github.com/alem-hub/course-bot/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// FIXTURE
// ═══════════════════════════════════════════════════════════════════════════

type fixture struct {
	server      *Server
	users       *memory.UserRepository
	progress    *memory.ProgressRepository
	submissions *memory.SubmissionRepository

	mu      sync.Mutex
	updates []*telegram.Update
}

type fixtureOption func(*Config, *Dependencies)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	codes := memory.NewAccessCodeRepository()
	registry := course.NewRegistry(content.MustDefault(), codes)
	_, err := registry.SeedDefaults(ctx)
	require.NoError(t, err)

	f := &fixture{
		users:       memory.NewUserRepository(),
		progress:    memory.NewProgressRepository(),
		submissions: memory.NewSubmissionRepository(),
	}

	auth, err := handlers.NewAuthenticator(handlers.AuthConfig{
		Username:  "admin",
		Password:  "secret",
		JWTSecret: "test-signing-key",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.WebhookSecret = "hook"
	cfg.Version = "test"

	deps := Dependencies{
		Progress: query.NewGetCourseProgressHandler(registry, f.users, f.progress, f.submissions),
		Admin:    query.NewAdminQueries(registry, f.users, f.progress, f.submissions, codes),
		Access:   command.NewAccessHandler(codes, f.users, nil, nil),
		Review:   command.NewReviewSubmissionHandler(f.submissions, nil, nil),
		Auth:     auth,
		Logger:   logger.Discard(),
		Webhook: func(_ context.Context, u *telegram.Update) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.updates = append(f.updates, u)
			return nil
		},
		BotStats: func() interface{} { return map[string]int{"updates_received": 7} },
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	f.server, err = NewServer(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.server.Shutdown(context.Background()) })
	return f
}

func (f *fixture) enroll(t *testing.T, id int64, tariff course.Tariff) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), &user.Account{
		UserID:     shared.UserID(id),
		Username:   "student",
		FirstName:  "Ada",
		Tariff:     tariff,
		EnrolledAt: time.Now().UTC(),
	}))
}

func (f *fixture) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/admin/login", "", `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data handlers.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   *handlers.APIError `json:"error"`
	Meta    *handlers.ResponseMeta
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// ═══════════════════════════════════════════════════════════════════════════
// HEALTH
// ═══════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("database", func(context.Context) error { return nil }, true)
	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") }, false)

	f := newFixture(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "non-critical failure keeps the service ready")
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &status))
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "failed: redis", status.Message)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "", "").Code)

	checker.AddCheck("database", func(context.Context) error { return errors.New("down") }, true)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", "", "").Code)
}

func TestRequestIDAndCORS(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/live", "", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodOptions, "/api/mini-app/user-data", nil)
	req.Header.Set("Origin", "https://mini.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://mini.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Dependencies) { c.RateLimitPerMinute = 2 })

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "", "").Code)

	rec := f.do(t, http.MethodGet, "/live", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, handlers.CodeRateLimited, decode(t, rec).Error.Code)

	// webhook не ограничивается
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/webhook/telegram/hook", "", `{"update_id":1}`).Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newFixture(t)
	h := f.server.withRequestID(f.server.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, handlers.CodeInternal, env.Error.Code)
}

// ═══════════════════════════════════════════════════════════════════════════
// MINI-APP
// ═══════════════════════════════════════════════════════════════════════════

func TestMiniAppUserData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/api/mini-app/user-data", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"User ID is required"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/mini-app/user-data?user_id=abc", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/mini-app/user-data?user_id=42", "", "").Code)

	f.enroll(t, 42, course.TariffBasic)
	require.NoError(t, f.progress.Mark(ctx, 42, 1, true))
	_, err := f.submissions.AppendSubmission(ctx, 42, 2, "моё решение")
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/mini-app/user-data?user_id=42", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto query.CourseProgressDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, int64(42), dto.User.UserID)
	assert.Equal(t, "basic", dto.User.Tariff)
	assert.Equal(t, 33, dto.Progress.Percentage)
	require.Len(t, dto.Progress.Modules, 3)
	assert.True(t, dto.Progress.Modules[0].Completed)
	require.Len(t, dto.Homework, 3)
	assert.Equal(t, 1, dto.Homework[1].SubmissionsCount)
}

// ═══════════════════════════════════════════════════════════════════════════
// WEBHOOK
// ═══════════════════════════════════════════════════════════════════════════

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/webhook/telegram/wrong", "", `{"update_id":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/webhook/telegram/hook", "", `{not json`).Code)

	rec := f.do(t, http.MethodPost, "/webhook/telegram/hook", "",
		`{"update_id":5,"message":{"message_id":1,"from":{"id":42,"first_name":"Ada"},"chat":{"id":42,"type":"private"},"text":"/start"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.updates, 1)
	assert.Equal(t, int64(5), f.updates[0].UpdateID)
	assert.Equal(t, "/start", f.updates[0].Message.Text)
}

func TestTelegramWebhook_HandlerErrorStillAcknowledged(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Webhook = func(context.Context, *telegram.Update) error { return errors.New("mailbox full") }
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/webhook/telegram/hook", "", `{"update_id":1}`).Code)
}

func TestWebhookNotRegisteredInPollingMode(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) { d.Webhook = nil })
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/webhook/telegram/hook", "", `{"update_id":1}`).Code)
}

// ═══════════════════════════════════════════════════════════════════════════
// ADMIN
// ═══════════════════════════════════════════════════════════════════════════

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/admin/users", "garbage", "").Code)

	rec = f.do(t, http.MethodPost, "/api/admin/login", "", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/login", "", `{"username":"admin","password":"secret","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_DisabledWithoutAuth(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) { d.Auth = nil })
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/admin/login", "", `{}`).Code)
}

func TestAdmin_Users(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	f.enroll(t, 1, course.TariffBasic)
	f.enroll(t, 2, course.TariffPremium)

	rec := f.do(t, http.MethodGet, "/api/admin/users?page=1&page_size=1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	var users []query.AccountDTO
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Len(t, users, 1)
	assert.Equal(t, 2, env.Meta.TotalCount)
	assert.True(t, env.Meta.HasMore)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/admin/users/99", token, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/admin/users/abc", token, "").Code)

	rec = f.do(t, http.MethodPut, "/api/admin/users/1/tariff", token, `{"tariff":"standard"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var details query.UserDetailsDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &details))
	assert.Equal(t, "standard", details.Account.Tariff)
	assert.Len(t, details.Progress.Modules, 5)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/admin/users/1/tariff", token, `{"tariff":"gold"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/admin/users/99/tariff", token, `{"tariff":"basic"}`).Code)
}

func TestAdmin_Modules(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodGet, "/api/admin/modules", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var modules []query.ModuleDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &modules))
	require.Len(t, modules, 8)
	assert.Contains(t, modules[0].Tariffs, "basic")
	assert.NotContains(t, modules[7].Tariffs, "standard")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/admin/modules/3", token, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/admin/modules/42", token, "").Code)
}

func TestAdmin_SubmissionsAndReview(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	ctx := context.Background()

	f.enroll(t, 7, course.TariffPremium)
	first, err := f.submissions.AppendSubmission(ctx, 7, 1, "решение 1")
	require.NoError(t, err)
	_, err = f.submissions.AppendSubmission(ctx, 7, 2, "решение 2")
	require.NoError(t, err)
	_, err = f.submissions.AppendFeedback(ctx, 7, "спасибо за курс")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/admin/submissions/"+itoa(first)+"/review", token, `{"review":"  Отлично  "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reviewed reviewedSubmission
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &reviewed))
	require.NotNil(t, reviewed.Review)
	assert.Equal(t, "Отлично", *reviewed.Review)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/submissions/"+itoa(first)+"/review", token, `{"review":"   "}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/admin/submissions/999/review", token, `{"review":"ok"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/submissions/x/review", token, `{"review":"ok"}`).Code)

	rec = f.do(t, http.MethodGet, "/api/admin/submissions?user_id=7&open=1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var open []query.SubmissionDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &open))
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].ModuleID)

	rec = f.do(t, http.MethodGet, "/api/admin/submissions?module_id=1", token, "")
	var byModule []query.SubmissionDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &byModule))
	assert.Len(t, byModule, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/admin/submissions?module_id=zero", token, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/admin/feedback?user_id=-1", token, "").Code)

	rec = f.do(t, http.MethodGet, "/api/admin/feedback?user_id=7", token, "")
	var feedback []query.FeedbackDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &feedback))
	require.Len(t, feedback, 1)
	assert.Equal(t, "спасибо за курс", feedback[0].Body)
}

func TestAdmin_AccessCodes(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/admin/access-codes", token, `{"code":"vip2024","tariff":"Premium"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created query.AccessCodeDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, "premium", created.Tariff)

	rec = f.do(t, http.MethodPost, "/api/admin/access-codes", token, `{"code":"vip2024","tariff":"basic"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, handlers.CodeConflict, decode(t, rec).Error.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/access-codes", token, `{"code":"x","tariff":"gold"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/access-codes", token, `{"code":"  ","tariff":"basic"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/access-codes", token, "").Code)

	rec = f.do(t, http.MethodGet, "/api/admin/access-codes", token, "")
	var codes []query.AccessCodeDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &codes))
	assert.Len(t, codes, 9)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/admin/access-codes/vip2024", token, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/admin/access-codes/vip2024", token, "").Code)
}

func TestAdmin_Stats(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodGet, "/api/admin/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &stats))
	assert.JSONEq(t, `{"updates_received":7}`, string(stats["bot"]))
	assert.Contains(t, stats, "webhook")
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
