package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/infrastructure/secrets"
	"BreachWatch/internal/infrastructure/storage"
	"BreachWatch/internal/usecase"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeScanner struct {
	mu        sync.Mutex
	runErr    error
	scanErr   error
	tiers     []*domain.Frequency
	ctxAlive  bool
	status    usecase.Status
	runResult usecase.RunResult
}

func (f *fakeScanner) Run(ctx context.Context, tier *domain.Frequency) (usecase.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiers = append(f.tiers, tier)
	f.ctxAlive = ctx.Done() == nil
	return f.runResult, f.runErr
}

func (f *fakeScanner) ScanOne(_ context.Context, emailID string) (usecase.SingleResult, error) {
	if f.scanErr != nil {
		return usecase.SingleResult{}, f.scanErr
	}
	if emailID == "missing" {
		return usecase.SingleResult{}, fmt.Errorf("%w: %s", usecase.ErrEmailNotFound, emailID)
	}
	return usecase.SingleResult{BreachCount: 3, NewBreaches: 1}, nil
}

func (f *fakeScanner) Status(context.Context) (usecase.Status, error) {
	return f.status, nil
}

type fakeSchedule struct {
	rebuilds int
	err      error
}

func (f *fakeSchedule) Rebuild(context.Context) error {
	f.rebuilds++
	return f.err
}

func (f *fakeSchedule) Entries() map[domain.Frequency]time.Time {
	return map[domain.Frequency]time.Time{
		domain.FrequencyDaily: now.Add(14 * time.Hour),
	}
}

type fixture struct {
	server   *Server
	store    *storage.MemoryRepository
	scanner  *fakeScanner
	schedule *fakeSchedule
	settings *secrets.StaticStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryRepository(),
		scanner:  &fakeScanner{runResult: usecase.RunResult{RunID: "run-1", EmailsScanned: 2}},
		schedule: &fakeSchedule{},
		settings: secrets.NewStaticStore(secrets.Settings{
			HIBPAPIKey: "key",
			RPMLimit:   10,
			Schedule:   domain.DefaultSchedule(),
		}),
	}
	ids := 0
	f.server = NewServer(Deps{
		Store:    f.store,
		Scanner:  f.scanner,
		Schedule: f.schedule,
		Settings: f.settings,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("email-%d", ids)
		},
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) seedEmail(t *testing.T, id, address string, created time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateEmail(context.Background(), domain.MonitoredEmail{
		ID: id, Address: address, Frequency: domain.FrequencyDaily, CreatedAt: created,
	}))
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "breachwatch_")
}

func TestTriggerScan(t *testing.T) {
	t.Parallel()

	t.Run("all tiers", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/scans", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"runId":"run-1","emailsScanned":2,"newBreaches":0,"errors":[]}`, rec.Body.String())
		require.Len(t, f.scanner.tiers, 1)
		assert.Nil(t, f.scanner.tiers[0])
		assert.True(t, f.scanner.ctxAlive, "run context must not be tied to the request")
	})

	t.Run("one tier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/scans", map[string]string{"frequency": "weekly"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.scanner.tiers[0])
		assert.Equal(t, domain.FrequencyWeekly, *f.scanner.tiers[0])
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/scans", map[string]string{"frequency": "hourly"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.scanner.tiers)
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.scanner.runErr = usecase.ErrScanInProgress
		rec := f.do(t, http.MethodPost, "/api/scans", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "SCAN_IN_PROGRESS", decode[apiError](t, rec).Code)
	})

	t.Run("run failed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.scanner.runErr = errors.New("list emails: database unavailable")
		rec := f.do(t, http.MethodPost, "/api/scans", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "list emails: database unavailable", decode[apiError](t, rec).Error)
	})
}

func TestScanStatusAndLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/scans/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isRunning":false,"currentScan":null,"lastCompletedScan":null}`, rec.Body.String())

	for i := range 3 {
		run := domain.NewScanRun(fmt.Sprintf("run-%d", i), nil, now.Add(time.Duration(i)*time.Hour))
		require.NoError(t, f.store.CreateRun(ctx, run))
		require.NoError(t, run.Complete(run.StartedAt.Add(time.Minute), 1, 0, []string{"a", "b"}))
		require.NoError(t, f.store.FinishRun(ctx, run))
	}
	completed, err := f.store.LatestRun(ctx, domain.RunCompleted)
	require.NoError(t, err)
	f.scanner.status = usecase.Status{LastCompleted: completed}

	rec = f.do(t, http.MethodGet, "/api/scans/status", nil)
	status := decode[scanStatusResponse](t, rec)
	assert.False(t, status.IsRunning)
	require.NotNil(t, status.LastCompletedScan)
	assert.Equal(t, "run-2", status.LastCompletedScan.ID)
	assert.Equal(t, []string{"a", "b"}, status.LastCompletedScan.Errors)

	rec = f.do(t, http.MethodGet, "/api/scans?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]scanRunDTO](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "COMPLETED", runs[0].Status)

	for _, bad := range []string{"0", "51", "ten"} {
		rec = f.do(t, http.MethodGet, "/api/scans?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestEmailLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/emails", map[string]string{"address": "Alice@Example.COM"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[emailDTO](t, rec)
	assert.Equal(t, "email-1", created.ID)
	assert.Equal(t, "alice@example.com", created.Address)
	assert.Equal(t, "DAILY", created.ScanFrequency)
	assert.Nil(t, created.LastScannedAt)

	rec = f.do(t, http.MethodPost, "/api/emails", map[string]string{"address": "alice@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/emails", map[string]string{"address": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/emails", map[string]string{"address": "bob@example.com", "scanFrequency": "yearly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/emails/email-1", map[string]string{"scanFrequency": "MONTHLY"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MONTHLY", decode[emailDTO](t, rec).ScanFrequency)

	rec = f.do(t, http.MethodPatch, "/api/emails/nope", map[string]string{"scanFrequency": "WEEKLY"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/emails/email-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/emails/email-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/emails/email-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/emails/email-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEmailsPagesNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	for i := range 5 {
		f.seedEmail(t, fmt.Sprintf("e%d", i), fmt.Sprintf("user%d@example.com", i), now.Add(time.Duration(i)*time.Minute))
	}
	_, err := f.store.InsertBreach(ctx, domain.NewBreachRecord("b1", "e4", domain.Breach{Name: "Adobe"}, now))
	require.NoError(t, err)
	_, err = f.store.InsertBreach(ctx, domain.NewBreachRecord("b2", "e4", domain.Breach{Name: "Canva"}, now))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/emails?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[emailPage](t, rec)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Emails, 2)
	assert.Equal(t, "e4", page.Emails[0].ID)
	assert.Equal(t, 2, *page.Emails[0].BreachCount)
	assert.Equal(t, 0, *page.Emails[1].BreachCount)

	rec = f.do(t, http.MethodGet, "/api/emails?limit=2&page=3", nil)
	page = decode[emailPage](t, rec)
	require.Len(t, page.Emails, 1)
	assert.Equal(t, "e0", page.Emails[0].ID)

	rec = f.do(t, http.MethodGet, "/api/emails?page=9", nil)
	assert.Empty(t, decode[emailPage](t, rec).Emails)

	rec = f.do(t, http.MethodGet, "/api/emails?limit=101", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmailBreachesCarryRisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedEmail(t, "e1", "alice@example.com", now)
	_, err := f.store.InsertBreach(ctx, domain.NewBreachRecord("b1", "e1", domain.Breach{
		Name:        "Adobe",
		DataClasses: []string{"Email addresses", "Passwords"},
	}, now))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/emails/e1/breaches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]breachDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Adobe", list[0].Title)
	assert.Equal(t, "critical", list[0].RiskLevel)
	assert.Equal(t, "ACTIVE", list[0].Status)
	assert.Nil(t, list[0].NotificationSentAt)

	rec = f.do(t, http.MethodGet, "/api/emails/missing/breaches", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/emails/e1/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"breachCount":3,"newBreaches":1}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/emails/missing/scan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited", fmt.Errorf("scan a: %w", domain.RateLimitedOutcome(time.Minute).Err()), http.StatusTooManyRequests},
		{"auth", fmt.Errorf("scan a: %w", domain.AuthErrorOutcome(401).Err()), http.StatusBadGateway},
		{"store", errors.New("mark scanned: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.scanner.scanErr = tt.err
			rec := f.do(t, http.MethodPost, "/api/emails/e1/scan", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[scheduleResponse](t, rec)
	assert.Equal(t, domain.DefaultSchedule(), view.Schedule)
	assert.Equal(t, "03:00 every Sunday", view.Descriptions["WEEKLY"])
	assert.Equal(t, now.Add(14*time.Hour), view.NextRuns["DAILY"])

	cfg := domain.DefaultSchedule()
	cfg.WeeklyDay = 1
	cfg.WeeklyHour = 9
	cfg.WeeklyMinute = 30
	rec = f.do(t, http.MethodPut, "/api/schedule", cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "09:30 every Monday", decode[scheduleResponse](t, rec).Descriptions["WEEKLY"])
	assert.Equal(t, 1, f.schedule.rebuilds)

	cfg.MonthlyDay = 31
	rec = f.do(t, http.MethodPut, "/api/schedule", cfg)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[apiError](t, rec).Error, "monthlyDay")
	assert.Equal(t, 1, f.schedule.rebuilds)

	rec = f.do(t, http.MethodPost, "/api/schedule/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.schedule.rebuilds)

	f.schedule.err = errors.New("bad spec")
	rec = f.do(t, http.MethodPost, "/api/schedule/rebuild", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSettingsStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isConfigured":false,"hasHibpKey":true,"hasSmtpPassword":false,"hasNotificationEmail":false}`, rec.Body.String())
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[settingsResponse](t, rec)
	assert.Equal(t, 10, got.RPMLimit)
	assert.Empty(t, got.NotificationEmail)

	rec = f.do(t, http.MethodPatch, "/api/settings", map[string]any{
		"rpmLimit":          40,
		"notificationEmail": "Ops@Example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[settingsResponse](t, rec)
	assert.Equal(t, 40, got.RPMLimit)
	assert.Equal(t, "ops@example.com", got.NotificationEmail)
	assert.True(t, got.Status.HasNotificationEmail)

	rpm, err := f.settings.RPMLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, rpm)

	// omitted fields stay as they are
	rec = f.do(t, http.MethodPatch, "/api/settings", map[string]any{"rpmLimit": 25})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", decode[settingsResponse](t, rec).NotificationEmail)

	for _, body := range []map[string]any{
		{"rpmLimit": 0},
		{"rpmLimit": -5},
		{"notificationEmail": "not-an-address"},
	} {
		rec = f.do(t, http.MethodPatch, "/api/settings", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	rpm, err = f.settings.RPMLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, rpm)
	email, err := f.settings.NotificationEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "panic"))
}
