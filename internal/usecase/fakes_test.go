package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/infrastructure/secrets"
	"BreachWatch/internal/infrastructure/storage"
	"BreachWatch/internal/ports"
)

var epoch = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// scriptedLookup replays outcomes per address; the last outcome repeats.
type scriptedLookup struct {
	mu      sync.Mutex
	scripts map[string][]domain.LookupOutcome
	calls   map[string]int
	log     *eventLog
}

func newScriptedLookup(log *eventLog) *scriptedLookup {
	return &scriptedLookup{
		scripts: make(map[string][]domain.LookupOutcome),
		calls:   make(map[string]int),
		log:     log,
	}
}

func (l *scriptedLookup) script(address string, outcomes ...domain.LookupOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[address] = outcomes
}

func (l *scriptedLookup) callsFor(address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[address]
}

func (l *scriptedLookup) Lookup(_ context.Context, address string) domain.LookupOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[address]++
	l.log.add("lookup:" + address)

	script := l.scripts[address]
	if len(script) == 0 {
		return domain.EmptyOutcome()
	}
	outcome := script[0]
	if len(script) > 1 {
		l.scripts[address] = script[1:]
	}
	return outcome
}

type recordingNotifier struct {
	mu            sync.Mutex
	failAlerts    bool
	failSummaries bool
	alerts        []domain.BreachAlert
	summaries     []domain.ScanSummary
	log           *eventLog
}

func (n *recordingNotifier) SendBreachAlert(_ context.Context, alert domain.BreachAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log.add("alert:" + alert.Address)
	if n.failAlerts {
		return errors.New("smtp unavailable")
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) SendScanSummary(_ context.Context, summary domain.ScanSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log.add("summary")
	if n.failSummaries {
		return errors.New("smtp unavailable")
	}
	n.summaries = append(n.summaries, summary)
	return nil
}

func (n *recordingNotifier) setFailing(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failAlerts = fail
	n.failSummaries = fail
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []domain.ScanRun
}

func (p *recordingPublisher) PublishRunFinished(_ context.Context, run domain.ScanRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
	return nil
}

func (p *recordingPublisher) published() []domain.ScanRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ScanRun(nil), p.runs...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store     *storage.MemoryRepository
	lookup    *scriptedLookup
	notifier  *recordingNotifier
	publisher *recordingPublisher
	secrets   *secrets.StaticStore
	lock      *storage.LocalLock
	clock     *fakeClock
	events    *eventLog

	sleepMu sync.Mutex
	sleeps  []time.Duration
	// onSleep runs before every recorded sleep; returning an error aborts it.
	onSleep func(ctx context.Context, d time.Duration) error

	ids int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	events := &eventLog{}
	return &harness{
		store:     storage.NewMemoryRepository(),
		lookup:    newScriptedLookup(events),
		notifier:  &recordingNotifier{log: events},
		publisher: &recordingPublisher{},
		secrets: secrets.NewStaticStore(secrets.Settings{
			HIBPAPIKey:        "key",
			NotificationEmail: "ops@example.com",
			RPMLimit:          10,
			Schedule:          domain.DefaultSchedule(),
		}),
		lock:   storage.NewLocalLock(),
		clock:  &fakeClock{now: epoch},
		events: events,
	}
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	if h.onSleep != nil {
		if err := h.onSleep(ctx, d); err != nil {
			return err
		}
	}
	h.sleepMu.Lock()
	h.sleeps = append(h.sleeps, d)
	h.sleepMu.Unlock()
	h.clock.Advance(d)
	return ctx.Err()
}

func (h *harness) recordedSleeps() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) nextID() string {
	h.ids++
	return fmt.Sprintf("id-%d", h.ids)
}

func (h *harness) orchestrator(store ports.Store) *Orchestrator {
	if store == nil {
		store = h.store
	}
	return NewOrchestrator(OrchestratorDeps{
		Store:    store,
		Lookup:   h.lookup,
		Notifier: h.notifier,
		Secrets:  h.secrets,
		Lock:     h.lock,
		Events:   h.publisher,
		Logger:   discardLogger(),
		Now:      h.clock.Now,
		Sleep:    h.sleep,
		NewID:    h.nextID,
	})
}

func (h *harness) addEmail(t *testing.T, id, address string, freq domain.Frequency, lastScanned *time.Time) {
	t.Helper()
	require.NoError(t, h.store.CreateEmail(context.Background(), domain.MonitoredEmail{
		ID:            id,
		Address:       address,
		Frequency:     freq,
		LastScannedAt: lastScanned,
		CreatedAt:     epoch.Add(-90*24*time.Hour + time.Duration(h.countEmails(t))*time.Second),
	}))
}

func (h *harness) countEmails(t *testing.T) int {
	t.Helper()
	emails, err := h.store.ListEmails(context.Background(), nil)
	require.NoError(t, err)
	return len(emails)
}

func ago(d time.Duration) *time.Time {
	ts := epoch.Add(-d)
	return &ts
}

func breaches(names ...string) []domain.Breach {
	out := make([]domain.Breach, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Breach{Name: name, Title: name, DataClasses: []string{"Email addresses", "Passwords"}})
	}
	return out
}

// failingStore injects errors into selected store calls.
type failingStore struct {
	*storage.MemoryRepository
	listEmailsErr error
	findBreachErr error
	finishRunErrs int
}

func (s *failingStore) ListEmails(ctx context.Context, tier *domain.Frequency) ([]domain.MonitoredEmail, error) {
	if s.listEmailsErr != nil {
		return nil, s.listEmailsErr
	}
	return s.MemoryRepository.ListEmails(ctx, tier)
}

func (s *failingStore) FindBreach(ctx context.Context, emailID, name string) (*domain.BreachRecord, error) {
	if s.findBreachErr != nil {
		return nil, s.findBreachErr
	}
	return s.MemoryRepository.FindBreach(ctx, emailID, name)
}

func (s *failingStore) FinishRun(ctx context.Context, run domain.ScanRun) error {
	if s.finishRunErrs > 0 {
		s.finishRunErrs--
		return errors.New("connection reset")
	}
	return s.MemoryRepository.FinishRun(ctx, run)
}
