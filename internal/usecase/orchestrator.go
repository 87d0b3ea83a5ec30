package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/metrics"
	"BreachWatch/internal/ports"
	"BreachWatch/internal/ratebudget"
)

var (
	// ErrScanInProgress is returned when another run holds the run slot.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrEmailNotFound is returned by ScanOne for unknown ids.
	ErrEmailNotFound = errors.New("email not found")
)

// OrchestratorDeps wires the driven adapters into the scan orchestrator.
type OrchestratorDeps struct {
	Store    ports.Store
	Lookup   ports.BreachLookup
	Notifier ports.Notifier
	Secrets  ports.SecretStore
	Lock     ports.RunLock
	Events   ports.EventPublisher
	Logger   *slog.Logger

	// DueSlack shortens every tier interval when deciding whether an email is due.
	DueSlack time.Duration

	// Optional hooks; zero values use the wall clock, real sleeps and random UUIDs.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	NewID func() string
}

// RunResult summarizes one run.
type RunResult struct {
	RunID         string   `json:"runId"`
	EmailsScanned int      `json:"emailsScanned"`
	NewBreaches   int      `json:"newBreaches"`
	Errors        []string `json:"errors"`
}

// SingleResult summarizes an on-demand scan of one email.
type SingleResult struct {
	BreachCount int `json:"breachCount"`
	NewBreaches int `json:"newBreaches"`
}

// Orchestrator runs paced breach scans over the monitored emails.
type Orchestrator struct {
	store      ports.Store
	lookup     ports.BreachLookup
	secrets    ports.SecretStore
	lock       ports.RunLock
	events     ports.EventPublisher
	recorder   *Recorder
	dispatcher *Dispatcher
	dueSlack   time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newID      func() string
	logger     *slog.Logger
}

// NewOrchestrator constructs the scan orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		store:    deps.Store,
		lookup:   deps.Lookup,
		secrets:  deps.Secrets,
		lock:     deps.Lock,
		events:   deps.Events,
		dueSlack: deps.DueSlack,
		now:      deps.Now,
		sleep:    deps.Sleep,
		newID:    deps.NewID,
		logger:   deps.Logger,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")

	o.recorder = NewRecorder(deps.Store, deps.Store, o.now, o.newID)
	o.dispatcher = NewDispatcher(deps.Store, deps.Notifier, deps.Secrets, o.now, o.logger)
	return o
}

// Dispatcher exposes the notification dispatcher used by runs.
func (o *Orchestrator) Dispatcher() *Dispatcher {
	return o.dispatcher
}

// Run scans every due email, or only those of tier when it is not nil.
// Per-email failures end up in RunResult.Errors; a returned error means the run
// itself failed and was recorded as FAILED.
func (o *Orchestrator) Run(ctx context.Context, tier *domain.Frequency) (RunResult, error) {
	release, ok, err := o.lock.TryLock(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		metrics.ScansSkipped.Inc()
		return RunResult{}, ErrScanInProgress
	}
	defer release()

	run := domain.NewScanRun(o.newID(), tier, o.now())
	if err := o.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			metrics.ScansSkipped.Inc()
			return RunResult{}, fmt.Errorf("%w: %v", ErrScanInProgress, err)
		}
		return RunResult{}, fmt.Errorf("create scan run: %w", err)
	}

	logger := o.logger.With("run_id", run.ID, "tier", tierLabel(tier))
	logger.Info("scan run started")

	result, err := o.execute(ctx, logger, &run)
	if err != nil {
		o.fail(ctx, logger, &run, err)
		return result, err
	}

	metrics.ScanRuns.WithLabelValues(string(run.Status)).Inc()
	metrics.ScanRunDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	o.publish(ctx, logger, run)
	return result, nil
}

type tally struct {
	scanned     int
	newBreaches int
	errors      []string
}

func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, run *domain.ScanRun) (RunResult, error) {
	result := RunResult{RunID: run.ID}

	if _, err := o.dispatcher.RecoverAllPending(ctx); err != nil {
		return result, fmt.Errorf("recover pending notifications: %w", err)
	}

	emails, err := o.store.ListEmails(ctx, run.Tier)
	if err != nil {
		return result, fmt.Errorf("list emails: %w", err)
	}

	now := o.now()
	due := lo.Filter(emails, func(e domain.MonitoredEmail, _ int) bool {
		return e.IsDue(now, o.dueSlack)
	})

	var t tally
	if len(due) > 0 {
		if err := o.scanAll(ctx, logger, due, &t); err != nil {
			return result, err
		}
	} else {
		logger.Info("no emails due")
	}

	completed := *run
	if err := completed.Complete(o.now(), t.scanned, t.newBreaches, t.errors); err != nil {
		return result, err
	}
	if err := o.store.FinishRun(ctx, completed); err != nil {
		return result, fmt.Errorf("finish scan run: %w", err)
	}
	*run = completed

	result.EmailsScanned = t.scanned
	result.NewBreaches = t.newBreaches
	result.Errors = t.errors
	logger.Info("scan run completed", "emails_scanned", t.scanned, "new_breaches", t.newBreaches, "errors", len(t.errors))

	o.dispatcher.DeliverSummary(ctx, t.scanned, t.newBreaches, t.errors)
	return result, nil
}

func (o *Orchestrator) scanAll(ctx context.Context, logger *slog.Logger, due []domain.MonitoredEmail, t *tally) error {
	rpm, err := o.secrets.RPMLimit(ctx)
	if err != nil {
		return fmt.Errorf("load rpm limit: %w", err)
	}
	plan, err := ratebudget.New(rpm, len(due))
	if err != nil {
		return err
	}

	batches := plan.Batches(len(due))
	logger.Info("scanning due emails",
		"due", len(due),
		"batches", len(batches),
		"batch_size", plan.BatchSize,
		"inter_request_delay", plan.InterRequestDelay,
		"inter_batch_delay", plan.InterBatchDelay,
	)

	start := 0
	for i, size := range batches {
		batch := due[start : start+size]
		start += size
		logger.Debug("processing batch", "batch", i+1, "of", len(batches), "size", size)

		for j, email := range batch {
			if err := o.scanDue(ctx, logger, email, t); err != nil {
				return err
			}
			if j < len(batch)-1 {
				if err := o.sleep(ctx, plan.InterRequestDelay); err != nil {
					return err
				}
			}
		}

		if i < len(batches)-1 && plan.InterBatchDelay > 0 {
			logger.Debug("waiting before next batch", "delay", plan.InterBatchDelay)
			if err := o.sleep(ctx, plan.InterBatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanDue scans one email inside a run. Only cancellation and missing configuration
// are returned; every other failure becomes an entry in the run's error log.
func (o *Orchestrator) scanDue(ctx context.Context, logger *slog.Logger, email domain.MonitoredEmail, t *tally) error {
	outcome := o.lookupAddress(ctx, email.Address)
	retried := false
	if outcome.Kind == domain.LookupRateLimited {
		logger.Warn("rate limited, retrying once", "email", email.Address, "wait", outcome.RetryAfter)
		if err := o.sleep(ctx, outcome.RetryAfter); err != nil {
			return err
		}
		outcome = o.lookupAddress(ctx, email.Address)
		retried = true
	}

	scan, err := o.apply(ctx, email, outcome)
	switch {
	case err == nil:
		t.scanned++
		t.newBreaches += scan.NewBreaches
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case outcome.Kind == domain.LookupConfigError:
		return err
	}

	msg := fmt.Sprintf("Failed to scan %s: %v", email.Address, err)
	if retried {
		msg = fmt.Sprintf("Failed to scan %s after retry: %v", email.Address, err)
	}
	logger.Warn("email scan failed", "email", email.Address, "error", err)
	t.errors = append(t.errors, msg)
	return nil
}

// ScanOne scans a single email on demand through the same record and notify path
// as a run, without run bookkeeping or retry. The lookup client's limiter still
// applies.
func (o *Orchestrator) ScanOne(ctx context.Context, emailID string) (SingleResult, error) {
	email, err := o.store.GetEmail(ctx, emailID)
	if errors.Is(err, ports.ErrNotFound) {
		return SingleResult{}, fmt.Errorf("%w: %s", ErrEmailNotFound, emailID)
	}
	if err != nil {
		return SingleResult{}, fmt.Errorf("get email: %w", err)
	}

	result, err := o.apply(ctx, email, o.lookupAddress(ctx, email.Address))
	if err != nil {
		return result, fmt.Errorf("scan %s: %w", email.Address, err)
	}
	o.logger.Info("single email scanned", "email", email.Address, "breaches", result.BreachCount, "new_breaches", result.NewBreaches)
	return result, nil
}

// apply records a successful lookup, alerts on new breaches and marks the email scanned.
func (o *Orchestrator) apply(ctx context.Context, email domain.MonitoredEmail, outcome domain.LookupOutcome) (SingleResult, error) {
	if err := outcome.Err(); err != nil {
		return SingleResult{}, err
	}

	recorded, err := o.recorder.Record(ctx, email.ID, outcome.Breaches)
	if err != nil {
		return SingleResult{}, err
	}
	o.dispatcher.DeliverPending(ctx, email.Address, recorded.Pending)

	if err := o.store.MarkScanned(ctx, email.ID, o.now()); err != nil {
		return SingleResult{}, fmt.Errorf("mark scanned: %w", err)
	}
	return SingleResult{BreachCount: len(outcome.Breaches), NewBreaches: recorded.NewCount}, nil
}

func (o *Orchestrator) lookupAddress(ctx context.Context, address string) domain.LookupOutcome {
	outcome := o.lookup.Lookup(ctx, address)
	metrics.Lookups.WithLabelValues(outcome.Kind.String()).Inc()
	return outcome
}

// fail records the run as FAILED. Bookkeeping ignores the caller's cancellation so a
// cancelled run does not stay RUNNING.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, run *domain.ScanRun, cause error) {
	logger.Error("scan run failed", "error", cause)
	if err := run.Fail(o.now(), cause.Error()); err != nil {
		logger.Error("scan run already finished", "error", err)
		return
	}

	bookkeeping := context.WithoutCancel(ctx)
	if err := o.store.FinishRun(bookkeeping, *run); err != nil {
		logger.Error("could not mark scan run failed", "error", err)
	}
	metrics.ScanRuns.WithLabelValues(string(run.Status)).Inc()
	o.publish(bookkeeping, logger, *run)
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, run domain.ScanRun) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishRunFinished(ctx, run); err != nil {
		logger.Warn("run event not published", "error", err)
	}
}

// Status is the current run state for the management API.
type Status struct {
	Running       *domain.ScanRun `json:"running"`
	LastCompleted *domain.ScanRun `json:"lastCompleted"`
}

// Status returns the running run, if any, and the last completed one.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	running, err := o.store.LatestRun(ctx, domain.RunRunning)
	if err != nil {
		return Status{}, fmt.Errorf("latest running scan: %w", err)
	}
	completed, err := o.store.LatestRun(ctx, domain.RunCompleted)
	if err != nil {
		return Status{}, fmt.Errorf("latest completed scan: %w", err)
	}
	return Status{Running: running, LastCompleted: completed}, nil
}

func tierLabel(tier *domain.Frequency) string {
	if tier == nil {
		return "ALL"
	}
	return string(*tier)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
