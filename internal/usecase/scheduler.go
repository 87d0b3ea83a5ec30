package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

// TierRunner is the part of the orchestrator the schedule needs.
type TierRunner interface {
	Run(ctx context.Context, tier *domain.Frequency) (RunResult, error)
}

// ScheduleOptions tunes how scheduled fires handle an occupied run slot.
type ScheduleOptions struct {
	BusyRetries  int
	BusyInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
}

// ScheduleTrigger owns one cron entry per tier and runs the orchestrator when they fire.
type ScheduleTrigger struct {
	driver  ports.Scheduler
	runner  TierRunner
	secrets ports.SecretStore
	opts    ScheduleOptions
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[domain.Frequency]int
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// serializes scheduled fires so tiers firing together queue up instead of
	// bouncing off the run lock
	fireMu sync.Mutex
}

// NewScheduleTrigger wires the cron driver with the orchestrator.
func NewScheduleTrigger(driver ports.Scheduler, runner TierRunner, secrets ports.SecretStore, opts ScheduleOptions, logger *slog.Logger) *ScheduleTrigger {
	if opts.BusyRetries < 0 {
		opts.BusyRetries = 0
	}
	if opts.BusyInterval <= 0 {
		opts.BusyInterval = time.Minute
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleTrigger{
		driver:  driver,
		runner:  runner,
		secrets: secrets,
		opts:    opts,
		logger:  logger.With("component", "schedule"),
		entries: make(map[domain.Frequency]int),
	}
}

// Start registers the tier entries and starts the driver. ctx bounds every scheduled run.
func (s *ScheduleTrigger) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.Rebuild(ctx); err != nil {
		s.mu.Lock()
		s.cancel()
		s.ctx, s.cancel = nil, nil
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.driver.Start()
	return nil
}

// Rebuild replaces the tier entries with ones built from the current schedule. An invalid
// schedule leaves the existing entries in place.
func (s *ScheduleTrigger) Rebuild(ctx context.Context) error {
	cfg, err := s.secrets.Schedule(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for tier, id := range s.entries {
		s.driver.Remove(id)
		delete(s.entries, tier)
	}

	for _, tier := range domain.Frequencies {
		id, err := s.driver.Add(cfg.CronSpec(tier), func() { s.fire(tier) })
		if err != nil {
			for t, added := range s.entries {
				s.driver.Remove(added)
				delete(s.entries, t)
			}
			return fmt.Errorf("schedule %s scan: %w", tier, err)
		}
		s.entries[tier] = id
		s.logger.Info("scan scheduled", "tier", tier, "at", cfg.Describe(tier), "cron", cfg.CronSpec(tier))
	}
	return nil
}

// Entries returns the next fire time per tier; zero before Start.
func (s *ScheduleTrigger) Entries() map[domain.Frequency]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[domain.Frequency]time.Time, len(s.entries))
	for tier, id := range s.entries {
		next[tier] = s.driver.Next(id)
	}
	return next
}

// Stop removes the entries, cancels in-flight scheduled runs and stops the driver.
func (s *ScheduleTrigger) Stop(ctx context.Context) error {
	s.mu.Lock()
	for tier, id := range s.entries {
		s.driver.Remove(id)
		delete(s.entries, tier)
	}
	started := s.started
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.driver.Stop(ctx)
}

func (s *ScheduleTrigger) fire(tier domain.Frequency) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	logger := s.logger.With("tier", tier)
	logger.Info("scheduled scan starting")

	for attempt := 0; ; attempt++ {
		result, err := s.runner.Run(ctx, &tier)
		switch {
		case err == nil:
			logger.Info("scheduled scan finished",
				"run_id", result.RunID,
				"emails_scanned", result.EmailsScanned,
				"new_breaches", result.NewBreaches,
				"errors", len(result.Errors),
			)
			return
		case errors.Is(err, ErrScanInProgress) && attempt < s.opts.BusyRetries:
			logger.Info("another scan is running, waiting", "retry_in", s.opts.BusyInterval, "attempt", attempt+1)
			if sleepErr := s.opts.Sleep(ctx, s.opts.BusyInterval); sleepErr != nil {
				logger.Warn("scheduled scan abandoned", "error", sleepErr)
				return
			}
		default:
			logger.Error("scheduled scan failed", "error", err)
			return
		}
	}
}
