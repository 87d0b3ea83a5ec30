package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"BreachWatch/internal/ports"
)

// CronScheduler drives jobs from five-field cron expressions in a fixed location.
type CronScheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating specs in loc; nil means time.Local.
func NewCronScheduler(loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger: logger.With("component", "cron")})),
		),
	}
}

// Add registers job under spec and returns its entry id.
func (c *CronScheduler) Add(spec string, job func()) (int, error) {
	id, err := c.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	return int(id), nil
}

func (c *CronScheduler) Remove(id int) {
	c.cron.Remove(cron.EntryID(id))
}

// Next is the zero time for unknown entries or before Start.
func (c *CronScheduler) Next(id int) time.Time {
	return c.cron.Entry(cron.EntryID(id)).Next
}

func (c *CronScheduler) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.cron.Start()
}

// Stop halts the timer and waits for running jobs until ctx is done.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
