package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a ScanRun. COMPLETED and FAILED are terminal.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// ErrAlreadyTerminal guards the single terminal transition of a run.
var ErrAlreadyTerminal = errors.New("scan run already finished")

// ScanRun is the bookkeeping row of one orchestrator invocation.
type ScanRun struct {
	ID            string
	Status        RunStatus
	Tier          *Frequency
	StartedAt     time.Time
	CompletedAt   *time.Time
	EmailsScanned int
	NewBreaches   int
	Errors        *string
}

// NewScanRun starts a run in RUNNING state. A nil tier means all tiers.
func NewScanRun(id string, tier *Frequency, now time.Time) ScanRun {
	return ScanRun{
		ID:        id,
		Status:    RunRunning,
		Tier:      tier,
		StartedAt: now,
	}
}

// Terminal reports whether the run has reached COMPLETED or FAILED.
func (r ScanRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Complete records the final counters. errs is joined with newlines; empty means no log.
func (r *ScanRun) Complete(now time.Time, scanned, newBreaches int, errs []string) error {
	if r.Terminal() {
		return ErrAlreadyTerminal
	}
	r.Status = RunCompleted
	r.CompletedAt = &now
	r.EmailsScanned = scanned
	r.NewBreaches = newBreaches
	r.Errors = JoinErrors(errs)
	return nil
}

// Fail moves the run to FAILED with the message that aborted it.
func (r *ScanRun) Fail(now time.Time, message string) error {
	if r.Terminal() {
		return ErrAlreadyTerminal
	}
	r.Status = RunFailed
	r.CompletedAt = &now
	r.Errors = &message
	return nil
}

// ErrorLines splits the stored error log back into entries.
func (r ScanRun) ErrorLines() []string {
	if r.Errors == nil || *r.Errors == "" {
		return nil
	}
	return strings.Split(*r.Errors, "\n")
}

// JoinErrors returns nil for an empty list.
func JoinErrors(errs []string) *string {
	if len(errs) == 0 {
		return nil
	}
	joined := strings.Join(errs, "\n")
	return &joined
}
