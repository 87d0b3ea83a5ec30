// Package ratebudget turns a requests-per-minute budget into a pacing plan for a scan.
package ratebudget

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRPM applies when no limit is configured.
const DefaultRPM = 10

// Window is the period the RPM budget refers to.
const Window = time.Minute

// Request spacing is padded by 10%, expressed as 11/10 to stay in integer math.
const (
	marginNum = 11
	marginDen = 10
)

// ErrInvalidRPM rejects budgets that would produce zero or negative spacing.
var ErrInvalidRPM = errors.New("rpm limit must be positive")

// Plan describes how a run paces its lookups.
type Plan struct {
	BatchSize         int
	InterBatchDelay   time.Duration
	InterRequestDelay time.Duration
}

// New builds the plan for candidates lookups under rpm.
// Everything fits in one window when candidates <= rpm; otherwise batches of rpm are
// separated by a full window.
func New(rpm, candidates int) (Plan, error) {
	if rpm <= 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidRPM, rpm)
	}
	if candidates < 0 {
		return Plan{}, fmt.Errorf("candidate count must not be negative, got %d", candidates)
	}

	plan := Plan{InterRequestDelay: requestSpacing(rpm)}
	if candidates <= rpm {
		plan.BatchSize = candidates
		return plan, nil
	}

	plan.BatchSize = rpm
	plan.InterBatchDelay = Window
	return plan, nil
}

// requestSpacing is ceil(60000 / rpm * 1.1) milliseconds.
func requestSpacing(rpm int) time.Duration {
	windowMs := Window.Milliseconds() * marginNum
	den := int64(rpm) * marginDen
	ms := (windowMs + den - 1) / den
	return time.Duration(ms) * time.Millisecond
}

// Batches splits n candidates into consecutive batch sizes.
func (p Plan) Batches(n int) []int {
	if p.BatchSize <= 0 || n <= 0 {
		return nil
	}
	sizes := make([]int, 0, (n+p.BatchSize-1)/p.BatchSize)
	for remaining := n; remaining > 0; remaining -= p.BatchSize {
		sizes = append(sizes, min(remaining, p.BatchSize))
	}
	return sizes
}
