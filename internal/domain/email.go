package domain

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the scan tier of a monitored address.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Frequencies lists every tier in schedule order.
var Frequencies = []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly}

// ParseFrequency accepts a tier name in any case.
func ParseFrequency(value string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(value)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown scan frequency %q", value)
	}
	return f, nil
}

// Valid reports whether f is one of the known tiers.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// Interval is the minimum wall-clock time between two scans of the tier.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// MonitoredEmail is an address watched for breaches.
type MonitoredEmail struct {
	ID            string
	Address       string
	Frequency     Frequency
	LastScannedAt *time.Time
	CreatedAt     time.Time
}

// NormalizeAddress lower-cases and trims an address before it is stored or compared.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsDue reports whether the email should be scanned at now. Elapsed time is measured
// from the last scan, not aligned to the calendar; slack shortens the interval.
func (e MonitoredEmail) IsDue(now time.Time, slack time.Duration) bool {
	if e.LastScannedAt == nil {
		return true
	}
	interval := e.Frequency.Interval()
	if interval <= 0 {
		return true
	}
	return now.Sub(*e.LastScannedAt) >= interval-slack
}
