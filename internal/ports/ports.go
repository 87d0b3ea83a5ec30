package ports

import (
	"context"
	"errors"
	"time"

	"BreachWatch/internal/domain"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// EmailRepository manages monitored addresses.
type EmailRepository interface {
	ListEmails(ctx context.Context, tier *domain.Frequency) ([]domain.MonitoredEmail, error)
	GetEmail(ctx context.Context, id string) (domain.MonitoredEmail, error)
	CreateEmail(ctx context.Context, email domain.MonitoredEmail) error
	UpdateFrequency(ctx context.Context, id string, freq domain.Frequency) error
	MarkScanned(ctx context.Context, id string, at time.Time) error
	DeleteEmail(ctx context.Context, id string) error
	CountBreaches(ctx context.Context) (map[string]int, error)
}

// BreachRepository persists breach records and exposes the notification outbox.
type BreachRepository interface {
	// FindBreach returns nil, nil when no record exists for (emailID, name).
	FindBreach(ctx context.Context, emailID, name string) (*domain.BreachRecord, error)
	// InsertBreach reports false when a record for (EmailID, Name) already exists.
	InsertBreach(ctx context.Context, record domain.BreachRecord) (bool, error)
	ListBreaches(ctx context.Context, emailID string) ([]domain.BreachRecord, error)
	ListUnsentBreaches(ctx context.Context) ([]domain.PendingBreach, error)
	MarkBreachesSent(ctx context.Context, ids []string, at time.Time) error
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
}

// ScanRunRepository keeps run bookkeeping.
type ScanRunRepository interface {
	// CreateRun returns ErrConflict when another run is still RUNNING.
	CreateRun(ctx context.Context, run domain.ScanRun) error
	FinishRun(ctx context.Context, run domain.ScanRun) error
	ListRuns(ctx context.Context, limit int) ([]domain.ScanRun, error)
	// LatestRun returns nil, nil when no run has the status.
	LatestRun(ctx context.Context, status domain.RunStatus) (*domain.ScanRun, error)
	FailStaleRuns(ctx context.Context, at time.Time, reason string) (int, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	EmailRepository
	BreachRepository
	NotificationRepository
	ScanRunRepository
}

// BreachLookup queries the breach-intelligence service for one address.
type BreachLookup interface {
	Lookup(ctx context.Context, address string) domain.LookupOutcome
}

// Notifier delivers operator emails.
type Notifier interface {
	SendBreachAlert(ctx context.Context, alert domain.BreachAlert) error
	SendScanSummary(ctx context.Context, summary domain.ScanSummary) error
}

// SecretStore serves decrypted credentials and operator settings. Empty strings mean
// "not configured".
type SecretStore interface {
	HIBPAPIKey(ctx context.Context) (string, error)
	SMTPPassword(ctx context.Context) (string, error)
	NotificationEmail(ctx context.Context) (string, error)
	RPMLimit(ctx context.Context) (int, error)
	Schedule(ctx context.Context) (domain.ScheduleConfig, error)
}

// RunLock admits at most one scan run at a time.
type RunLock interface {
	// TryLock never blocks; ok is false when the lock is held elsewhere.
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Scheduler is the timer driver behind the schedule trigger.
type Scheduler interface {
	Add(spec string, job func()) (int, error)
	Remove(id int)
	Next(id int) time.Time
	Start()
	Stop(ctx context.Context) error
}

// EventPublisher announces finished runs to downstream consumers.
type EventPublisher interface {
	PublishRunFinished(ctx context.Context, run domain.ScanRun) error
}
