package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Breach is a breach as reported by the lookup service for one account.
type Breach struct {
	Name        string
	Title       string
	Domain      string
	BreachDate  *time.Time
	AddedDate   *time.Time
	Description string
	DataClasses []string
	PwnCount    int64
	IsVerified  bool
}

// DisplayTitle falls back to the breach name when the service sent no title.
func (b Breach) DisplayTitle() string {
	if b.Title != "" {
		return b.Title
	}
	return b.Name
}

// BreachStatus is owned by the management interface; scans never change it.
type BreachStatus string

const (
	BreachActive       BreachStatus = "ACTIVE"
	BreachAcknowledged BreachStatus = "ACKNOWLEDGED"
	BreachResolved     BreachStatus = "RESOLVED"
)

// BreachRecord is a persisted breach of one monitored email. (EmailID, Name) is unique.
// A nil NotificationSentAt marks the alert as still owed to the operator.
type BreachRecord struct {
	ID                 string
	EmailID            string
	Name               string
	Title              string
	Domain             string
	BreachDate         *time.Time
	AddedDate          *time.Time
	Description        string
	DataClasses        []string
	PwnCount           int64
	IsVerified         bool
	DiscoveredAt       time.Time
	NotificationSentAt *time.Time
	Status             BreachStatus
}

// NewBreachRecord builds an unsent, active record for a freshly discovered breach.
func NewBreachRecord(id, emailID string, b Breach, now time.Time) BreachRecord {
	classes := make([]string, len(b.DataClasses))
	copy(classes, b.DataClasses)
	return BreachRecord{
		ID:           id,
		EmailID:      emailID,
		Name:         b.Name,
		Title:        b.Title,
		Domain:       b.Domain,
		BreachDate:   b.BreachDate,
		AddedDate:    b.AddedDate,
		Description:  b.Description,
		DataClasses:  classes,
		PwnCount:     b.PwnCount,
		IsVerified:   b.IsVerified,
		DiscoveredAt: now,
		Status:       BreachActive,
	}
}

// DisplayTitle mirrors Breach.DisplayTitle for stored records.
func (r BreachRecord) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// Pending reports whether the alert for this record has not been delivered yet.
func (r BreachRecord) Pending() bool {
	return r.NotificationSentAt == nil
}

// Risk classifies the record by its exposed data classes.
func (r BreachRecord) Risk() RiskLevel {
	return RiskLevelFor(r.DataClasses)
}

// PendingBreach is an unsent record joined with its owner's address.
type PendingBreach struct {
	BreachRecord
	Address string
}

// PendingGroup is the outbox entry for one address: every breach whose alert is owed.
type PendingGroup struct {
	Address  string
	Breaches []BreachRecord
}

// IDs returns the record ids covered by the group.
func (g PendingGroup) IDs() []string {
	ids := make([]string, 0, len(g.Breaches))
	for _, b := range g.Breaches {
		ids = append(ids, b.ID)
	}
	return ids
}

// NotificationType tags in-app notifications.
type NotificationType string

const NotificationNewBreach NotificationType = "NEW_BREACH"

// Notification is an in-app message shown on the dashboard.
type Notification struct {
	ID        string
	EmailID   string
	Type      NotificationType
	Message   string
	Read      bool
	CreatedAt time.Time
}

// NewBreachMessage is the in-app text for a newly discovered breach.
func NewBreachMessage(b Breach) string {
	return fmt.Sprintf("New breach detected: %s - Exposed data: %s",
		b.DisplayTitle(), strings.Join(b.DataClasses, ", "))
}

// ErrMissingRecipient is the configuration error returned when no operator address is set.
var ErrMissingRecipient = errors.New("notification email not configured")

// BreachAlert is one alert message covering every pending breach of an address.
type BreachAlert struct {
	To       string
	Address  string
	Breaches []BreachRecord
}

// ScanSummary is the end-of-run report sent to the operator.
type ScanSummary struct {
	To            string
	EmailsScanned int
	NewBreaches   int
	Errors        []string
}
