package usecase

import (
	"context"
	"fmt"
	"time"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/metrics"
	"BreachWatch/internal/ports"
)

// RecordResult is what one Record call added.
type RecordResult struct {
	NewCount int
	Pending  []domain.BreachRecord
}

// Recorder stores breaches of one email exactly once per (email, breach name).
type Recorder struct {
	breaches      ports.BreachRepository
	notifications ports.NotificationRepository
	now           func() time.Time
	newID         func() string
}

func NewRecorder(breaches ports.BreachRepository, notifications ports.NotificationRepository, now func() time.Time, newID func() string) *Recorder {
	return &Recorder{breaches: breaches, notifications: notifications, now: now, newID: newID}
}

// Record inserts unknown breaches and queues an in-app notification for each.
// Known breaches, including ones inserted concurrently, are skipped.
func (r *Recorder) Record(ctx context.Context, emailID string, breaches []domain.Breach) (RecordResult, error) {
	var result RecordResult
	for _, breach := range breaches {
		existing, err := r.breaches.FindBreach(ctx, emailID, breach.Name)
		if err != nil {
			return result, fmt.Errorf("find breach %s: %w", breach.Name, err)
		}
		if existing != nil {
			continue
		}

		now := r.now()
		record := domain.NewBreachRecord(r.newID(), emailID, breach, now)
		inserted, err := r.breaches.InsertBreach(ctx, record)
		if err != nil {
			return result, fmt.Errorf("insert breach %s: %w", breach.Name, err)
		}
		if !inserted {
			continue
		}

		err = r.notifications.CreateNotification(ctx, domain.Notification{
			ID:        r.newID(),
			EmailID:   emailID,
			Type:      domain.NotificationNewBreach,
			Message:   domain.NewBreachMessage(breach),
			CreatedAt: now,
		})
		if err != nil {
			return result, fmt.Errorf("create notification for %s: %w", breach.Name, err)
		}

		result.Pending = append(result.Pending, record)
		result.NewCount++
		metrics.NewBreaches.Inc()
	}
	return result, nil
}
