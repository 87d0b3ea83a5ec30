package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

// MemoryRepository keeps everything in process memory. It enforces the same
// uniqueness rules as the Postgres schema and is used for single-node setups and tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	emails        map[string]domain.MonitoredEmail
	breaches      map[string]domain.BreachRecord
	notifications []domain.Notification
	runs          map[string]domain.ScanRun
}

var _ ports.Store = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		emails:   make(map[string]domain.MonitoredEmail),
		breaches: make(map[string]domain.BreachRecord),
		runs:     make(map[string]domain.ScanRun),
	}
}

func (r *MemoryRepository) ListEmails(_ context.Context, tier *domain.Frequency) ([]domain.MonitoredEmail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	emails := lo.Filter(lo.Values(r.emails), func(e domain.MonitoredEmail, _ int) bool {
		return tier == nil || e.Frequency == *tier
	})
	slices.SortFunc(emails, func(a, b domain.MonitoredEmail) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return emails, nil
}

func (r *MemoryRepository) GetEmail(_ context.Context, id string) (domain.MonitoredEmail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email, ok := r.emails[id]
	if !ok {
		return domain.MonitoredEmail{}, fmt.Errorf("email %s: %w", id, ports.ErrNotFound)
	}
	return email, nil
}

func (r *MemoryRepository) CreateEmail(_ context.Context, email domain.MonitoredEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[email.ID]; ok {
		return fmt.Errorf("email id %s: %w", email.ID, ports.ErrConflict)
	}
	for _, existing := range r.emails {
		if existing.Address == email.Address {
			return fmt.Errorf("address %s: %w", email.Address, ports.ErrConflict)
		}
	}
	r.emails[email.ID] = email
	return nil
}

func (r *MemoryRepository) UpdateFrequency(_ context.Context, id string, freq domain.Frequency) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email, ok := r.emails[id]
	if !ok {
		return fmt.Errorf("email %s: %w", id, ports.ErrNotFound)
	}
	email.Frequency = freq
	r.emails[id] = email
	return nil
}

func (r *MemoryRepository) MarkScanned(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email, ok := r.emails[id]
	if !ok {
		return fmt.Errorf("email %s: %w", id, ports.ErrNotFound)
	}
	email.LastScannedAt = &at
	r.emails[id] = email
	return nil
}

// DeleteEmail cascades to the address's breaches and notifications.
func (r *MemoryRepository) DeleteEmail(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[id]; !ok {
		return fmt.Errorf("email %s: %w", id, ports.ErrNotFound)
	}
	delete(r.emails, id)
	for key, b := range r.breaches {
		if b.EmailID == id {
			delete(r.breaches, key)
		}
	}
	r.notifications = lo.Reject(r.notifications, func(n domain.Notification, _ int) bool {
		return n.EmailID == id
	})
	return nil
}

func (r *MemoryRepository) CountBreaches(context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.CountValuesBy(lo.Values(r.breaches), func(b domain.BreachRecord) string {
		return b.EmailID
	}), nil
}

func (r *MemoryRepository) FindBreach(_ context.Context, emailID, name string) (*domain.BreachRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breaches {
		if b.EmailID == emailID && b.Name == name {
			found := cloneBreach(b)
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) InsertBreach(_ context.Context, record domain.BreachRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[record.EmailID]; !ok {
		return false, fmt.Errorf("email %s: %w", record.EmailID, ports.ErrNotFound)
	}
	for _, b := range r.breaches {
		if b.EmailID == record.EmailID && b.Name == record.Name {
			return false, nil
		}
	}
	if _, ok := r.breaches[record.ID]; ok {
		return false, fmt.Errorf("breach id %s: %w", record.ID, ports.ErrConflict)
	}
	r.breaches[record.ID] = cloneBreach(record)
	return true, nil
}

func (r *MemoryRepository) ListBreaches(_ context.Context, emailID string) ([]domain.BreachRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := lo.FilterMap(lo.Values(r.breaches), func(b domain.BreachRecord, _ int) (domain.BreachRecord, bool) {
		return cloneBreach(b), b.EmailID == emailID
	})
	slices.SortFunc(records, func(a, b domain.BreachRecord) int {
		if c := b.DiscoveredAt.Compare(a.DiscoveredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return records, nil
}

func (r *MemoryRepository) ListUnsentBreaches(context.Context) ([]domain.PendingBreach, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []domain.PendingBreach
	for _, b := range r.breaches {
		if !b.Pending() {
			continue
		}
		email, ok := r.emails[b.EmailID]
		if !ok {
			continue
		}
		pending = append(pending, domain.PendingBreach{BreachRecord: cloneBreach(b), Address: email.Address})
	}
	slices.SortFunc(pending, func(a, b domain.PendingBreach) int {
		return cmp.Or(
			cmp.Compare(a.Address, b.Address),
			a.DiscoveredAt.Compare(b.DiscoveredAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return pending, nil
}

func (r *MemoryRepository) MarkBreachesSent(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		b, ok := r.breaches[id]
		if !ok || !b.Pending() {
			continue
		}
		sent := at
		b.NotificationSentAt = &sent
		r.breaches[id] = b
	}
	return nil
}

func (r *MemoryRepository) CreateNotification(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, n)
	return nil
}

// Notifications returns a copy of the stored in-app notifications in insertion order.
func (r *MemoryRepository) Notifications() []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.notifications)
}

func (r *MemoryRepository) CreateRun(_ context.Context, run domain.ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("scan run %s: %w", run.ID, ports.ErrConflict)
	}
	if run.Status == domain.RunRunning {
		for _, existing := range r.runs {
			if existing.Status == domain.RunRunning {
				return fmt.Errorf("scan run %s still running: %w", existing.ID, ports.ErrConflict)
			}
		}
	}
	r.runs[run.ID] = run
	return nil
}

func (r *MemoryRepository) FinishRun(_ context.Context, run domain.ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.runs[run.ID]
	if !ok {
		return fmt.Errorf("scan run %s: %w", run.ID, ports.ErrNotFound)
	}
	if existing.Terminal() {
		return fmt.Errorf("scan run %s: %w", run.ID, domain.ErrAlreadyTerminal)
	}
	r.runs[run.ID] = run
	return nil
}

func (r *MemoryRepository) ListRuns(_ context.Context, limit int) ([]domain.ScanRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := sortedRuns(lo.Values(r.runs))
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *MemoryRepository) LatestRun(_ context.Context, status domain.RunStatus) (*domain.ScanRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := sortedRuns(lo.Filter(lo.Values(r.runs), func(run domain.ScanRun, _ int) bool {
		return run.Status == status
	}))
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (r *MemoryRepository) FailStaleRuns(_ context.Context, at time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := 0
	for id, run := range r.runs {
		if run.Status != domain.RunRunning {
			continue
		}
		if err := run.Fail(at, reason); err != nil {
			return failed, err
		}
		r.runs[id] = run
		failed++
	}
	return failed, nil
}

// newest first
func sortedRuns(runs []domain.ScanRun) []domain.ScanRun {
	slices.SortFunc(runs, func(a, b domain.ScanRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return runs
}

func cloneBreach(b domain.BreachRecord) domain.BreachRecord {
	b.DataClasses = slices.Clone(b.DataClasses)
	return b
}
