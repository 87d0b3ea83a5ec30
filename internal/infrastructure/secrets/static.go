package secrets

import (
	"context"
	"fmt"
	"sync"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
	"BreachWatch/internal/ratebudget"
)

// Settings is the operator configuration served by the stores.
type Settings struct {
	HIBPAPIKey        string
	SMTPPassword      string
	NotificationEmail string
	RPMLimit          int
	Schedule          domain.ScheduleConfig
}

// StaticStore serves settings loaded at startup and accepts runtime updates
// of the non-secret fields.
type StaticStore struct {
	mu       sync.RWMutex
	settings Settings
}

var _ ports.SecretStore = (*StaticStore)(nil)

func NewStaticStore(settings Settings) *StaticStore {
	return &StaticStore{settings: settings}
}

func (s *StaticStore) HIBPAPIKey(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.HIBPAPIKey, nil
}

func (s *StaticStore) SMTPPassword(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.SMTPPassword, nil
}

func (s *StaticStore) NotificationEmail(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.NotificationEmail, nil
}

// RPMLimit falls back to ratebudget.DefaultRPM when unset.
func (s *StaticStore) RPMLimit(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.RPMLimit <= 0 {
		return ratebudget.DefaultRPM, nil
	}
	return s.settings.RPMLimit, nil
}

func (s *StaticStore) Schedule(context.Context) (domain.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Schedule, nil
}

// SetSchedule replaces the schedule after validating it.
func (s *StaticStore) SetSchedule(cfg domain.ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Schedule = cfg
	return nil
}

func (s *StaticStore) SetRPMLimit(rpm int) error {
	if rpm <= 0 {
		return fmt.Errorf("%w: got %d", ratebudget.ErrInvalidRPM, rpm)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.RPMLimit = rpm
	return nil
}

func (s *StaticStore) SetNotificationEmail(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.NotificationEmail = domain.NormalizeAddress(address)
}

// Status reports which credentials are present.
type Status struct {
	Configured           bool `json:"isConfigured"`
	HasHIBPKey           bool `json:"hasHibpKey"`
	HasSMTPPassword      bool `json:"hasSmtpPassword"`
	HasNotificationEmail bool `json:"hasNotificationEmail"`
}

// Inspect resolves every credential through store without exposing values.
func Inspect(ctx context.Context, store ports.SecretStore) (Status, error) {
	key, err := store.HIBPAPIKey(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("hibp api key: %w", err)
	}
	password, err := store.SMTPPassword(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("smtp password: %w", err)
	}
	email, err := store.NotificationEmail(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("notification email: %w", err)
	}

	st := Status{
		HasHIBPKey:           key != "",
		HasSMTPPassword:      password != "",
		HasNotificationEmail: email != "",
	}
	st.Configured = st.HasHIBPKey && st.HasSMTPPassword && st.HasNotificationEmail
	return st, nil
}
