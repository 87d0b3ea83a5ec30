package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"BreachWatch/internal/api"
	"BreachWatch/internal/config"
	"BreachWatch/internal/domain"
	"BreachWatch/internal/infrastructure/events"
	"BreachWatch/internal/infrastructure/hibp"
	"BreachWatch/internal/infrastructure/mailer"
	"BreachWatch/internal/infrastructure/scheduler"
	"BreachWatch/internal/infrastructure/secrets"
	"BreachWatch/internal/infrastructure/storage"
	"BreachWatch/internal/logging"
	"BreachWatch/internal/ports"
	"BreachWatch/internal/usecase"
)

const staleRunReason = "interrupted by restart"

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *sql.DB
	store     ports.Store
	lock      ports.RunLock
	settings  *secrets.StaticStore
	secrets   ports.SecretStore
	keyring   *secrets.KeyringStore
	publisher ports.EventPublisher

	orchestrator *usecase.Orchestrator
	trigger      *usecase.ScheduleTrigger
}

// New builds every adapter the configuration asks for. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if baseLogger == nil {
		baseLogger = logging.NewWithWriter(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}

	a := &Application{cfg: cfg, logger: baseLogger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.settings = secrets.NewStaticStore(secrets.Settings{
		HIBPAPIKey:        cfg.HIBP.APIKey,
		SMTPPassword:      cfg.Mail.Password,
		NotificationEmail: domain.NormalizeAddress(cfg.Mail.NotificationEmail),
		RPMLimit:          cfg.HIBP.RPM,
		Schedule:          cfg.Scheduler.Times,
	})
	a.secrets = a.settings
	if cfg.Keyring.Enabled {
		a.keyring = secrets.NewKeyringStore(cfg.Keyring.Service, a.settings)
		a.secrets = a.keyring
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, baseLogger)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.publisher = publisher
	} else {
		a.publisher = events.Nop{}
	}

	notifier := mailer.NewNotifier(mailer.Options{
		Host:               cfg.Mail.Host,
		Port:               cfg.Mail.Port,
		Username:           cfg.Mail.Username,
		SenderAddress:      cfg.Mail.From,
		SenderName:         cfg.Mail.FromName,
		InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		Logger:             baseLogger,
	}, a.secrets)

	lookup := hibp.NewClient(a.secrets, hibp.Options{
		BaseURL:   cfg.HIBP.BaseURL,
		UserAgent: cfg.HIBP.UserAgent,
		Timeout:   cfg.HIBP.Timeout,
		RPM:       cfg.HIBP.RPM,
		Logger:    baseLogger.With("component", "hibp"),
	})

	a.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Store:    a.store,
		Lookup:   lookup,
		Notifier: notifier,
		Secrets:  a.secrets,
		Lock:     a.lock,
		Events:   a.publisher,
		Logger:   baseLogger,
		DueSlack: cfg.Scheduler.DueSlack,
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger)
	a.trigger = usecase.NewScheduleTrigger(cron, a.orchestrator, a.secrets, usecase.ScheduleOptions{
		BusyRetries:  cfg.Scheduler.BusyRetries,
		BusyInterval: cfg.Scheduler.BusyInterval,
	}, baseLogger)

	return a, nil
}

func (a *Application) openStore(ctx context.Context) error {
	switch a.cfg.Database.ResolvedDriver() {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		repo := storage.NewPostgresRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return err
		}
		a.db = db
		a.store = repo
		a.lock = storage.NewAdvisoryLock(db, a.cfg.Database.LockKey)
	default:
		a.store = storage.NewMemoryRepository()
		a.lock = storage.NewLocalLock()
	}
	a.logger.Info("store ready", "driver", a.cfg.Database.ResolvedDriver())
	return nil
}

func (a *Application) closeStore() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// Serve recovers interrupted runs, starts the schedule and serves HTTP until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.recoverStaleRuns(ctx); err != nil {
		return err
	}

	if logging.ParseLevel(a.cfg.Logging.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Deps{
		Store:    a.store,
		Scanner:  a.orchestrator,
		Schedule: a.trigger,
		Settings: a.apiSettings(),
		Logger:   a.logger,
	})
	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := a.trigger.Start(ctx); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.trigger.Stop(shutdownCtx); err != nil {
		a.logger.Warn("schedule shutdown", "error", err)
	}
	a.logger.Info("service stopped")
	return serveErr
}

// recoverStaleRuns fails RUNNING rows left by a crash. It only touches them while
// holding the run lock so a live run in another process keeps its row.
func (a *Application) recoverStaleRuns(ctx context.Context) error {
	release, ok, err := a.lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		a.logger.Info("another process holds the run lock, skipping stale run recovery")
		return nil
	}
	defer release()

	n, err := a.store.FailStaleRuns(ctx, time.Now(), staleRunReason)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Warn("failed stale scan runs", "count", n)
	}
	return nil
}

// Scan runs one scan immediately, optionally restricted to a tier.
func (a *Application) Scan(ctx context.Context, tier *domain.Frequency) (usecase.RunResult, error) {
	return a.orchestrator.Run(ctx, tier)
}

// ScanEmail scans one monitored email by id.
func (a *Application) ScanEmail(ctx context.Context, id string) (usecase.SingleResult, error) {
	return a.orchestrator.ScanOne(ctx, id)
}

// Schedule returns the active schedule.
func (a *Application) Schedule(ctx context.Context) (domain.ScheduleConfig, error) {
	return a.secrets.Schedule(ctx)
}

// SetSecret writes a credential to the OS keyring.
func (a *Application) SetSecret(entry, value string) error {
	store := a.keyring
	if store == nil {
		store = secrets.NewKeyringStore(a.cfg.Keyring.Service, a.settings)
	}
	return store.Set(entry, value)
}

// SettingsStatus reports which credentials resolve.
func (a *Application) SettingsStatus(ctx context.Context) (secrets.Status, error) {
	return secrets.Inspect(ctx, a.secrets)
}

// Close flushes the event publisher and closes the database.
func (a *Application) Close() error {
	var errs []error
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) apiSettings() api.Settings {
	if a.keyring == nil {
		return a.settings
	}
	return keyringSettings{KeyringStore: a.keyring, static: a.settings}
}

// keyringSettings reads credentials through the keyring and writes the non-secret
// settings to the runtime store.
type keyringSettings struct {
	*secrets.KeyringStore
	static *secrets.StaticStore
}

func (k keyringSettings) SetSchedule(cfg domain.ScheduleConfig) error {
	return k.static.SetSchedule(cfg)
}

func (k keyringSettings) SetRPMLimit(rpm int) error {
	return k.static.SetRPMLimit(rpm)
}

func (k keyringSettings) SetNotificationEmail(address string) {
	k.static.SetNotificationEmail(address)
}
