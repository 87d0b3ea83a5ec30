package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ratebudget"
)

const (
	defaultTimezone = "Local"
	configPathEnv   = "BREACHWATCH_CONFIG"

	logLevelEnv          = "LOG_LEVEL"
	logFormatEnv         = "LOG_FORMAT"
	databaseDriverEnv    = "DATABASE_DRIVER"
	databaseDSNEnv       = "DATABASE_DSN"
	hibpAPIKeyEnv        = "HIBP_API_KEY"
	hibpRPMEnv           = "HIBP_RPM"
	hibpBaseURLEnv       = "HIBP_BASE_URL"
	smtpHostEnv          = "SMTP_HOST"
	smtpPortEnv          = "SMTP_PORT"
	smtpUsernameEnv      = "SMTP_USERNAME"
	smtpPasswordEnv      = "SMTP_PASSWORD"
	smtpFromEnv          = "SMTP_FROM"
	notificationEmailEnv = "NOTIFICATION_EMAIL"
	httpAddrEnv          = "HTTP_ADDR"
	kafkaBrokersEnv      = "KAFKA_BROKERS"
	kafkaTopicEnv        = "KAFKA_TOPIC"
	timezoneEnv          = "SCAN_TIMEZONE"
	keyringEnabledEnv    = "KEYRING_ENABLED"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	HIBP      HIBPConfig      `yaml:"hibp"`
	Mail      MailConfig      `yaml:"mail"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Keyring   KeyringConfig   `yaml:"keyring"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the store. An empty driver means postgres when a DSN is
// set and memory otherwise. A zero LockKey uses the built-in advisory lock key.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	LockKey int64  `yaml:"lockKey"`
}

// ResolvedDriver applies the empty-driver rule.
func (d DatabaseConfig) ResolvedDriver() string {
	if d.Driver != "" {
		return strings.ToLower(d.Driver)
	}
	if d.DSN != "" {
		return DriverPostgres
	}
	return DriverMemory
}

// HIBPConfig describes how to reach the breach lookup service.
type HIBPConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	APIKey    string        `yaml:"apiKey"`
	RPM       int           `yaml:"rpm"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

// MailConfig wires the SMTP relay and the operator address alerts go to.
type MailConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	FromName           string `yaml:"fromName"`
	NotificationEmail  string `yaml:"notificationEmail"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// SchedulerConfig defines when each tier runs.
type SchedulerConfig struct {
	Timezone     string                `yaml:"timezone"`
	Times        domain.ScheduleConfig `yaml:"times"`
	DueSlack     time.Duration         `yaml:"dueSlack"`
	BusyRetries  int                   `yaml:"busyRetries"`
	BusyInterval time.Duration         `yaml:"busyInterval"`
	location     *time.Location        `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.Local
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KafkaConfig enables run events when brokers are listed.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// KeyringConfig layers OS keyring secrets over the configured ones.
type KeyringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// Load reads .env, then the YAML file named by BREACHWATCH_CONFIG, then environment overrides.
func Load() Config {
	_ = godotenv.Load()
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit YAML path; an empty path uses defaults only.
func LoadFile(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if merged, err := mergeYAML(cfg, raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = merged
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg
}

// Validate reports every setting the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if err := c.Scheduler.Times.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.times: %w", err))
	}
	if c.HIBP.RPM <= 0 {
		errs = append(errs, fmt.Errorf("hibp.rpm: %w", ratebudget.ErrInvalidRPM))
	}
	if c.HIBP.Timeout <= 0 {
		errs = append(errs, errors.New("hibp.timeout must be positive"))
	}
	switch c.Database.ResolvedDriver() {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		errs = append(errs, fmt.Errorf("mail.port %d is out of range", c.Mail.Port))
	}
	if c.Scheduler.DueSlack < 0 {
		errs = append(errs, errors.New("scheduler.dueSlack must not be negative"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(hibpAPIKeyEnv); v != "" {
		c.HIBP.APIKey = v
	}
	if v := os.Getenv(hibpBaseURLEnv); v != "" {
		c.HIBP.BaseURL = v
	}
	if v := os.Getenv(hibpRPMEnv); v != "" {
		if rpm, err := strconv.Atoi(v); err != nil {
			log.Printf("config: ignoring %s=%q: %v", hibpRPMEnv, v, err)
		} else {
			c.HIBP.RPM = rpm
		}
	}

	if v := os.Getenv(smtpHostEnv); v != "" {
		c.Mail.Host = v
	}
	if v := os.Getenv(smtpPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err != nil {
			log.Printf("config: ignoring %s=%q: %v", smtpPortEnv, v, err)
		} else {
			c.Mail.Port = port
		}
	}
	if v := os.Getenv(smtpUsernameEnv); v != "" {
		c.Mail.Username = v
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Mail.Password = v
	}
	if v := os.Getenv(smtpFromEnv); v != "" {
		c.Mail.From = v
	}
	if v := os.Getenv(notificationEmailEnv); v != "" {
		c.Mail.NotificationEmail = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv(kafkaTopicEnv); v != "" {
		c.Kafka.Topic = v
	}

	if v := os.Getenv(timezoneEnv); v != "" {
		c.Scheduler.Timezone = v
	}

	if v := os.Getenv(keyringEnabledEnv); v != "" {
		if enabled, err := strconv.ParseBool(v); err != nil {
			log.Printf("config: ignoring %s=%q: %v", keyringEnabledEnv, v, err)
		} else {
			c.Keyring.Enabled = enabled
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc = time.Local
	}
	c.Scheduler.location = loc
}

// mergeYAML decodes raw over base; keys absent from the document keep their base value,
// so an explicit zero (such as dailyHour: 0) still overrides.
func mergeYAML(base Config, raw []byte) (Config, error) {
	merged := base
	merged.Kafka.Brokers = nil
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return base, err
	}
	if merged.Kafka.Brokers == nil {
		merged.Kafka.Brokers = base.Kafka.Brokers
	}
	return merged, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HIBP: HIBPConfig{
			BaseURL:   "https://haveibeenpwned.com/api/v3",
			RPM:       ratebudget.DefaultRPM,
			Timeout:   30 * time.Second,
			UserAgent: "BreachWatch/1.0",
		},
		Mail: MailConfig{
			Port:     587,
			FromName: "BreachWatch",
		},
		Scheduler: SchedulerConfig{
			Timezone:     defaultTimezone,
			Times:        domain.DefaultSchedule(),
			BusyRetries:  60,
			BusyInterval: time.Minute,
			location:     time.Local,
		},
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Kafka:   KafkaConfig{Topic: "breachwatch.scan-runs"},
		Keyring: KeyringConfig{Service: "breachwatch"},
	}
}
