package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ratebudget"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "breachwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := LoadFile("")

	assert.Equal(t, ratebudget.DefaultRPM, cfg.HIBP.RPM)
	assert.Equal(t, "BreachWatch/1.0", cfg.HIBP.UserAgent)
	assert.Equal(t, domain.DefaultSchedule(), cfg.Scheduler.Times)
	assert.Equal(t, DriverMemory, cfg.Database.ResolvedDriver())
	assert.Equal(t, time.Local, cfg.Scheduler.Location())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://breachwatch@localhost/breachwatch
hibp:
  rpm: 40
  timeout: 10s
mail:
  host: smtp.example.com
  notificationEmail: ops@example.com
scheduler:
  timezone: Europe/Berlin
  dueSlack: 5m
  times:
    dailyHour: 0
    dailyMinute: 15
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
`)

	cfg := LoadFile(path)

	assert.Equal(t, DriverPostgres, cfg.Database.ResolvedDriver())
	assert.Equal(t, 40, cfg.HIBP.RPM)
	assert.Equal(t, 10*time.Second, cfg.HIBP.Timeout)
	assert.Equal(t, "https://haveibeenpwned.com/api/v3", cfg.HIBP.BaseURL)
	assert.Equal(t, "smtp.example.com", cfg.Mail.Host)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DueSlack)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())

	times := cfg.Scheduler.Times
	assert.Equal(t, 0, times.DailyHour)
	assert.Equal(t, 15, times.DailyMinute)
	assert.Equal(t, 3, times.WeeklyHour, "untouched keys keep their defaults")
	assert.Equal(t, 1, times.MonthlyDay)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "breachwatch.scan-runs", cfg.Kafka.Topic)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileFallsBackOnBrokenFile(t *testing.T) {
	cfg := LoadFile(writeConfig(t, "hibp: [not, a, mapping"))
	assert.Equal(t, defaultConfig().HIBP, cfg.HIBP)

	cfg = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, defaultConfig().Mail, cfg.Mail)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(hibpAPIKeyEnv, "secret")
	t.Setenv(hibpRPMEnv, "25")
	t.Setenv(smtpPortEnv, "2525")
	t.Setenv(notificationEmailEnv, "alerts@example.com")
	t.Setenv(kafkaBrokersEnv, " a:9092, ,b:9092 ")
	t.Setenv(timezoneEnv, "UTC")
	t.Setenv(keyringEnabledEnv, "true")
	t.Setenv(databaseDSNEnv, "postgres://env")

	cfg := LoadFile(writeConfig(t, "hibp:\n  rpm: 5\n"))

	assert.Equal(t, "secret", cfg.HIBP.APIKey)
	assert.Equal(t, 25, cfg.HIBP.RPM)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, "alerts@example.com", cfg.Mail.NotificationEmail)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.UTC, cfg.Scheduler.Location())
	assert.True(t, cfg.Keyring.Enabled)
	assert.Equal(t, DriverPostgres, cfg.Database.ResolvedDriver())
}

func TestInvalidEnvValuesAreIgnored(t *testing.T) {
	t.Setenv(hibpRPMEnv, "lots")
	t.Setenv(timezoneEnv, "Mars/Olympus")

	cfg := LoadFile("")
	assert.Equal(t, ratebudget.DefaultRPM, cfg.HIBP.RPM)
	assert.Equal(t, time.Local, cfg.Scheduler.Location())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero rpm", func(c *Config) { c.HIBP.RPM = 0 }, "hibp.rpm"},
		{"bad schedule", func(c *Config) { c.Scheduler.Times.WeeklyDay = 7 }, "weeklyDay"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, "not supported"},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"k:9092"}
			c.Kafka.Topic = ""
		}, "kafka.topic"},
		{"negative slack", func(c *Config) { c.Scheduler.DueSlack = -time.Second }, "dueSlack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
