package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ratebudget"
)

func TestStaticStoreDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStaticStore(Settings{Schedule: domain.DefaultSchedule()})

	rpm, err := store.RPMLimit(ctx)
	require.NoError(t, err)
	assert.Equal(t, ratebudget.DefaultRPM, rpm)

	require.NoError(t, store.SetRPMLimit(40))
	rpm, _ = store.RPMLimit(ctx)
	assert.Equal(t, 40, rpm)
	assert.ErrorIs(t, store.SetRPMLimit(0), ratebudget.ErrInvalidRPM)

	bad := domain.DefaultSchedule()
	bad.DailyHour = 24
	assert.Error(t, store.SetSchedule(bad))
	sched, _ := store.Schedule(ctx)
	assert.Equal(t, domain.DefaultSchedule(), sched)

	store.SetNotificationEmail("  Ops@Example.com ")
	email, _ := store.NotificationEmail(ctx)
	assert.Equal(t, "ops@example.com", email)
}

func TestInspect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := Inspect(ctx, NewStaticStore(Settings{HIBPAPIKey: "k"}))
	require.NoError(t, err)
	assert.True(t, st.HasHIBPKey)
	assert.False(t, st.Configured)

	st, err = Inspect(ctx, NewStaticStore(Settings{HIBPAPIKey: "k", SMTPPassword: "p", NotificationEmail: "a@b.c"}))
	require.NoError(t, err)
	assert.True(t, st.Configured)
}

// Not parallel: MockInit swaps the package-level keyring provider.
func TestKeyringStoreOverridesFallback(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	fallback := NewStaticStore(Settings{HIBPAPIKey: "from-config", SMTPPassword: "smtp-config", NotificationEmail: "ops@example.com"})
	store := NewKeyringStore("", fallback)

	key, err := store.HIBPAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	require.NoError(t, store.Set(EntryHIBPAPIKey, "from-keyring"))
	key, err = store.HIBPAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", key)

	password, err := store.SMTPPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, "smtp-config", password)

	email, err := store.NotificationEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email)

	assert.ErrorIs(t, store.Set("other", "x"), ErrUnknownEntry)
}
