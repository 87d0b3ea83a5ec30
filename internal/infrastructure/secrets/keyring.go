package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"BreachWatch/internal/ports"
)

// DefaultService is the keyring service name entries are stored under.
const DefaultService = "breachwatch"

// Keyring entry names.
const (
	EntryHIBPAPIKey   = "hibp-api-key"
	EntrySMTPPassword = "smtp-password"
)

// ErrUnknownEntry rejects writes to names the service never reads.
var ErrUnknownEntry = errors.New("unknown keyring entry")

// KeyringStore reads credentials from the OS keyring and delegates everything
// else, including credentials missing from the keyring, to the fallback store.
type KeyringStore struct {
	ports.SecretStore
	service string
}

var _ ports.SecretStore = (*KeyringStore)(nil)

func NewKeyringStore(service string, fallback ports.SecretStore) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{SecretStore: fallback, service: service}
}

func (k *KeyringStore) HIBPAPIKey(ctx context.Context) (string, error) {
	return k.lookup(ctx, EntryHIBPAPIKey, k.SecretStore.HIBPAPIKey)
}

func (k *KeyringStore) SMTPPassword(ctx context.Context) (string, error) {
	return k.lookup(ctx, EntrySMTPPassword, k.SecretStore.SMTPPassword)
}

func (k *KeyringStore) lookup(ctx context.Context, entry string, fallback func(context.Context) (string, error)) (string, error) {
	value, err := keyring.Get(k.service, entry)
	switch {
	case err == nil && value != "":
		return value, nil
	case err == nil, errors.Is(err, keyring.ErrNotFound):
		return fallback(ctx)
	default:
		return "", fmt.Errorf("keyring %s/%s: %w", k.service, entry, err)
	}
}

// Set stores a credential in the keyring.
func (k *KeyringStore) Set(entry, value string) error {
	if entry != EntryHIBPAPIKey && entry != EntrySMTPPassword {
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entry)
	}
	if err := keyring.Set(k.service, entry, value); err != nil {
		return fmt.Errorf("keyring %s/%s: %w", k.service, entry, err)
	}
	return nil
}
