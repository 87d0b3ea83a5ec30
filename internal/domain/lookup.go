package domain

import (
	"errors"
	"fmt"
	"time"
)

// LookupKind tags the arms of LookupOutcome.
type LookupKind int

const (
	LookupSuccess LookupKind = iota
	LookupEmpty
	LookupRateLimited
	LookupAuthError
	LookupTransient
	LookupConfigError
)

func (k LookupKind) String() string {
	switch k {
	case LookupSuccess:
		return "success"
	case LookupEmpty:
		return "empty"
	case LookupRateLimited:
		return "rate_limited"
	case LookupAuthError:
		return "auth_error"
	case LookupTransient:
		return "transient"
	case LookupConfigError:
		return "config_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrMissingAPIKey is the configuration error returned when no lookup key is stored.
var ErrMissingAPIKey = errors.New("HIBP API key not configured")

// LookupOutcome is the result of one breach lookup. Only the fields of the active arm
// are meaningful: Breaches for success, RetryAfter for rate-limited, StatusCode and
// Cause for the error arms.
type LookupOutcome struct {
	Kind       LookupKind
	Breaches   []Breach
	RetryAfter time.Duration
	StatusCode int
	Cause      error
}

func SuccessOutcome(breaches []Breach) LookupOutcome {
	if len(breaches) == 0 {
		return EmptyOutcome()
	}
	return LookupOutcome{Kind: LookupSuccess, Breaches: breaches}
}

func EmptyOutcome() LookupOutcome {
	return LookupOutcome{Kind: LookupEmpty}
}

func RateLimitedOutcome(retryAfter time.Duration) LookupOutcome {
	return LookupOutcome{Kind: LookupRateLimited, RetryAfter: retryAfter, StatusCode: 429}
}

func AuthErrorOutcome(status int) LookupOutcome {
	return LookupOutcome{Kind: LookupAuthError, StatusCode: status}
}

func TransientOutcome(status int, cause error) LookupOutcome {
	return LookupOutcome{Kind: LookupTransient, StatusCode: status, Cause: cause}
}

func ConfigErrorOutcome(cause error) LookupOutcome {
	return LookupOutcome{Kind: LookupConfigError, Cause: cause}
}

// OK reports whether the lookup produced a (possibly empty) breach list.
func (o LookupOutcome) OK() bool {
	return o.Kind == LookupSuccess || o.Kind == LookupEmpty
}

// Err returns nil for the OK arms and a *LookupError otherwise.
func (o LookupOutcome) Err() error {
	if o.OK() {
		return nil
	}
	return &LookupError{Kind: o.Kind, StatusCode: o.StatusCode, RetryAfter: o.RetryAfter, Cause: o.Cause}
}

// LookupError describes a failed lookup.
type LookupError struct {
	Kind       LookupKind
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *LookupError) Error() string {
	switch e.Kind {
	case LookupRateLimited:
		return "rate limit exceeded"
	case LookupAuthError:
		if e.StatusCode == 403 {
			return "forbidden - missing user agent or blocked"
		}
		return "invalid API key"
	case LookupConfigError:
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return ErrMissingAPIKey.Error()
	default:
		if e.StatusCode > 0 {
			return fmt.Sprintf("HIBP API error: %d", e.StatusCode)
		}
		if e.Cause != nil {
			return fmt.Sprintf("HIBP request failed: %v", e.Cause)
		}
		return "HIBP request failed"
	}
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}
