package market

import (
	"errors"
	"fmt"
)

// ErrorKind tags a ProviderError.
type ErrorKind int

const (
	RateLimited ErrorKind = iota + 1
	Timeout
	NotFound
	Malformed
	Unavailable
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case Malformed:
		return "malformed"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProviderError is a per-call provider failure.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewError builds a ProviderError.
func NewError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ErrNoProviderAvailable is returned when every provider of a chain failed for a fact.
var ErrNoProviderAvailable = errors.New("no provider available")

// KindOf extracts the ErrorKind of err, or 0 when err is not a ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsNotFound reports whether err is an authoritative NotFound.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }
