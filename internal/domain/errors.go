package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures. All kinds are soft: the fallback
// chain escalates past them instead of aborting.
type ErrorKind string

const (
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindRateLimited       ErrorKind = "rate_limited"
	ErrKindInvalidCredential ErrorKind = "invalid_credential"
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindUnavailable       ErrorKind = "unavailable"
)

// ProviderError wraps a failure from one provider call.
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

// NewProviderError builds a classified provider failure.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// AsProviderError unwraps err into a *ProviderError if it is one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrExhausted reports that every configured provider was tried or skipped
// and no candidate was ever obtained.
var ErrExhausted = errors.New("geocoding chain exhausted")
