// Package errors provides centralized error definitions for the crawler.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - Unexported errors (err*): Use for internal package errors
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
//
// Provider failures are classified into exactly four recoverable kinds. Anything
// else is unclassified and must be allowed to propagate.
package errors

import (
	"errors"
	"fmt"
)

// Provider failure errors. Each one is recoverable by skipping the provider
// for the current keyword or by resuming the run later.
var (
	// ErrRateLimited indicates the provider quota or rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlocked indicates the provider is temporarily refusing requests
	// (anti-bot page, repeated non-JSON answers).
	ErrBlocked = errors.New("provider blocked")

	// ErrNetwork indicates a transport-level failure or an unreadable response.
	ErrNetwork = errors.New("network failure")

	// ErrMalformedQuery indicates the provider rejected the query itself.
	ErrMalformedQuery = errors.New("malformed query")
)

// Checkpoint and run errors.
var (
	// ErrCorruptCheckpoint indicates a checkpoint file exists but cannot be decoded.
	// Callers treat it as "no checkpoint" and never repair it in place.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

	// ErrNoCheckpoint indicates no checkpoint is bound or present for a category.
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrRunPaused indicates a run stopped in ERROR state and can be resumed.
	ErrRunPaused = errors.New("run paused")

	// ErrUnknownCategory indicates a category with no configured providers.
	ErrUnknownCategory = errors.New("unknown category")
)

// Client and response errors.
var (
	// ErrClientDisabled indicates a client or feature is disabled.
	ErrClientDisabled = errors.New("client disabled")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrNoModelScores indicates no classifier model produced scores.
	ErrNoModelScores = errors.New("no model scores")
)

// Validation errors.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")
)

// Cache errors.
var (
	// ErrCacheNotFound indicates a cache entry was not found.
	ErrCacheNotFound = errors.New("cache entry not found")
)

// Kind names a provider failure class.
type Kind string

const (
	KindRateLimited    Kind = "RateLimited"
	KindBlocked        Kind = "Blocked"
	KindNetwork        Kind = "NetworkFailure"
	KindMalformedQuery Kind = "MalformedQuery"
	KindUnknown        Kind = ""
)

// sentinel returns the sentinel error for a kind.
func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindBlocked:
		return ErrBlocked
	case KindNetwork:
		return ErrNetwork
	case KindMalformedQuery:
		return ErrMalformedQuery
	default:
		return nil
	}
}

// ProviderError carries the provider name and failure kind of a classified failure.
type ProviderError struct {
	Provider   string
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

// NewProviderError builds a classified provider failure.
func NewProviderError(provider string, kind Kind, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: cause}
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}

	if e.Err != nil {
		out = append(out, e.Err)
	}

	return out
}

// KindOf classifies an error chain. It returns KindUnknown for anything outside
// the four provider failure kinds.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind != KindUnknown {
		return pe.Kind
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrMalformedQuery):
		return KindMalformedQuery
	default:
		return KindUnknown
	}
}

// IsProviderScoped reports whether err is one of the four recoverable kinds.
func IsProviderScoped(err error) bool {
	return KindOf(err) != KindUnknown
}

// ProviderOf returns the provider name recorded on a classified error.
func ProviderOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Provider
	}

	return ""
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
