package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for adapter operations.
var (
	// ErrUnknownProvider indicates an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrBinaryMissing indicates the provider CLI is not on PATH.
	ErrBinaryMissing = errors.New("provider binary missing")

	// ErrAuthUnresolved indicates no credential source in the chain
	// matched.
	ErrAuthUnresolved = errors.New("provider credentials unresolved")

	// ErrModelUnavailable indicates the requested model resolved to
	// nothing within the configured chain.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrStartFailed indicates the subprocess could not be spawned.
	ErrStartFailed = errors.New("subprocess start failed")
)

// AdapterError wraps adapter failures with context.
type AdapterError struct {
	// Op is the operation that failed (e.g., "Start", "Stop").
	Op string

	// Provider is the provider type.
	Provider Type

	// Task is the task key, if applicable.
	Task string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("%s %s: task %s: %v", e.Provider, e.Op, e.Task, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsBinaryMissing returns true if the error indicates an absent provider CLI.
func IsBinaryMissing(err error) bool {
	return errors.Is(err, ErrBinaryMissing)
}

// IsAuthUnresolved returns true if the error indicates unresolvable credentials.
func IsAuthUnresolved(err error) bool {
	return errors.Is(err, ErrAuthUnresolved)
}

// IsModelUnavailable returns true if the error indicates a model outside the configured chain.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

// IsStartFailed returns true if the error indicates a failed subprocess spawn.
func IsStartFailed(err error) bool {
	return errors.Is(err, ErrStartFailed)
}
