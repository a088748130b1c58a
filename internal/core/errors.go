package core

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Callers classify with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedType    = errors.New("unsupported content type")
	ErrBackendUnavailable = errors.New("ai backend unavailable")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrStorageFailure     = errors.New("storage failure")
)

// InvalidInput wraps ErrInvalidInput with a formatted reason.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StorageFailure tags a driver error as ErrStorageFailure while keeping the original in the chain.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}

// BackendUnavailable tags a transport or SDK error from an AI backend.
func BackendUnavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", backend, ErrBackendUnavailable, err)
}

// DimensionMismatch reports a vector whose length disagrees with the expected dimensionality.
func DimensionMismatch(got, want int) error {
	return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
}
