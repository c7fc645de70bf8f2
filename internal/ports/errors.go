package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external collaborator
// interactions.
var (
	// ErrStoreUnavailable indicates that the grade store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrGradebookRejected indicates that the grade-book ledger refused a score.
	ErrGradebookRejected = errors.New("gradebook rejected score")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents an error from grade store operations.
// It includes the key and operation that failed.
type StoreError struct {
	// Operation is the name of the store operation that failed.
	Operation string

	// Key identifies the record involved, such as "student/timing".
	Key string

	// Err is the underlying error that caused the store operation to fail.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(operation, key string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
