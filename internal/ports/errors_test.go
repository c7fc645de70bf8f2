package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// TestStoreError tests the functionality of the StoreError error type.
// It verifies that the error message is formatted correctly and contains the expected context.
func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "missing aggregate",
			key:       "s1/before",
			operation: "FetchAggregatedGrade",
			err:       domain.ErrNotFound,
			wantMsg:   "store error: operation=FetchAggregatedGrade, key=s1/before, err=not found",
		},
		{
			name:      "store down",
			key:       "course-1",
			operation: "UpsertPeerGraph",
			err:       ErrStoreUnavailable,
			wantMsg:   "store error: operation=UpsertPeerGraph, key=course-1, err=store unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStoreError(tt.operation, tt.key, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.key, err.Key)
			assert.Equal(t, tt.operation, err.Operation)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

// TestConfigError tests the functionality of the ConfigError error type.
func TestConfigError(t *testing.T) {
	err := NewConfigError("activity.path", ErrConfigNotFound)
	assert.Equal(t, "config error: key=activity.path, err=configuration not found", err.Error())
	assert.Equal(t, "activity.path", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

// TestCommonInfrastructureErrors tests that the common infrastructure errors are defined.
func TestCommonInfrastructureErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrStoreUnavailable, "store unavailable"},
		{ErrGradebookRejected, "gradebook rejected score"},
		{ErrConfigNotFound, "configuration not found"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

// TestErrorUnwrapping tests that all custom error types in the package support unwrapping.
func TestErrorUnwrapping(t *testing.T) {
	baseErr := errors.New("underlying error")

	errorList := []interface {
		error
		Unwrap() error
	}{
		NewStoreError("op", "key", baseErr),
		NewConfigError("key", baseErr),
	}

	for _, err := range errorList {
		unwrapped := err.Unwrap()
		assert.Equal(t, baseErr, unwrapped, "%T should unwrap to base error", err)
		assert.True(t, errors.Is(err, baseErr), "%T should match base error with Is", err)
	}
}
