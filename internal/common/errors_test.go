package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		contains string
	}{
		{name: "nil", err: nil, contains: ""},
		{name: "user error wins", err: NewUserError("Pick a number from the list.", ErrNotFound), contains: "Pick a number"},
		{name: "not found", err: fmt.Errorf("lookup: %w", ErrNotFound), contains: "couldn't find"},
		{name: "ambiguity", err: ErrAmbiguityUnresolved, contains: "still not sure"},
		{name: "validation", err: &ValidationError{Fields: []FieldError{{Field: "amount", Message: "must be positive"}}}, contains: "don't look right"},
		{name: "scope", err: fmt.Errorf("%w: tenant id is required", ErrScopeViolation), contains: "can't do that"},
		{name: "storage", err: fmt.Errorf("%w: connection refused", ErrStorage), contains: "couldn't reach"},
		{name: "deadline", err: context.DeadlineExceeded, contains: "couldn't reach"},
		{name: "unknown", err: errors.New("boom"), contains: "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := UserMessage(tt.err)
			if tt.contains == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestUserMessageHidesDetails(t *testing.T) {
	err := fmt.Errorf("%w: pq: relation \"transactions\" does not exist", ErrStorage)
	assert.NotContains(t, UserMessage(err), "pq:")
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{}
	require.NoError(t, verr.OrNil())

	verr.Add("amount", "must be positive")
	verr.Add("date", "is required")

	err := verr.OrNil()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation failed: amount must be positive; date is required", err.Error())

	wrapped := fmt.Errorf("create: %w", err)
	var target *ValidationError
	require.ErrorAs(t, wrapped, &target)
	assert.Len(t, target.Fields, 2)
	assert.Equal(t, "amount", target.Fields[0].Field)
}

func TestUserErrorUnwrap(t *testing.T) {
	err := NewUserError("Try again later.", ErrStorage)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, "Try again later.: storage error", err.Error())
	assert.Equal(t, "Just this.", NewUserError("Just this.", nil).Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "rate limit", err: fmt.Errorf("openai: %w", ErrRateLimit), want: true},
		{name: "storage", err: ErrStorage, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "marked retryable", err: &RetryableError{Err: errors.New("503"), Retryable: true}, want: true},
		{name: "marked permanent", err: &RetryableError{Err: errors.New("400"), Retryable: false}, want: false},
		{name: "validation", err: ErrValidation, want: false},
		{name: "not found", err: ErrNotFound, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
