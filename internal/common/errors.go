// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Input and scoping errors.
	ErrValidation     = errors.New("validation failed")
	ErrScopeViolation = errors.New("scope violation")

	// Storage errors.
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage error")

	// Conversation errors.
	ErrAmbiguityUnresolved = errors.New("ambiguity unresolved")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrOracle              = errors.New("oracle call failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level problems with an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	msg := ErrValidation.Error() + ":"
	for i, f := range e.Fields {
		if i > 0 {
			msg += ";"
		}
		msg += fmt.Sprintf(" %s %s", f.Field, f.Message)
	}
	return msg
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field problems were recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UserMessage converts any error into a sentence that can be shown to an end user.
// Structured details never leak through it.
func UserMessage(err error) string {
	var userErr *UserError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &userErr):
		return userErr.UserMessage
	case errors.Is(err, ErrNotFound):
		return "I couldn't find a matching transaction. Could you give me a bit more detail, like the date or the amount?"
	case errors.Is(err, ErrAmbiguityUnresolved):
		return "I'm still not sure which transaction you mean. Could you pick one of the numbers from the list?"
	case errors.Is(err, ErrValidation):
		return "Some of those details don't look right. Could you check the amount, date and type and try again?"
	case errors.Is(err, ErrScopeViolation):
		return "Sorry, I can't do that with your ledger."
	case errors.Is(err, ErrStorage), errors.Is(err, context.DeadlineExceeded):
		return "Sorry, I couldn't reach your ledger just now. Please try again in a moment."
	default:
		return "Sorry, something went wrong on my side. Please try again."
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
