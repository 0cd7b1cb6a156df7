// Package storage provides the tenant-scoped persistence layer: the ledger,
// its aggregates and the conversation transcripts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
)

// Validation errors.
var (
	ErrNilContext  = errors.New("context cannot be nil")
	ErrEmptyString = errors.New("string parameter cannot be empty")
	ErrInvalidID   = errors.New("id must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("%w: %w", common.ErrValidation, ErrNilContext)
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %w: %s", common.ErrValidation, ErrEmptyString, paramName)
	}
	return nil
}

func validateID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %w", common.ErrValidation, ErrInvalidID)
	}
	return nil
}
