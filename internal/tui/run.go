// Package tui implements the interactive terminal chat of dompet.
package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/dompet/internal/common"
)

// Run starts the chat UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Runner == nil {
		return fmt.Errorf("%w: runner is required", common.ErrMissingConfig)
	}
	if err := cfg.Scope.ValidateSession(); err != nil {
		return err
	}

	program := tea.NewProgram(newModel(ctx, cfg),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat UI failed: %w", err)
	}
	return nil
}
