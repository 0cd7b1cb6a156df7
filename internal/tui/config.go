package tui

import (
	"context"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/tui/themes"
)

// TurnRunner processes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, emit agent.EmitFunc) ([]model.Event, error)
}

// Config holds TUI configuration.
type Config struct {
	Theme     themes.Theme
	Runner    TurnRunner
	Scope     model.Scope
	AppName   string
	History   []model.Event
	Width     int
	Height    int
	ShowTools bool
}

// Option is a functional option for configuring the TUI.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Theme:   themes.Default,
		AppName: "dompet",
		Width:   80,
		Height:  24,
	}
}

// WithRunner sets the turn runner.
func WithRunner(runner TurnRunner) Option {
	return func(c *Config) {
		c.Runner = runner
	}
}

// WithScope sets the tenant and session the chat talks in.
func WithScope(scope model.Scope) Option {
	return func(c *Config) {
		c.Scope = scope
	}
}

// WithHistory preloads a stored transcript.
func WithHistory(events []model.Event) Option {
	return func(c *Config) {
		c.History = events
	}
}

// WithTheme sets the visual theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) {
		c.Theme = theme
	}
}

// WithSize sets the initial terminal size.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithShowTools starts the UI with tool traffic visible.
func WithShowTools(show bool) Option {
	return func(c *Config) {
		c.ShowTools = show
	}
}

// WithAppName sets the name shown in the title bar and next to replies.
func WithAppName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.AppName = name
		}
	}
}
