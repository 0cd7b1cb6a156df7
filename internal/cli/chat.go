package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// TurnRunner processes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, emit agent.EmitFunc) ([]model.Event, error)
}

// Chat is a line-mode conversation for terminals without a TUI.
type Chat struct {
	runner TurnRunner
	in     *NonBlockingReader
	out    io.Writer
	scope  model.Scope

	// ShowTools prints tool calls and results as they happen.
	ShowTools bool
}

// NewChat creates a chat reading from in and writing to out.
func NewChat(runner TurnRunner, scope model.Scope, in io.Reader, out io.Writer) *Chat {
	return &Chat{
		runner: runner,
		scope:  scope,
		in:     NewNonBlockingReader(in),
		out:    out,
	}
}

// Run reads lines until EOF, "exit" or cancellation, sending each to the runner.
func (c *Chat) Run(ctx context.Context) error {
	for {
		if _, err := fmt.Fprint(c.out, FormatPrompt("you")); err != nil {
			return err
		}

		line, err := c.in.ReadLine(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, ErrInputCancelled):
			fmt.Fprintln(c.out)
			return nil
		case err != nil:
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "/q":
			return nil
		}

		_, err = c.runner.Run(ctx, agent.Turn{Message: line, Scope: c.scope}, func(ev model.Event) {
			if s := RenderEvent(ev, c.ShowTools); s != "" {
				fmt.Fprintln(c.out, s)
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(c.out, FormatError(common.UserMessage(err)))
		}
	}
}

// RenderEvent formats one transcript event for the terminal.
// User events and, unless showTools is set, tool traffic render as "".
func RenderEvent(ev model.Event, showTools bool) string {
	switch ev.Kind {
	case model.EventMessage:
		if ev.Author != model.AuthorAssistant {
			return ""
		}
		return RobotIcon + " " + AssistantStyle.Render(ev.Content)
	case model.EventError:
		return FormatError(ev.Content)
	case model.EventToolCall:
		if !showTools {
			return ""
		}
		names := make([]string, 0, len(ev.ToolCalls))
		for _, call := range ev.ToolCalls {
			names = append(names, call.Name)
		}
		return SubtleStyle.Render(ToolIcon + " " + strings.Join(names, ", "))
	case model.EventToolResult:
		if !showTools {
			return ""
		}
		return SubtleStyle.Render("   " + ev.ToolName + " → " + ev.Content)
	}
	return ""
}
