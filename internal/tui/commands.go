package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/model"
)

// streamBuffer bounds how far the runner may run ahead of the UI.
const streamBuffer = 16

// startTurn runs one turn in the background. Every emitted event and the
// final turnDoneMsg arrive on the returned channel, which is then closed.
func startTurn(ctx context.Context, runner TurnRunner, turn agent.Turn) <-chan tea.Msg {
	ch := make(chan tea.Msg, streamBuffer)
	go func() {
		defer close(ch)
		_, err := runner.Run(ctx, turn, func(ev model.Event) {
			select {
			case ch <- eventMsg{event: ev}:
			case <-ctx.Done():
			}
		})
		select {
		case ch <- turnDoneMsg{err: err}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// waitFor delivers the next message of a running turn.
func waitFor(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return turnDoneMsg{}
		}
		return msg
	}
}
