package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/dompet/internal/model"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	title := m.theme.Title.Render(m.config.AppName)

	status := m.theme.Status.Render(m.statusText())
	if m.busy {
		status = m.spinner.View() + " " + status
	} else if m.lastError != nil {
		status = m.theme.StatusError.Render(m.statusText())
	}

	input := m.theme.InputBox.Width(max(m.width-2, 10)).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.viewport.View(),
		status,
		input,
		m.help.View(m.keymap),
	)
}

// renderTranscript renders every visible event, wrapped to the viewport width.
func (m Model) renderTranscript() string {
	if len(m.events) == 0 {
		return m.theme.Status.Render("Belum ada percakapan. Ketik pesan di bawah untuk mulai.")
	}

	width := max(m.width-2, 20)
	lines := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		if s := m.renderEvent(ev, width); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n\n")
}

func (m Model) renderEvent(ev model.Event, width int) string {
	wrap := lipgloss.NewStyle().Width(width)

	switch ev.Kind {
	case model.EventMessage:
		if ev.Author == model.AuthorUser {
			return wrap.Render(m.theme.UserLabel.Render("Kamu") + "  " + m.theme.UserMessage.Render(ev.Content))
		}
		return wrap.Render(m.theme.AssistantLabel.Render(m.config.AppName) + "  " + m.theme.AssistantMessage.Render(ev.Content))

	case model.EventError:
		return wrap.Render(m.theme.ErrorMessage.Render("! " + ev.Content))

	case model.EventToolCall:
		if !m.showTools {
			return ""
		}
		names := make([]string, 0, len(ev.ToolCalls))
		for _, call := range ev.ToolCalls {
			names = append(names, call.Name+" "+string(call.Arguments))
		}
		return wrap.Render(m.theme.ToolLine.Render("→ " + strings.Join(names, "\n→ ")))

	case model.EventToolResult:
		if !m.showTools {
			return ""
		}
		return wrap.Render(m.theme.ToolLine.Render("← " + ev.ToolName + " " + ev.Content))
	}
	return ""
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
