package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/tui/themes"
)

// chromeHeight is the number of rows outside the transcript viewport:
// title, status line, bordered input (3) and help.
const chromeHeight = 6

// Model holds the chat UI state.
type Model struct {
	ctx       context.Context
	lastError error
	stream    <-chan tea.Msg
	config    Config
	theme     themes.Theme
	keymap    KeyMap
	help      help.Model
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	events    []model.Event
	width     int
	height    int
	busy      bool
	showTools bool
	quitting  bool
}

func newModel(ctx context.Context, cfg Config) Model {
	input := textinput.New()
	input.Placeholder = "Catat pengeluaran, tanya saldo, atau ubah transaksi..."
	input.Prompt = "› "
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cfg.Theme.Spinner

	m := Model{
		ctx:       ctx,
		config:    cfg,
		theme:     cfg.Theme,
		keymap:    DefaultKeyMap(),
		help:      help.New(),
		input:     input,
		viewport:  viewport.New(cfg.Width, max(cfg.Height-chromeHeight, 1)),
		spinner:   sp,
		events:    append([]model.Event(nil), cfg.History...),
		width:     cfg.Width,
		height:    cfg.Height,
		showTools: cfg.ShowTools,
	}
	m.resize()
	m.refresh()
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.events = append(m.events, msg.event)
		m.refresh()
		return m, waitFor(m.stream)

	case turnDoneMsg:
		m.busy = false
		m.stream = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.lastError = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.busy {
			return m, nil
		}
		m.input.Reset()
		m.lastError = nil
		m.busy = true
		m.stream = startTurn(m.ctx, m.config.Runner, agent.Turn{Message: text, Scope: m.config.Scope})
		return m, tea.Batch(waitFor(m.stream), m.spinner.Tick)

	case key.Matches(msg, m.keymap.ToggleTools):
		m.showTools = !m.showTools
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keymap.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keymap.ScrollUp), key.Matches(msg, m.keymap.ScrollDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize() {
	chrome := chromeHeight
	if m.help.ShowAll {
		chrome++
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 1)
	m.input.Width = max(m.width-8, 10)
	m.help.Width = m.width
}

// refresh re-renders the transcript and keeps the newest line visible.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// statusText is the status line without styling.
func (m Model) statusText() string {
	switch {
	case m.busy:
		return "thinking..."
	case m.lastError != nil:
		return common.UserMessage(m.lastError)
	default:
		return "tenant " + formatInt(m.config.Scope.TenantID) + " · session " + m.config.Scope.SessionID
	}
}
