// Package console is an interactive terminal view of the node's serial
// log with a line editor for sending directives.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wrap"

	"github.com/moonblokz/moonprobe/internal/command"
	"github.com/moonblokz/moonprobe/internal/serialport"
	"github.com/moonblokz/moonprobe/internal/ui"
)

// MaxLines bounds the scrollback.
const MaxLines = 2000

const sendTimeout = 2 * time.Second

// Sender writes a line to the node.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SerialMsg carries one message from the serial manager.
type SerialMsg serialport.Message

// StreamClosedMsg is sent when the serial message stream ends.
type StreamClosedMsg struct{}

// SentMsg reports the outcome of a send.
type SentMsg struct {
	Text string
	Err  error
}

// Model is the console's bubbletea model.
type Model struct {
	messages <-chan serialport.Message
	sender   Sender

	viewport  viewport.Model
	input     textinput.Model
	lines     []string
	connected bool
	device    string
	follow    bool
	status    string

	width, height int
}

// New returns a Model reading from messages and sending through sender.
func New(messages <-chan serialport.Message, sender Sender) Model {
	ti := textinput.New()
	ti.Placeholder = "directive, e.g. /LI"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Focus()

	return Model{
		messages: messages,
		sender:   sender,
		viewport: viewport.New(0, 0),
		input:    ti,
		follow:   true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForMessage(m.messages))
}

func waitForMessage(ch <-chan serialport.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return SerialMsg(msg)
	}
}

func (m Model) send(text string) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return SentMsg{Text: text, Err: sender.Send(ctx, text)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case SerialMsg:
		switch msg.Kind {
		case serialport.Connected:
			m.connected = true
			m.device = msg.Text
			m.status = "connected"
		case serialport.Disconnected:
			m.connected = false
			m.status = "disconnected, reconnecting"
		case serialport.LineReceived:
			m.appendLine(msg.Text)
		}
		return m, waitForMessage(m.messages)

	case StreamClosedMsg:
		m.connected = false
		m.status = "serial manager stopped"
		return m, nil

	case SentMsg:
		if msg.Err != nil {
			m.status = fmt.Sprintf("send %q failed: %v", msg.Text, msg.Err)
		} else {
			m.status = fmt.Sprintf("sent %q", msg.Text)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, Keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.send(text)

	case key.Matches(msg, Keys.Trace):
		return m, m.sendLevel("TRACE")
	case key.Matches(msg, Keys.Debug):
		return m, m.sendLevel("DEBUG")
	case key.Matches(msg, Keys.Info):
		return m, m.sendLevel("INFO")
	case key.Matches(msg, Keys.Warn):
		return m, m.sendLevel("WARN")
	case key.Matches(msg, Keys.Error):
		return m, m.sendLevel("ERROR")

	case key.Matches(msg, Keys.Bootloader):
		return m, m.send(command.DirectiveBootloader)

	case key.Matches(msg, Keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil

	case key.Matches(msg, Keys.Clear):
		m.lines = nil
		m.refresh()
		return m, nil
	}

	switch msg.String() {
	case "pgup", "pgdown", "up", "down":
		m.follow = false
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.AtBottom() {
			m.follow = true
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) sendLevel(level string) tea.Cmd {
	directive, _ := command.LevelDirective(level)
	return m.send(directive)
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - MaxLines; over > 0 {
		m.lines = append(m.lines[:0:0], m.lines[over:]...)
	}
	m.refresh()
}

func (m *Model) refresh() {
	styled := make([]string, len(m.lines))
	for i, l := range m.lines {
		if m.viewport.Width > 0 {
			l = wrap.String(l, m.viewport.Width)
		}
		styled[i] = ui.LogLine(l)
	}
	m.viewport.SetContent(strings.Join(styled, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// header + panel border top/bottom + input + status bar
const chromeHeight = 1 + 2 + 1 + 1

func (m *Model) resize() {
	w := m.width - 4
	if w < 10 {
		w = 10
	}
	h := m.height - chromeHeight
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = m.width - 4
	m.refresh()
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := ui.Header(ui.Title("moonprobe console")+"  "+ui.ConnectionBadge(m.connected, m.device), m.width)

	body := m.viewport.View()
	if len(m.lines) == 0 {
		body = ui.DimStyle.Render("Waiting for node output...")
	}
	title := "Log"
	if !m.follow {
		title = "Log (paused)"
	}
	panel := ui.Panel(title, body, m.width, m.viewport.Height+2, true)

	return lipgloss.JoinVertical(lipgloss.Left, header, panel, m.input.View(), m.statusBar())
}

func (m Model) statusBar() string {
	var parts []string
	if m.status != "" {
		parts = append(parts, ui.AccentStyle.Render(m.status))
	}
	for _, kb := range Keys.ShortHelp() {
		parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
	}
	return ui.StatusBarStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

// Lines returns the scrollback.
func (m Model) Lines() []string { return m.lines }

// Connected reports the last known link state.
func (m Model) Connected() bool { return m.connected }

// Status returns the last status message.
func (m Model) Status() string { return m.status }
