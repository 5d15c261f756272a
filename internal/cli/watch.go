package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tasksync/backend"
	"tasksync/internal/livesync"
)

type eventMsg livesync.Event

type feedClosedMsg struct{}

type sentMsg struct {
	msg backend.Message
	err error
}

// SendFunc posts content to the watched session
type SendFunc func(content string) (backend.Message, error)

// WatchModel is the bubbletea model of tasksync watch. It renders the active
// session's messages as they arrive and sends typed lines to it.
type WatchModel struct {
	events   <-chan livesync.Event
	send     SendFunc
	deviceID string

	input     textinput.Model
	session   string
	messages  []backend.Message
	conflicts []livesync.Conflict
	sessions  int
	status    string
	width     int
	height    int
	quitting  bool
}

// NewWatchModel creates the model. events is drained until it is closed.
func NewWatchModel(session, deviceID string, events <-chan livesync.Event, send SendFunc) WatchModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.Width = 60

	return WatchModel{
		events:   events,
		send:     send,
		deviceID: deviceID,
		input:    ti,
		session:  session,
		width:    80,
		height:   24,
	}
}

func waitForEvent(events <-chan livesync.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m WatchModel) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		msg, err := m.send(content)
		return sentMsg{msg: msg, err: err}
	}
}

// Init starts reading events
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

// Update handles key presses and live events
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			m.input.Reset()
			m.status = "sending..."
			return m, m.sendCmd(content)
		}

	case eventMsg:
		m.apply(livesync.Event(msg))
		return m, waitForEvent(m.events)

	case feedClosedMsg:
		m.status = "live sync stopped"
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.status = "send failed: " + msg.err.Error()
			return m, nil
		}
		m.status = ""
		m.upsert(msg.msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *WatchModel) apply(ev livesync.Event) {
	switch ev.Kind {
	case livesync.SessionsUpdated:
		if sessions, ok := ev.Data.([]backend.Session); ok {
			m.sessions = len(sessions)
		}
	case livesync.SessionChanged:
		m.session = ev.SessionID
		m.messages = nil
		m.conflicts = nil
	case livesync.MessagesUpdated:
		if ev.SessionID != m.session {
			return
		}
		if msgs, ok := ev.Data.([]backend.Message); ok {
			m.messages = msgs
		}
	case livesync.ConflictDetected:
		if c, ok := ev.Data.(livesync.Conflict); ok && c.SessionID == m.session {
			m.conflicts = append(m.conflicts, c)
		}
	}
}

// upsert shows a sent message before its echo arrives
func (m *WatchModel) upsert(msg backend.Message) {
	if msg.SessionID != m.session {
		return
	}
	for i := range m.messages {
		if m.messages[i].ID == msg.ID {
			m.messages[i] = msg
			return
		}
	}
	m.messages = append(m.messages, msg)
	backend.SortMessages(m.messages)
}

// Messages returns the messages currently shown
func (m WatchModel) Messages() []backend.Message {
	return m.messages
}

// Conflicts returns the conflicts reported for the current session
func (m WatchModel) Conflicts() []livesync.Conflict {
	return m.conflicts
}

// Session returns the watched session
func (m WatchModel) Session() string {
	return m.session
}

// View renders the UI
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		Render("tasksync watch")
	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(fmt.Sprintf("session %s • %d sessions", m.session, m.sessions))
	s.WriteString(title + "  " + info + "\n\n")

	lines := m.renderMessages()
	room := m.height - 7
	if room < 1 {
		room = 1
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	for _, line := range lines {
		s.WriteString(line + "\n")
	}

	s.WriteString("\n" + m.input.View() + "\n")
	if m.status != "" {
		s.WriteString(warnStyle.Render(m.status) + "\n")
	}
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	s.WriteString(help.Render("enter: send • esc: quit"))
	return s.String()
}

func (m WatchModel) renderMessages() []string {
	mine := lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	theirs := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	lines := make([]string, 0, len(m.messages)+len(m.conflicts))
	for _, msg := range m.messages {
		who := theirs.Render(fmt.Sprintf("%s@%s", msg.Role, shortID(msg.DeviceID)))
		if msg.DeviceID == m.deviceID {
			who = mine.Render(msg.Role + "@this device")
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", msg.Timestamp.Local().Format("15:04:05"), who, msg.Content))
	}
	for _, c := range m.conflicts {
		lines = append(lines, Warning("devices %s and %s wrote %v apart", shortID(c.First.DeviceID), shortID(c.Second.DeviceID), c.Gap))
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
