package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	partialStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Padding(0, 1)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// ctrlError surfaces a failed control send in the transcript.
type ctrlError struct{ err error }

type model struct {
	client *client
	mic    *capture
	addr   string

	vp    viewport.Model
	input textinput.Model
	ready bool

	lines   []string
	partial string

	sessionID    string
	mode         string
	speaking     bool
	recording    bool
	micMuted     bool
	disconnected bool
}

func newModel(c *client, mic *capture, addr string) model {
	ti := textinput.New()
	ti.Placeholder = "type text for the assistant to speak…"
	ti.Prompt = "> "
	ti.Focus()

	return model{
		client: c,
		mic:    mic,
		addr:   addr,
		input:  ti,
		mode:   "assistant",
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Title, status, help, and input each take one line.
		height := msg.Height - 4
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = height
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case serverEvent:
		m.applyEvent(msg)
		return m, nil

	case ctrlError:
		m.appendLine(errorStyle.Render("send failed: " + msg.err.Error()))
		return m, nil

	case connClosed:
		m.disconnected = true
		m.appendLine(errorStyle.Render("disconnected: " + msg.err.Error()))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.send(func() error { return m.client.speak(text) })

	case "ctrl+x":
		return m, m.send(m.client.interrupt)

	case "ctrl+o":
		return m, m.send(m.client.stopSpeaking)

	case "ctrl+t":
		next := "transcription"
		if m.mode == "transcription" {
			next = "assistant"
		}
		return m, m.send(func() error { return m.client.setMode(next) })

	case "ctrl+l":
		return m, m.send(m.client.clearHistory)

	case "ctrl+b":
		if m.mic != nil {
			m.micMuted = m.mic.toggleMute()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send wraps a control call in a tea command so failures land in the
// transcript instead of being dropped.
func (m model) send(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return ctrlError{err: err}
		}
		return nil
	}
}

func (m *model) applyEvent(ev serverEvent) {
	switch ev.Type {
	case "connected":
		m.sessionID = ev.SessionID
		if ev.Mode != "" {
			m.mode = ev.Mode
		}
		m.appendLine(systemStyle.Render(fmt.Sprintf("connected · session %s · features: %s",
			ev.SessionID, strings.Join(ev.Features, ", "))))

	case "partial_transcript":
		m.partial = ev.Text
		m.refresh()

	case "stabilized_transcript":
		m.partial = ev.Text
		m.refresh()

	case "user_message":
		m.partial = ""
		m.appendLine(userStyle.Render("you: ") + ev.Text)

	case "assistant_message":
		m.appendLine(assistantStyle.Render("assistant: ") + ev.Text)

	case "assistant_speaking_start":
		m.speaking = true
		m.refresh()

	case "assistant_speaking_stop", "audio_end":
		m.speaking = false
		m.refresh()

	case "speech_interrupted":
		m.speaking = false
		m.appendLine(systemStyle.Render("(interrupted: " + ev.Reason + ")"))

	case "mode_change":
		m.mode = ev.Mode
		m.appendLine(systemStyle.Render("mode: " + ev.Mode))

	case "recording_start":
		m.recording = true
		m.refresh()

	case "recording_stop":
		m.recording = false
		m.refresh()

	case "error":
		m.appendLine(errorStyle.Render("server error: " + ev.Message))
	}
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.partial != "" {
		content += "\n" + partialStyle.Render("… "+m.partial)
	}
	m.vp.SetContent(content)
	m.vp.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "loading…"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("rtclient · " + m.addr))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.statusLine()))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render("enter speak · ^X interrupt · ^O stop · ^T mode · ^L clear · ^B mic · ^C quit"))
	return b.String()
}

func (m model) statusLine() string {
	parts := []string{"mode: " + m.mode}
	switch {
	case m.disconnected:
		parts = append(parts, "offline")
	case m.speaking:
		parts = append(parts, "speaking")
	case m.recording:
		parts = append(parts, "listening")
	default:
		parts = append(parts, "idle")
	}
	if m.mic == nil {
		parts = append(parts, "mic: off")
	} else if m.micMuted {
		parts = append(parts, "mic: muted")
	} else {
		parts = append(parts, "mic: live")
	}
	return strings.Join(parts, " · ")
}
