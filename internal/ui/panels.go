package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/device"
)

// Panel identifiers
type Panel int

const (
	PanelDevices Panel = iota
	PanelLink
	PanelLog
)

const panelCount = 3

func (p Panel) String() string {
	switch p {
	case PanelDevices:
		return "Devices"
	case PanelLink:
		return "Link"
	case PanelLog:
		return "Log"
	default:
		return "Unknown"
	}
}

// LogEntry represents a log message
type LogEntry struct {
	Time    time.Time
	Message string
	Level   LogLevel
}

// LogLevel for log entries
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogSuccess
	LogWarning
	LogError
)

// DevicesPanel lists the device nodes currently present in the watched
// directory. Entries matching the tracked identity are highlighted.
type DevicesPanel struct {
	tracked  descriptor.Identity
	dir      string
	entries  []device.Entry
	selected int
	width    int
	height   int
}

// NewDevicesPanel creates a devices panel for the given identity.
func NewDevicesPanel(tracked descriptor.Identity, dir string) *DevicesPanel {
	return &DevicesPanel{tracked: tracked, dir: dir}
}

// SetEntries replaces the listed devices.
func (p *DevicesPanel) SetEntries(entries []device.Entry) {
	p.entries = entries
	if p.selected >= len(entries) {
		p.selected = len(entries) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
}

// Entries returns the listed devices.
func (p *DevicesPanel) Entries() []device.Entry {
	return p.entries
}

// Selected returns the selected entry, or nil when the list is empty.
func (p *DevicesPanel) Selected() *device.Entry {
	if len(p.entries) == 0 {
		return nil
	}
	return &p.entries[p.selected]
}

// MoveUp moves selection up
func (p *DevicesPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

// MoveDown moves selection down
func (p *DevicesPanel) MoveDown() {
	if p.selected < len(p.entries)-1 {
		p.selected++
	}
}

// SetSize sets the panel dimensions
func (p *DevicesPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders the device list
func (p *DevicesPanel) View() string {
	if len(p.entries) == 0 {
		return DimStyle.Render("  No devices in " + p.dir)
	}

	var lines []string
	for i, e := range p.entries {
		prefix := "  "
		if i == p.selected {
			prefix = "> "
		}

		id := e.Identity.String()
		if e.Identity == p.tracked {
			id = TrackedStyle.Render(id)
		}

		line := prefix + id
		if i == p.selected {
			line = SelectedStyle.Render(prefix + e.Identity.String())
		}
		lines = append(lines, line)

		if i == p.selected {
			rel, err := filepath.Rel(p.dir, e.Path)
			if err != nil {
				rel = e.Path
			}
			lines = append(lines, DimStyle.Render(fmt.Sprintf("  %s %s", TreeLast, rel)))
		}
	}

	return strings.Join(lines, "\n")
}

// LinkPanel renders the state of the connection to the tracked device.
type LinkPanel struct {
	identity descriptor.Identity
	state    comm.State
	session  string
	path     string
	since    time.Time
	received int
	restarts int
	last     *comm.Message
	width    int
	height   int
}

// NewLinkPanel creates a link panel for the given identity.
func NewLinkPanel(id descriptor.Identity) *LinkPanel {
	return &LinkPanel{identity: id, state: comm.Down}
}

// SetSize sets the panel dimensions
func (p *LinkPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetState records a state transition. Reaching Up through Restarting
// counts as a reconnect.
func (p *LinkPanel) SetState(s comm.State, session string, now time.Time) {
	if s == comm.Up && p.state == comm.Restarting {
		p.restarts++
	}
	if s != p.state {
		p.since = now
	}
	p.state = s
	p.session = session
}

// SetPath records where the tracked device was last seen.
func (p *LinkPanel) SetPath(path string) {
	p.path = path
}

// Received records a message from the device.
func (p *LinkPanel) Received(msg comm.Message) {
	p.received++
	p.last = &msg
}

// State returns the last recorded state.
func (p *LinkPanel) State() comm.State {
	return p.state
}

// View renders the link panel content
func (p *LinkPanel) View(now time.Time) string {
	var lines []string

	lines = append(lines, "")
	lines = append(lines, centerText(StateBadge(p.state, now), p.width))
	lines = append(lines, "")

	lines = append(lines, field("Device", p.identity.String()))
	path := p.path
	if path == "" {
		path = DimStyle.Render("not present")
	}
	lines = append(lines, field("Node", path))
	session := p.session
	if session == "" {
		session = DimStyle.Render("none")
	}
	lines = append(lines, field("Session", session))
	if !p.since.IsZero() {
		lines = append(lines, field("Since", now.Sub(p.since).Round(time.Second).String()))
	}
	lines = append(lines, "")
	lines = append(lines, field("Received", fmt.Sprintf("%d", p.received)))
	lines = append(lines, field("Reconnects", fmt.Sprintf("%d", p.restarts)))

	if p.last != nil {
		lines = append(lines, "")
		lines = append(lines, DimStyle.Render("Last message"))
		lines = append(lines, fmt.Sprintf("  #%d  % x", p.last.ID, p.last.Payload()))
	}

	return strings.Join(lines, "\n")
}

func field(name, value string) string {
	return FieldLabelStyle.Render(name) + value
}

// LogPanel renders the log output
type LogPanel struct {
	entries []LogEntry
	width   int
	height  int
}

// NewLogPanel creates a new log panel
func NewLogPanel() *LogPanel {
	return &LogPanel{}
}

// Add adds a log entry
func (p *LogPanel) Add(level LogLevel, msg string) {
	p.entries = append(p.entries, LogEntry{
		Time:    time.Now(),
		Message: msg,
		Level:   level,
	})
	// Keep last N entries
	maxEntries := 50
	if len(p.entries) > maxEntries {
		p.entries = p.entries[len(p.entries)-maxEntries:]
	}
}

// Entries returns the retained entries, oldest first.
func (p *LogPanel) Entries() []LogEntry {
	return p.entries
}

// Clear clears all entries
func (p *LogPanel) Clear() {
	p.entries = nil
}

// SetSize sets the panel dimensions
func (p *LogPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders the log panel content
func (p *LogPanel) View() string {
	if len(p.entries) == 0 {
		return DimStyle.Render("  No log entries")
	}

	maxVisible := p.height - 2
	if maxVisible < 1 {
		maxVisible = 10
	}

	start := 0
	if len(p.entries) > maxVisible {
		start = len(p.entries) - maxVisible
	}

	var lines []string
	for _, entry := range p.entries[start:] {
		timestamp := DimStyle.Render(entry.Time.Format("15:04:05"))

		var msgStyle lipgloss.Style
		switch entry.Level {
		case LogSuccess:
			msgStyle = SuccessStyle
		case LogWarning:
			msgStyle = WarningStyle
		case LogError:
			msgStyle = ErrorStyle
		default:
			msgStyle = lipgloss.NewStyle().Foreground(ColorFg)
		}

		msg := entry.Message
		maxMsgLen := p.width - 12
		if maxMsgLen > 3 && len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen-3] + "..."
		}

		lines = append(lines, timestamp+"  "+msgStyle.Render(msg))
	}

	return strings.Join(lines, "\n")
}

func centerText(text string, width int) string {
	textLen := lipgloss.Width(text)
	if textLen >= width {
		return text
	}
	padding := (width - textLen) / 2
	return strings.Repeat(" ", padding) + text
}
