package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/device"
)

const (
	actionTimeout = 10 * time.Second
	spinInterval  = 100 * time.Millisecond
	idleInterval  = time.Second
)

// Link is the connection the view controls.
type Link interface {
	Identity() descriptor.Identity
	State() comm.State
	Session() string
	TryRestart(ctx context.Context) error
	Terminate(ctx context.Context) error
}

// DeviceLister reports the devices currently present.
type DeviceLister interface {
	Dir() string
	Devices() []device.Entry
}

// Model is the main bubbletea model
type Model struct {
	// Dimensions
	width  int
	height int

	// State
	activePanel Panel
	showHelp    bool
	showDialog  bool
	pending     bool

	// Panels
	devicesPanel *DevicesPanel
	linkPanel    *LinkPanel
	logPanel     *LogPanel

	// Overlays
	helpOverlay   *HelpOverlay
	confirmDialog *ConfirmDialog

	link    Link
	devices DeviceLister
	updates <-chan Update

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewModel creates a view over link, listing devices and consuming updates.
func NewModel(link Link, devices DeviceLister, updates <-chan Update) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	id := link.Identity()
	return &Model{
		activePanel:  PanelLink,
		devicesPanel: NewDevicesPanel(id, devices.Dir()),
		linkPanel:    NewLinkPanel(id),
		logPanel:     NewLogPanel(),
		helpOverlay:  NewHelpOverlay(),
		link:         link,
		devices:      devices,
		updates:      updates,
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// updateMsg wraps an update read from the feed
type updateMsg struct {
	update Update
}

// actionDoneMsg reports the end of a user-requested operation
type actionDoneMsg struct {
	action Action
	err    error
}

// tickMsg for spinner animation
type tickMsg struct{}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	id := m.link.Identity()
	m.logPanel.Add(LogInfo, "Watching "+id.String()+" in "+m.devices.Dir())

	m.refreshDevices()
	for _, e := range m.devicesPanel.Entries() {
		if e.Identity == id {
			m.linkPanel.SetPath(e.Path)
			break
		}
	}
	m.linkPanel.SetState(m.link.State(), m.link.Session(), m.now())
	m.logPanel.Add(LogInfo, fmt.Sprintf("Found %d device(s)", len(m.devicesPanel.Entries())))

	return tea.Batch(m.listenForNextUpdate(), m.tick())
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updatePanelSizes()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case updateMsg:
		m.apply(msg.update)
		// Continue listening for updates
		return m, m.listenForNextUpdate()

	case actionDoneMsg:
		m.pending = false
		switch {
		case msg.err == nil:
			m.logPanel.Add(LogSuccess, capitalize(msg.action.String())+" done")
		case errors.Is(msg.err, context.Canceled):
		default:
			m.logPanel.Add(LogError, msg.action.String()+" failed: "+msg.err.Error())
		}
		return m, nil

	case tickMsg:
		return m, m.tick()
	}

	return m, nil
}

func (m *Model) apply(u Update) {
	switch u := u.(type) {
	case StateUpdate:
		m.linkPanel.SetState(u.State, u.Session, m.now())
		switch u.State {
		case comm.Up:
			m.logPanel.Add(LogSuccess, "Link up, session "+shortSession(u.Session))
		case comm.Down:
			m.logPanel.Add(LogWarning, "Link down")
		}

	case DeviceUpdate:
		m.refreshDevices()
		ev := u.Event
		tracked := ev.Identity == m.link.Identity()
		switch ev.Kind {
		case device.Arrival:
			if tracked {
				m.linkPanel.SetPath(ev.Path)
				m.logPanel.Add(LogSuccess, "Device "+ev.Identity.String()+" arrived")
			} else {
				m.logPanel.Add(LogInfo, "Other device "+ev.Identity.String()+" arrived")
			}
		case device.Removal:
			if tracked {
				m.linkPanel.SetPath("")
				m.logPanel.Add(LogWarning, "Device "+ev.Identity.String()+" removed")
			} else {
				m.logPanel.Add(LogInfo, "Other device "+ev.Identity.String()+" removed")
			}
		}

	case MessageUpdate:
		m.linkPanel.Received(u.Message)
		m.logPanel.Add(LogInfo, fmt.Sprintf("Received #%d (%d bytes)", u.Message.ID, u.Message.Len()))

	case ErrorUpdate:
		m.logPanel.Add(LogError, u.Err.Error())
	}
}

// listenForNextUpdate waits for the next update on the feed
func (m *Model) listenForNextUpdate() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		if updates == nil {
			return nil
		}
		u, ok := <-updates
		if !ok {
			return nil
		}
		return updateMsg{update: u}
	}
}

func (m *Model) tick() tea.Cmd {
	interval := idleInterval
	if !m.linkPanel.State().Stable() {
		interval = spinInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *Model) refreshDevices() {
	m.devicesPanel.SetEntries(m.devices.Devices())
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Global keys
	switch msg.String() {
	case "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "q":
		if !m.showDialog {
			m.cancel()
			return m, tea.Quit
		}
	case "?":
		if !m.showDialog {
			m.showHelp = !m.showHelp
		}
		return m, nil
	case "esc":
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		if m.showDialog {
			m.showDialog = false
			m.confirmDialog = nil
			return m, nil
		}
	}

	// Dialog keys
	if m.showDialog && m.confirmDialog != nil {
		switch msg.String() {
		case "left", "h":
			m.confirmDialog.MoveLeft()
		case "right", "l":
			m.confirmDialog.MoveRight()
		case "enter":
			action := m.confirmDialog.Action()
			confirmed := m.confirmDialog.Selected() == DialogConfirm
			m.showDialog = false
			m.confirmDialog = nil
			if confirmed {
				return m, m.run(action)
			}
		}
		return m, nil
	}

	// Help overlay blocks other keys
	if m.showHelp {
		return m, nil
	}

	switch msg.String() {
	// Navigation
	case "up", "k":
		if m.activePanel == PanelDevices {
			m.devicesPanel.MoveUp()
		}
	case "down", "j":
		if m.activePanel == PanelDevices {
			m.devicesPanel.MoveDown()
		}
	case "tab":
		m.activePanel = (m.activePanel + 1) % panelCount
	case "1":
		m.activePanel = PanelDevices
	case "2":
		m.activePanel = PanelLink
	case "3":
		m.activePanel = PanelLog

	// Actions
	case "r":
		m.openDialog(RestartDialog(m.link.Identity().String()))
	case "t":
		if m.link.State() == comm.Down {
			m.logPanel.Add(LogInfo, "Link already down")
			return m, nil
		}
		m.openDialog(TerminateDialog(m.link.Identity().String()))
	case "c":
		m.logPanel.Clear()
	}

	return m, nil
}

func (m *Model) openDialog(d *ConfirmDialog) {
	if m.pending {
		m.logPanel.Add(LogWarning, "Previous action still running")
		return
	}
	d.SetSize(m.width, m.height)
	m.confirmDialog = d
	m.showDialog = true
}

// run performs action off the update loop. The link serializes it with
// any reconnect in progress.
func (m *Model) run(action Action) tea.Cmd {
	m.pending = true
	m.logPanel.Add(LogInfo, capitalize(action.String())+" requested")

	ctx, link := m.ctx, m.link
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		var err error
		switch action {
		case ActionRestart:
			err = link.TryRestart(ctx)
		case ActionTerminate:
			err = link.Terminate(ctx)
		}
		return actionDoneMsg{action: action, err: err}
	}
}

func (m *Model) updatePanelSizes() {
	contentHeight := m.height - 4

	leftWidth := m.width * 30 / 100
	centerWidth := m.width * 40 / 100
	rightWidth := m.width - leftWidth - centerWidth - 6

	m.devicesPanel.SetSize(leftWidth, contentHeight)
	m.linkPanel.SetSize(centerWidth, contentHeight)
	m.logPanel.SetSize(rightWidth, contentHeight)
	m.helpOverlay.SetSize(m.width, m.height)
	if m.confirmDialog != nil {
		m.confirmDialog.SetSize(m.width, m.height)
	}
}

// View renders the UI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	// Overlays
	if m.showHelp {
		return m.helpOverlay.View()
	}
	if m.showDialog && m.confirmDialog != nil {
		return m.confirmDialog.View()
	}

	var s strings.Builder

	s.WriteString(m.renderHeader())
	s.WriteString("\n")
	s.WriteString(m.renderPanels())
	s.WriteString("\n")
	s.WriteString(m.renderFooter())

	return s.String()
}

func (m *Model) renderHeader() string {
	id := m.link.Identity().String()
	title := TitleStyle.Render("DEVLINK " + id)

	state := m.linkPanel.State()
	status := StateStyle(state).Render(StateIcon(state)) + " " + state.String()

	version := DimStyle.Render("devlink")

	leftPart := title
	rightPart := status + "   " + version
	spacing := m.width - lipgloss.Width(leftPart) - lipgloss.Width(rightPart) - 2
	if spacing < 1 {
		spacing = 1
	}

	headerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(m.width - 2)

	content := leftPart + strings.Repeat(" ", spacing) + rightPart
	return headerStyle.Render(content)
}

func (m *Model) renderPanels() string {
	leftWidth := m.width * 30 / 100
	centerWidth := m.width * 40 / 100
	rightWidth := m.width - leftWidth - centerWidth - 6

	contentHeight := m.height - 6

	render := func(p Panel, width int, content string) string {
		style := PanelStyle.Width(width).Height(contentHeight)
		if m.activePanel == p {
			style = ActivePanelStyle.Width(width).Height(contentHeight)
		}
		return style.Render(AccentStyle.Render(" "+p.String()+" ") + "\n\n" + content)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		render(PanelDevices, leftWidth, m.devicesPanel.View()),
		render(PanelLink, centerWidth, m.linkPanel.View(m.now())),
		render(PanelLog, rightWidth, m.logPanel.View()),
	)
}

func (m *Model) renderFooter() string {
	hints := []string{"j/k Navigate", "r Restart"}
	if m.linkPanel.State() != comm.Down {
		hints = append(hints, "t Terminate")
	}
	if m.pending {
		hints = []string{"Working..."}
	}
	hints = append(hints, "q Quit")

	left := DimStyle.Render(strings.Join(hints, "   "))
	right := DimStyle.Render("? Help")

	spacing := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if spacing < 1 {
		spacing = 1
	}

	return " " + left + strings.Repeat(" ", spacing) + right
}

func shortSession(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
