package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// DialogOption represents a dialog button
type DialogOption int

const (
	DialogConfirm DialogOption = iota
	DialogCancel
)

// Action is a link operation a dialog asks to confirm.
type Action int

const (
	ActionRestart Action = iota
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// ConfirmDialog renders a confirmation dialog
type ConfirmDialog struct {
	action   Action
	title    string
	message  []string
	selected DialogOption
	width    int
	height   int
}

// NewConfirmDialog creates a new confirmation dialog
func NewConfirmDialog(action Action, title string, message []string) *ConfirmDialog {
	return &ConfirmDialog{
		action:   action,
		title:    title,
		message:  message,
		selected: DialogCancel, // Default to cancel for safety
	}
}

// SetSize sets dialog dimensions
func (d *ConfirmDialog) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// MoveLeft moves selection left (to confirm)
func (d *ConfirmDialog) MoveLeft() {
	d.selected = DialogConfirm
}

// MoveRight moves selection right (to cancel)
func (d *ConfirmDialog) MoveRight() {
	d.selected = DialogCancel
}

// Selected returns the selected option
func (d *ConfirmDialog) Selected() DialogOption {
	return d.selected
}

// Action returns the operation the dialog confirms.
func (d *ConfirmDialog) Action() Action {
	return d.action
}

// View renders the dialog
func (d *ConfirmDialog) View() string {
	var lines []string

	title := WarningStyle.Render("⚠  " + d.title)
	lines = append(lines, title)
	lines = append(lines, "")

	for _, msg := range d.message {
		lines = append(lines, msg)
	}
	lines = append(lines, "")

	confirmStyle := lipgloss.NewStyle().Padding(0, 2)
	cancelStyle := lipgloss.NewStyle().Padding(0, 2)

	if d.selected == DialogConfirm {
		confirmStyle = confirmStyle.Background(ColorPurple).Foreground(lipgloss.Color("0"))
	}
	if d.selected == DialogCancel {
		cancelStyle = cancelStyle.Background(ColorPurple).Foreground(lipgloss.Color("0"))
	}

	buttons := lipgloss.JoinHorizontal(lipgloss.Center,
		confirmStyle.Render("Yes, proceed"),
		"  ",
		cancelStyle.Render("Cancel"),
	)
	lines = append(lines, buttons)

	content := strings.Join(lines, "\n")

	boxWidth := 40
	if boxWidth > d.width-10 {
		boxWidth = d.width - 10
	}

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorYellow).
		Padding(1, 2).
		Width(boxWidth)

	return overlay(boxStyle.Render(content), boxWidth, d.width, d.height)
}

// RestartDialog asks before tearing down a live link to reconnect.
func RestartDialog(id string) *ConfirmDialog {
	return NewConfirmDialog(ActionRestart, "RESTART LINK", []string{
		"This will:",
		"  Close the connection to " + id,
		"  Reopen it with a new session",
		"",
		"Messages in flight are lost.",
	})
}

// TerminateDialog asks before dropping the link.
func TerminateDialog(id string) *ConfirmDialog {
	return NewConfirmDialog(ActionTerminate, "TERMINATE LINK", []string{
		"Close the connection to " + id + "?",
		"",
		"It comes back on the next",
		"arrival of the device.",
	})
}

// overlay centers a rendered box of the given width on a width x height
// screen.
func overlay(box string, boxWidth, width, height int) string {
	boxHeight := lipgloss.Height(box)
	topPadding := (height - boxHeight) / 2
	if topPadding < 0 {
		topPadding = 0
	}

	leftPadding := (width - boxWidth - 4) / 2
	if leftPadding < 0 {
		leftPadding = 0
	}

	var result []string
	for i := 0; i < topPadding; i++ {
		result = append(result, "")
	}

	for _, line := range strings.Split(box, "\n") {
		result = append(result, strings.Repeat(" ", leftPadding)+line)
	}

	return strings.Join(result, "\n")
}
