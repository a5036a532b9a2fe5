package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dhavalsavalia/devlink/internal/comm"
)

// ANSI palette so the dashboard follows the terminal's own colorscheme.
var (
	ColorFg        = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
	ColorGreen     = lipgloss.Color("2")
	ColorRed       = lipgloss.Color("1")
	ColorYellow    = lipgloss.Color("3")
	ColorCyan      = lipgloss.Color("6")
	ColorPurple    = lipgloss.Color("5")
	ColorDim       = lipgloss.Color("8")
	ColorBorder    = ColorDim
	ColorBorderAct = ColorPurple
)

// Link state glyphs.
const (
	IconUp         = "●"
	IconDown       = "○"
	IconTransition = "◐"
)

// SpinnerFrames animates the badge of a link that is between states.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// Node path connector drawn under the selected device.
const TreeLast = "└"

var (
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	ActivePanelStyle = PanelStyle.
				BorderForeground(ColorBorderAct)

	TitleStyle    = lipgloss.NewStyle().Foreground(ColorPurple).Bold(true)
	SelectedStyle = lipgloss.NewStyle().Foreground(ColorFg).Background(ColorPurple).Bold(true)
	DimStyle      = lipgloss.NewStyle().Foreground(ColorDim)
	SuccessStyle  = lipgloss.NewStyle().Foreground(ColorGreen)
	ErrorStyle    = lipgloss.NewStyle().Foreground(ColorRed)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorYellow)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorPurple)

	// TrackedStyle marks the device identity the link is bound to.
	TrackedStyle = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)

	// FieldLabelStyle pads link panel labels into one column.
	FieldLabelStyle = DimStyle.Width(11)

	// KeyStyle renders key names in the help overlay.
	KeyStyle = lipgloss.NewStyle().Foreground(ColorCyan).Width(14)
)

// StateStyle returns the color for a link state. Every transitional state
// shares the warning color.
func StateStyle(s comm.State) lipgloss.Style {
	switch s {
	case comm.Up:
		return SuccessStyle
	case comm.Down:
		return DimStyle
	default:
		return WarningStyle
	}
}

// StateIcon returns the static glyph for s.
func StateIcon(s comm.State) string {
	switch s {
	case comm.Up:
		return IconUp
	case comm.Down:
		return IconDown
	default:
		return IconTransition
	}
}

// StateBadge renders s as an uppercase label. Transitional states get a
// spinner frame chosen from now.
func StateBadge(s comm.State, now time.Time) string {
	glyph := StateIcon(s)
	if !s.Stable() {
		frame := now.UnixMilli() / spinnerInterval.Milliseconds()
		glyph = SpinnerFrames[frame%int64(len(SpinnerFrames))]
	}
	return StateStyle(s).Render(glyph + " " + strings.ToUpper(s.String()))
}
