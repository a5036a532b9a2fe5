package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// HelpOverlay renders the help screen
type HelpOverlay struct {
	width  int
	height int
}

// NewHelpOverlay creates a new help overlay
func NewHelpOverlay() *HelpOverlay {
	return &HelpOverlay{}
}

// SetSize sets overlay dimensions
func (h *HelpOverlay) SetSize(width, height int) {
	h.width = width
	h.height = height
}

// View renders the help overlay
func (h *HelpOverlay) View() string {
	content := h.buildContent()

	boxWidth := 50
	if boxWidth > h.width-10 {
		boxWidth = h.width - 10
	}

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPurple).
		Padding(1, 2).
		Width(boxWidth)

	return overlay(boxStyle.Render(content), boxWidth, h.width, h.height)
}

func (h *HelpOverlay) buildContent() string {
	var lines []string

	title := TitleStyle.Render("KEYBINDINGS")
	lines = append(lines, title)
	lines = append(lines, "")

	// Navigation section
	lines = append(lines, AccentStyle.Render("Navigation"))
	lines = append(lines, DimStyle.Render(strings.Repeat("─", 40)))
	lines = append(lines, h.keyLine("↑ / k", "Previous device"))
	lines = append(lines, h.keyLine("↓ / j", "Next device"))
	lines = append(lines, h.keyLine("Tab", "Switch panel"))
	lines = append(lines, h.keyLine("1 / 2 / 3", "Jump to panel"))
	lines = append(lines, "")

	// Actions section
	lines = append(lines, AccentStyle.Render("Actions"))
	lines = append(lines, DimStyle.Render(strings.Repeat("─", 40)))
	lines = append(lines, h.keyLine("r", "Restart link"))
	lines = append(lines, h.keyLine("t", "Terminate link"))
	lines = append(lines, h.keyLine("c", "Clear log"))
	lines = append(lines, h.keyLine("← / →", "Choose dialog button"))
	lines = append(lines, h.keyLine("Enter", "Confirm"))
	lines = append(lines, "")

	// General section
	lines = append(lines, AccentStyle.Render("General"))
	lines = append(lines, DimStyle.Render(strings.Repeat("─", 40)))
	lines = append(lines, h.keyLine("?", "Toggle this help"))
	lines = append(lines, h.keyLine("Esc", "Cancel / Back"))
	lines = append(lines, h.keyLine("q", "Quit"))

	return strings.Join(lines, "\n")
}

func (h *HelpOverlay) keyLine(key, desc string) string {
	return KeyStyle.Render(key) + desc
}
