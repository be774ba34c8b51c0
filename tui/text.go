package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	textStyleColor      = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningStyleColor   = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	titleStyleColor     = lipgloss.AdaptiveColor{Light: "#071330", Dark: "#F652A0"}
	secondaryStyleColor = lipgloss.AdaptiveColor{Light: "#214358", Dark: "#AEB8C4"}
	commandStyle        = lipgloss.NewStyle().Foreground(textStyleColor)
)

// render applies style only when stdout is a terminal.
func render(style lipgloss.Style, text string) string {
	if !HasTTY {
		return text
	}
	return style.Render(text)
}

func Title(text string) string {
	return render(lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor), text)
}

func Bold(text string) string {
	return render(lipgloss.NewStyle().Bold(true).Foreground(textStyleColor), text)
}

func Secondary(text string) string {
	return render(lipgloss.NewStyle().Foreground(secondaryStyleColor), text)
}

func Muted(text string) string {
	return render(lipgloss.NewStyle().Foreground(mutedStyleColor), text)
}

func Warning(text string) string {
	return render(lipgloss.NewStyle().Foreground(warningStyleColor), text)
}

// Command renders a narrative-cache command line.
func Command(cmd string, args ...string) string {
	cmdline := "narrative-cache " + strings.Join(append([]string{cmd}, args...), " ")
	return render(commandStyle, cmdline)
}

// MaxWidth truncates text to width cells, marking the cut with an ellipsis.
func MaxWidth(text string, width int) string {
	if lipgloss.Width(text) > width && width > 3 {
		text = text[:width-3] + "..."
	}
	return text
}
