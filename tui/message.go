package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
)

func ShowSuccess(w io.Writer, msg string, args ...any) {
	fmt.Fprintln(w, render(messageOKStyle, " ✓ ")+fmt.Sprintf(msg, args...))
}

func ShowWarning(w io.Writer, msg string, args ...any) {
	fmt.Fprintln(w, render(messageWarningStyle, " ✕ ")+fmt.Sprintf(msg, args...))
}

func ShowError(w io.Writer, msg string, args ...any) {
	fmt.Fprintln(w, render(messageWarningStyle, " ⚠ ")+fmt.Sprintf(msg, args...))
}

// Ask asks a yes/no question. Without a terminal it returns defaultValue.
func Ask(title string, defaultValue bool) (bool, error) {
	if !HasTTY {
		return defaultValue, nil
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes!").
		Negative("No").
		Value(&confirm).
		Inline(false).
		Run(); err != nil {
		return false, err
	}
	return confirm, nil
}
