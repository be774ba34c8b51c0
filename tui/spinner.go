package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner titled title while action runs. Without a
// terminal action simply runs.
func ShowSpinner(ctx context.Context, title string, action func()) {
	if !HasTTY {
		action()
		return
	}
	_ = spinner.New().Context(ctx).Title(title).Action(action).Run()
}
