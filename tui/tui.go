// Package tui renders CLI output: styled when stdout is a terminal, plain
// otherwise.
package tui

import (
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)
