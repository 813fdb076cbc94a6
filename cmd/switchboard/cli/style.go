// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette is the set of colors command output is rendered with. All
// colors are ANSI 256-color codes so they degrade predictably on
// limited terminals.
type Palette struct {
	Success lipgloss.Color
	Failure lipgloss.Color
	Warning lipgloss.Color
	Faint   lipgloss.Color
	Heading lipgloss.Color
}

// DefaultPalette suits dark terminals.
var DefaultPalette = Palette{
	Success: lipgloss.Color("114"),
	Failure: lipgloss.Color("203"),
	Warning: lipgloss.Color("214"),
	Faint:   lipgloss.Color("245"),
	Heading: lipgloss.Color("75"),
}

// Styles renders command output to one writer. A call that failed and
// a call whose billing could not be confirmed are different problems
// for the user, and they get visibly different treatment: Failure for
// the former, Warning for the latter.
//
// Color is decided by the writer: a terminal gets the palette, a pipe
// or buffer gets plain text.
type Styles struct {
	Success lipgloss.Style
	Failure lipgloss.Style
	Warning lipgloss.Style
	Faint   lipgloss.Style
	Heading lipgloss.Style
}

// NewStyles returns styles for output written to w.
func NewStyles(w io.Writer, palette Palette) *Styles {
	renderer := lipgloss.NewRenderer(w)
	return &Styles{
		Success: renderer.NewStyle().Foreground(palette.Success),
		Failure: renderer.NewStyle().Foreground(palette.Failure).Bold(true),
		Warning: renderer.NewStyle().Foreground(palette.Warning),
		Faint:   renderer.NewStyle().Foreground(palette.Faint),
		Heading: renderer.NewStyle().Foreground(palette.Heading).Bold(true),
	}
}
