// Package format renders agent output for the terminal.
package format

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
)

// Styles used by the chat loop. Build them with NewStyles so colours follow
// the output they are written to.
type Styles struct {
	Prompt lipgloss.Style
	Label  lipgloss.Style
	Tool   lipgloss.Style
	Error  lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles returns styles rendered for r. Output that is not a terminal
// gets plain text.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Prompt: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#0969da")),
		Label:  r.NewStyle().Bold(true),
		Tool:   r.NewStyle().Foreground(lipgloss.Color("#8250df")),
		Error:  r.NewStyle().Foreground(lipgloss.Color("#cf222e")),
		Dim:    r.NewStyle().Foreground(lipgloss.Color("#656d76")),
	}
}

// Markdown returns a renderer that formats markdown for a terminal of the
// given width. When glamour cannot be set up the text is returned as is.
func Markdown(width int) func(string) string {
	if width <= 0 {
		width = 100
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return Plain
	}

	return func(text string) string {
		out, err := r.Render(text)
		if err != nil {
			return text
		}
		return strings.Trim(out, "\n")
	}
}

// Plain returns text unchanged.
func Plain(text string) string { return text }

// Truncate shortens s to at most width terminal cells, appending "..." when
// it cuts. Newlines become spaces.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// Diff returns a unified diff from before to after, or "" when they match.
func Diff(fromName, toName string, before, after []string) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        lines(before),
		B:        lines(after),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}

func lines(in []string) []string {
	out := make([]string, len(in))
	for i, l := range in {
		out[i] = l + "\n"
	}
	return out
}
