package main

import "github.com/charmbracelet/lipgloss"

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// yesNo renders a probed capability. nil means the probe failed.
func yesNo(v *bool) string {
	switch {
	case v == nil:
		return errStyle.Render("?")
	case *v:
		return okStyle.Render("yes")
	default:
		return dimStyle.Render("no")
	}
}
