package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/types"
)

func renderNavbar(screens []analysis.Screen, active int, conn types.ConnState, unread int, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	inactiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	connStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var tabs string
	for i, s := range screens {
		if i > 0 {
			tabs += inactiveStyle.Render(" │ ")
		}
		name := fmt.Sprintf("%d %s", i+1, s.Title)
		if i == active {
			tabs += activeStyle.Render(name)
		} else {
			tabs += inactiveStyle.Render(name)
		}
	}
	left := " " + tabs

	var right string
	if unread > 0 {
		right = countStyle.Render(fmt.Sprintf("✉ %d", unread)) + "  "
	}
	switch conn {
	case types.ConnOpen:
		right += connStyle.Render("● live")
	case types.ConnConnecting:
		right += connStyle.Render("○ connecting...")
	default:
		right += connStyle.Render("○ offline")
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}

func renderModeTabs(modes []analysis.Mode, active string, status func(string) types.Status) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	normalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)

	var out string
	for _, m := range modes {
		label := m.Title
		switch status(m.ID) {
		case types.StatusPending:
			label += " …"
		case types.StatusError:
			label += " !"
		case types.StatusSuccess:
			label += " ✓"
		}
		if m.ID == active {
			out += activeStyle.Render(label)
		} else {
			out += normalStyle.Render(label)
		}
	}
	return " " + out
}
