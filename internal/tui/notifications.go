package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/studzo/internal/toast"
	"github.com/lotas/studzo/internal/types"
)

type notificationMsg struct{ ev types.Event }
type connStateMsg struct{ state types.ConnState }
type inboxClosedMsg struct{}

// toastTickMsg carries the generation of the tick chain that scheduled it,
// so only the latest chain keeps running.
type toastTickMsg struct{ gen int }

// listenInbox waits for the next message pushed by the notification
// channel. It is re-issued after every message.
func listenInbox(inbox <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-inbox
		if !ok {
			return inboxClosedMsg{}
		}
		return msg
	}
}

func scheduleToastTick(q *toast.Queue, gen int) tea.Cmd {
	d, ok := q.Next()
	if !ok {
		return nil
	}
	// Expiry is at now >= deadline; a hair extra avoids an early wakeup.
	return tea.Tick(d+10*time.Millisecond, func(time.Time) tea.Msg {
		return toastTickMsg{gen: gen}
	})
}

var categoryColors = map[string]string{
	"info":    "62",
	"match":   "42",
	"job":     "39",
	"alert":   "196",
	"warning": "214",
}

func categoryStyle(category string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(colorOf(category))).Bold(true)
}

func renderToasts(entries []toast.Entry, width int) string {
	if len(entries) == 0 {
		return ""
	}
	w := width / 3
	if w < 30 {
		w = 30
	}
	var boxes []string
	for _, e := range entries {
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorOf(e.Category))).
			Width(w).
			Padding(0, 1)
		boxes = append(boxes, box.Render(categoryStyle(e.Category).Render(e.Category)+"\n"+e.Message))
	}
	return lipgloss.JoinVertical(lipgloss.Right, boxes...)
}

func colorOf(category string) string {
	if c, ok := categoryColors[category]; ok {
		return c
	}
	return "245"
}

// HistoryPanel lists every notification received.
type HistoryPanel struct {
	Scroll int
	Width  int
	Height int
}

func (p *HistoryPanel) ScrollUp() {
	if p.Scroll > 0 {
		p.Scroll--
	}
}

func (p *HistoryPanel) ScrollDown(total int) {
	if p.Scroll < total-1 {
		p.Scroll++
	}
}

func (p HistoryPanel) View(events []types.Event) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	normalStyle := lipgloss.NewStyle().Padding(0, 1)
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Notifications (%d)", len(events))) + "\n\n")

	if len(events) == 0 {
		b.WriteString(normalStyle.Render("No notifications yet.") + "\n")
	}

	rows := p.Height - 10
	if rows < 3 {
		rows = 3
	}
	start := p.Scroll
	if start > len(events) {
		start = len(events)
	}
	end := start + rows
	if end > len(events) {
		end = len(events)
	}
	for _, ev := range events[start:end] {
		line := timeStyle.Render(ev.ReceivedAt.Format("15:04:05")) + " " +
			categoryStyle(ev.Category).Render(fmt.Sprintf("%-8s", ev.Category)) + " " + ev.Message
		b.WriteString(normalStyle.Render(line) + "\n")
	}

	b.WriteString("\n" + normalStyle.Render("↑↓ scroll · c clear all · esc close"))
	return boxStyle.Render(b.String())
}
