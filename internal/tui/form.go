package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/session"
)

// FormModel edits the fields of one mode. Values are written through to
// the session on every keystroke so switching modes keeps them.
type FormModel struct {
	fields  []analysis.Field
	inputs  []textinput.Model
	Cursor  int
	Focused bool
	Width   int
}

func NewFormModel(mode analysis.Mode, sess *session.Session, width int) FormModel {
	f := FormModel{fields: mode.Fields, Width: width}
	for _, field := range mode.Fields {
		ti := textinput.New()
		ti.Placeholder = field.Label
		ti.CharLimit = 4000
		ti.Width = inputWidth(width)
		ti.SetValue(sess.Field(field.Name))
		f.inputs = append(f.inputs, ti)
	}
	return f
}

func inputWidth(width int) int {
	w := width - 24
	if w < 20 {
		w = 20
	}
	return w
}

func (f *FormModel) Focus() tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	f.Focused = true
	return f.inputs[f.Cursor].Focus()
}

func (f *FormModel) Blur() {
	f.Focused = false
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
}

// Next moves focus to the next field. It reports false when focus was on
// the last field.
func (f *FormModel) Next() (bool, tea.Cmd) {
	if f.Cursor >= len(f.inputs)-1 {
		return false, nil
	}
	f.inputs[f.Cursor].Blur()
	f.Cursor++
	return true, f.inputs[f.Cursor].Focus()
}

func (f *FormModel) Prev() tea.Cmd {
	if f.Cursor == 0 {
		return nil
	}
	f.inputs[f.Cursor].Blur()
	f.Cursor--
	return f.inputs[f.Cursor].Focus()
}

func (f *FormModel) SetWidth(width int) {
	f.Width = width
	for i := range f.inputs {
		f.inputs[i].Width = inputWidth(width)
	}
}

// Update forwards msg to the focused input and mirrors its value into sess.
func (f *FormModel) Update(msg tea.Msg, sess *session.Session) tea.Cmd {
	if !f.Focused || len(f.inputs) == 0 {
		return nil
	}
	var cmd tea.Cmd
	f.inputs[f.Cursor], cmd = f.inputs[f.Cursor].Update(msg)
	sess.SetField(f.fields[f.Cursor].Name, f.inputs[f.Cursor].Value())
	return cmd
}

func (f FormModel) View() string {
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	activeLabel := labelStyle.Foreground(lipgloss.Color("62")).Bold(true)

	var b strings.Builder
	for i, field := range f.fields {
		style := labelStyle
		if f.Focused && i == f.Cursor {
			style = activeLabel
		}
		b.WriteString(" " + style.Render(field.Label) + f.inputs[i].View() + "\n")
	}
	if len(f.fields) == 0 {
		b.WriteString(" No input needed.\n")
	}
	return b.String()
}
