package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/studzo/internal/session"
	"github.com/lotas/studzo/internal/types"
)

// ResultMarkdown renders a decoded result as markdown. Objects become
// sections, lists become bullets and anything nested deeper is shown as a
// JSON block.
func ResultMarkdown(v any) string {
	var b strings.Builder
	writeValue(&b, v, 2)
	return strings.TrimSpace(b.String())
}

func writeValue(b *strings.Builder, v any, level int) {
	switch v := v.(type) {
	case nil:
		b.WriteString("_empty response_\n")
	case string:
		b.WriteString(v + "\n")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch child := v[k].(type) {
			case map[string]any, []any:
				if level > 4 {
					fmt.Fprintf(b, "**%s:**\n\n%s\n", title(k), jsonBlock(child))
					continue
				}
				fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), title(k))
				writeValue(b, child, level+1)
				b.WriteString("\n")
			default:
				fmt.Fprintf(b, "**%s:** %s\n\n", title(k), scalar(child))
			}
		}
	case []any:
		if len(v) == 0 {
			b.WriteString("_none_\n")
		}
		for _, item := range v {
			switch item := item.(type) {
			case map[string]any:
				b.WriteString("- " + inline(item) + "\n")
			case []any:
				b.WriteString("- " + strings.TrimSpace(jsonBlock(item)) + "\n")
			default:
				b.WriteString("- " + scalar(item) + "\n")
			}
		}
	default:
		b.WriteString(scalar(v) + "\n")
	}
}

// inline renders a flat object as one bullet line.
func inline(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var s string
		switch c := m[k].(type) {
		case map[string]any, []any:
			data, _ := json.Marshal(c)
			s = "`" + string(data) + "`"
		default:
			s = scalar(c)
		}
		parts = append(parts, fmt.Sprintf("**%s:** %s", title(k), s))
	}
	return strings.Join(parts, " · ")
}

func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprint(v)
	}
}

func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return "```json\n" + string(data) + "\n```\n"
}

func title(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func newRenderer(width int) *glamour.TermRenderer {
	if width < 40 {
		width = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// RenderResult renders a decoded result for the terminal, wrapped at width.
func RenderResult(v any, width int) string {
	md := ResultMarkdown(v)
	r := newRenderer(width)
	if r == nil {
		return md + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return md + "\n"
	}
	return out
}

// renderView renders the body of the active mode.
func renderView(v session.View, r *glamour.TermRenderer, spinner string) string {
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Padding(0, 1)

	switch v.Status {
	case types.StatusIdle:
		return mutedStyle.Render("Fill in the form and press ctrl+s to run.")
	case types.StatusPending:
		return mutedStyle.Render(spinner + " Analyzing...")
	case types.StatusError:
		return errStyle.Render(errorText(v.Err)) + "\n" + mutedStyle.Render("r retry")
	}

	md := ResultMarkdown(v.Result)
	if r == nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func errorText(err *types.Error) string {
	if err == nil {
		return "Something went wrong."
	}
	switch err.Kind {
	case types.KindTransportFailure:
		return "Could not reach the service: " + err.Msg
	case types.KindMalformedResponse:
		raw := err.Raw
		if cut := types.Truncate(raw, 200); cut != raw {
			raw = cut + "…"
		}
		return "The service answered with something unreadable.\n" + raw
	case types.KindValidationRejected:
		return err.Msg
	}
	return err.Error()
}
