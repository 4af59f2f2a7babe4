package tui

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/toast"
	"github.com/lotas/studzo/internal/types"
)

type fakeClient struct {
	raw   string
	calls atomic.Int32
}

func (f *fakeClient) Invoke(ctx context.Context, m analysis.Mode, in analysis.Input) ([]byte, error) {
	f.calls.Add(1)
	return []byte(f.raw), nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestSubmitAppliesCompletion(t *testing.T) {
	client := &fakeClient{raw: `{"risk_level":"High","red_flags":["upfront fee"]}`}
	m := NewModel(Options{Client: client})
	defer m.Close()

	m, _ = update(t, m, key("2"))
	if m.opts.Screens[m.screen].ID != "jobs" {
		t.Fatalf("screen = %s, want jobs", m.opts.Screens[m.screen].ID)
	}
	m, _ = update(t, m, key("tab"))
	if m.sess.ActiveMode() != "scam-check" {
		t.Fatalf("mode = %s", m.sess.ActiveMode())
	}
	m.sess.SetField("text", "pay 100 EUR to start")

	m, cmd := update(t, m, key("s"))
	if cmd == nil {
		t.Fatalf("no command after submit, flash = %q", m.flash)
	}
	if m.sess.Active().Status != types.StatusPending {
		t.Errorf("status = %v, want pending", m.sess.Active().Status)
	}

	m, _ = update(t, m, cmd())
	v := m.sess.Active()
	if v.Status != types.StatusSuccess {
		t.Fatalf("status = %v err = %v", v.Status, v.Err)
	}
	want := map[string]any{"risk_level": "High", "red_flags": []any{"upfront fee"}}
	if diff := cmp.Diff(want, v.Result); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	if client.calls.Load() != 1 {
		t.Errorf("calls = %d", client.calls.Load())
	}
}

func TestValidationShowsFlash(t *testing.T) {
	client := &fakeClient{raw: `{}`}
	m := NewModel(Options{Client: client})
	defer m.Close()

	// accommodation: roommate, hostel
	m, _ = update(t, m, key("tab"))
	if m.sess.ActiveMode() != "hostel" {
		t.Fatalf("mode = %s", m.sess.ActiveMode())
	}
	m, cmd := update(t, m, key("s"))
	if cmd != nil {
		t.Error("rejected submit produced a command")
	}
	if !strings.Contains(m.flash, "query") {
		t.Errorf("flash = %q", m.flash)
	}
	if m.sess.Active().Status != types.StatusIdle || client.calls.Load() != 0 {
		t.Errorf("status = %v calls = %d", m.sess.Active().Status, client.calls.Load())
	}
}

func TestScreenSwitchDiscardsCompletion(t *testing.T) {
	client := &fakeClient{raw: `{"ok":true}`}
	m := NewModel(Options{Client: client})
	defer m.Close()

	m, _ = update(t, m, key("8"))
	old := m.sess
	m, cmd := update(t, m, key("s"))
	if cmd == nil {
		t.Fatal("no command after submit")
	}
	m, _ = update(t, m, key("right"))
	if !old.Closed() {
		t.Error("previous session not closed")
	}

	m, _ = update(t, m, cmd())
	if old.Active().Status != types.StatusIdle {
		t.Errorf("closed session status = %v, want idle", old.Active().Status)
	}
}

func TestNotificationToastAndHistory(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	feed := &toast.Feed{
		Toasts:  toast.NewQueue(5*time.Second, func() time.Time { return now }),
		History: toast.NewHistory(nil, nil),
	}
	m := NewModel(Options{Client: &fakeClient{}, Feed: feed})
	defer m.Close()
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	ev := types.Event{ID: 1, Message: "Match found", Category: "match", ReceivedAt: now}
	m, cmd := update(t, m, notificationMsg{ev: ev})
	if cmd == nil {
		t.Error("expected listen and tick commands")
	}
	if m.unread != 1 {
		t.Errorf("unread = %d", m.unread)
	}
	if !strings.Contains(m.View(), "Match found") {
		t.Error("toast not rendered")
	}

	// A tick from an older chain is ignored.
	m, cmd = update(t, m, toastTickMsg{gen: m.tickGen - 1})
	if cmd != nil || feed.Toasts.Len() != 1 {
		t.Errorf("stale tick acted: len = %d", feed.Toasts.Len())
	}

	now = now.Add(5 * time.Second)
	m, _ = update(t, m, toastTickMsg{gen: m.tickGen})
	if feed.Toasts.Len() != 0 {
		t.Errorf("toast still queued after expiry")
	}
	if feed.History.Len() != 1 {
		t.Errorf("history len = %d", feed.History.Len())
	}

	m, _ = update(t, m, key("n"))
	if !m.showHistory || m.unread != 0 {
		t.Errorf("showHistory = %v unread = %d", m.showHistory, m.unread)
	}
	if !strings.Contains(m.View(), "Match found") {
		t.Error("history panel missing event")
	}
	m, _ = update(t, m, key("c"))
	if feed.History.Len() != 0 {
		t.Error("clear all left events")
	}
}

func TestResultMarkdown(t *testing.T) {
	v := map[string]any{
		"risk_level": "High",
		"score":      float64(3),
		"matches": []any{
			map[string]any{"name": "Lena", "compatibility": 0.87},
		},
		"tips": []any{"Never pay upfront"},
	}
	md := ResultMarkdown(v)
	for _, want := range []string{
		"**Risk Level:** High",
		"**Score:** 3",
		"## Matches",
		"- **Compatibility:** 0.87 · **Name:** Lena",
		"- Never pay upfront",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if got := ResultMarkdown("plain answer"); got != "plain answer" {
		t.Errorf("text result = %q", got)
	}
}

func TestErrorTextAndTitleKeepUTF8(t *testing.T) {
	raw := strings.Repeat("a", 199) + "é tail"
	got := errorText(&types.Error{Kind: types.KindMalformedResponse, Raw: raw})
	if !utf8.ValidString(got) {
		t.Errorf("errorText produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, strings.Repeat("a", 199)+"…") {
		t.Errorf("errorText = %q", got)
	}

	if got := title("école_fees"); got != "École Fees" {
		t.Errorf("title = %q, want %q", got, "École Fees")
	}
}
