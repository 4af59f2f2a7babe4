package tui

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/features"
	"github.com/lotas/studzo/internal/lifecycle"
	"github.com/lotas/studzo/internal/notify"
	"github.com/lotas/studzo/internal/session"
	"github.com/lotas/studzo/internal/toast"
	"github.com/lotas/studzo/internal/types"
)

// --- Messages ---

type completionMsg struct{ c lifecycle.Completion }

type channelDoneMsg struct{ err error }

// Options configures the TUI.
type Options struct {
	Screens []analysis.Screen // defaults to analysis.Catalog
	Client  features.Invoker
	Profile types.Profile
	DB      *sql.DB
	Feed    *toast.Feed
	// Notify enables the notification channel when URL is set.
	Notify  notify.Options
	Timeout time.Duration
}

// --- Model ---

type Model struct {
	opts Options

	// Lifetime
	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan tea.Msg
	quit      chan struct{}
	closeOnce *sync.Once
	channel   *notify.Channel

	// Screen state
	screen int
	sess   *session.Session
	form   FormModel

	// UI state
	renderer    *glamour.TermRenderer
	spinner     spinner.Model
	history     HistoryPanel
	showHistory bool
	conn        types.ConnState
	connErr     error
	unread      int
	tickGen     int
	flash       string
	width       int
	height      int
}

func NewModel(opts Options) Model {
	if len(opts.Screens) == 0 {
		opts.Screens = analysis.Catalog
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Feed == nil {
		opts.Feed = &toast.Feed{
			Toasts:  toast.NewQueue(toast.DefaultDuration, nil),
			History: toast.NewHistory(nil, nil),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan tea.Msg, 64),
		quit:      make(chan struct{}),
		closeOnce: &sync.Once{},
		spinner:   sp,
		renderer:  newRenderer(80),
		conn:      types.ConnClosed,
		width:     80,
	}

	if opts.Notify.URL != "" {
		inbox, quit := m.inbox, m.quit
		nopts := opts.Notify
		nopts.OnState = func(s types.ConnState) { push(inbox, quit, connStateMsg{state: s}) }
		m.channel = notify.New(nopts)
		m.channel.Subscribe(func(ev types.Event) { push(inbox, quit, notificationMsg{ev: ev}) })
	}

	m.mount(0)
	return m
}

// push hands msg to the UI loop unless the UI is gone.
func push(inbox chan<- tea.Msg, quit <-chan struct{}, msg tea.Msg) {
	select {
	case inbox <- msg:
	case <-quit:
	}
}

// Close stops the notification channel and discards pending calls. Call it
// on the model returned by tea.Program.Run.
func (m Model) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		if m.sess != nil {
			m.sess.Close()
		}
		if m.channel != nil {
			m.channel.Close()
		}
		m.cancel()
	})
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, textinput.Blink}
	if m.channel != nil {
		cmds = append(cmds, startChannel(m.ctx, m.channel), listenInbox(m.inbox), waitChannelDone(m.channel))
	}
	return tea.Batch(cmds...)
}

func startChannel(ctx context.Context, ch *notify.Channel) tea.Cmd {
	return func() tea.Msg {
		if err := ch.Start(ctx); err != nil {
			return channelDoneMsg{err: err}
		}
		return nil
	}
}

func waitChannelDone(ch *notify.Channel) tea.Cmd {
	return func() tea.Msg {
		<-ch.Done()
		return channelDoneMsg{err: ch.Err()}
	}
}

// mount opens screen i, closing the previous one. Calls still in flight for
// the old screen are discarded when they complete.
func (m *Model) mount(i int) {
	if m.sess != nil {
		m.sess.Close()
	}
	m.screen = i
	m.sess = features.Open(m.opts.Screens[i], features.Deps{
		Client:  m.opts.Client,
		Profile: m.opts.Profile,
		DB:      m.opts.DB,
	})
	m.flash = ""
	m.rebuildForm()
	applog.Info("tui.mount", "screen", m.sess.Name())
}

func (m *Model) activeMode() analysis.Mode {
	mode, _ := m.opts.Screens[m.screen].Mode(m.sess.ActiveMode())
	return mode
}

func (m *Model) rebuildForm() {
	m.form = NewFormModel(m.activeMode(), m.sess, m.width)
}

func (m *Model) cycleMode(delta int) {
	modes := m.sess.Modes()
	if len(modes) < 2 {
		return
	}
	cur := 0
	for i, id := range modes {
		if id == m.sess.ActiveMode() {
			cur = i
		}
	}
	next := (cur + delta + len(modes)) % len(modes)
	m.sess.SelectMode(modes[next])
	m.flash = ""
	m.rebuildForm()
}

func (m *Model) submit() tea.Cmd {
	job, err := m.sess.Submit(m.sess.ActiveMode())
	if err != nil {
		m.flash = flashText(err)
		return nil
	}
	m.flash = ""
	m.form.Blur()
	return m.runJob(job)
}

func (m *Model) retry() tea.Cmd {
	job, err := m.sess.Retry(m.sess.ActiveMode())
	if err != nil {
		if !errors.Is(err, lifecycle.ErrNothingToRetry) {
			m.flash = flashText(err)
		}
		return nil
	}
	m.flash = ""
	return m.runJob(job)
}

func (m *Model) runJob(job session.Job) tea.Cmd {
	ctx, timeout := m.ctx, m.opts.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return completionMsg{c: job.Run(ctx)}
	}
}

func flashText(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		return errorText(te)
	}
	return err.Error()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.form.SetWidth(m.width)
		m.renderer = newRenderer(m.width - 4)
		m.history.Width = m.width
		m.history.Height = m.height
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		// Notification history overlay
		if m.showHistory {
			switch msg.String() {
			case "up", "k":
				m.history.ScrollUp()
			case "down", "j":
				m.history.ScrollDown(m.opts.Feed.History.Len())
			case "c":
				m.opts.Feed.History.ClearAll()
				m.history.Scroll = 0
			case "esc", "n":
				m.showHistory = false
			case "q":
				return m, tea.Quit
			}
			return m, nil
		}

		// Form editing
		if m.form.Focused {
			switch msg.String() {
			case "esc":
				m.form.Blur()
				return m, nil
			case "tab", "down":
				_, cmd := m.form.Next()
				return m, cmd
			case "shift+tab", "up":
				return m, m.form.Prev()
			case "enter":
				if ok, cmd := m.form.Next(); ok {
					return m, cmd
				}
				return m, m.submit()
			case "ctrl+s":
				return m, m.submit()
			}
			return m, m.form.Update(msg, m.sess)
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.mount((m.screen - 1 + len(m.opts.Screens)) % len(m.opts.Screens))
		case "right", "l":
			m.mount((m.screen + 1) % len(m.opts.Screens))
		case "tab":
			m.cycleMode(1)
		case "shift+tab":
			m.cycleMode(-1)
		case "enter", "i":
			return m, m.form.Focus()
		case "s", "ctrl+s":
			return m, m.submit()
		case "r":
			return m, m.retry()
		case "n":
			m.showHistory = true
			m.unread = 0
			m.history.Scroll = 0
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			n := int(msg.String()[0] - '1')
			if n < len(m.opts.Screens) {
				m.mount(n)
			}
		}
		return m, nil

	case completionMsg:
		if !msg.c.Apply() {
			applog.Info("tui.discarded", "token", msg.c.Token())
		}
		return m, nil

	case notificationMsg:
		m.opts.Feed.Deliver(msg.ev)
		if !m.showHistory {
			m.unread++
		}
		m.tickGen++
		return m, tea.Batch(listenInbox(m.inbox), scheduleToastTick(m.opts.Feed.Toasts, m.tickGen))

	case toastTickMsg:
		if msg.gen != m.tickGen {
			return m, nil
		}
		m.opts.Feed.Toasts.Expire()
		return m, scheduleToastTick(m.opts.Feed.Toasts, m.tickGen)

	case connStateMsg:
		m.conn = msg.state
		return m, listenInbox(m.inbox)

	case channelDoneMsg:
		m.conn = types.ConnClosed
		m.connErr = msg.err
		return m, nil

	case inboxClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.form.Focused {
		return m, m.form.Update(msg, m.sess)
	}
	return m, nil
}

func (m Model) View() string {
	if m.showHistory {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.history.View(m.opts.Feed.History.All()))
	}

	screen := m.opts.Screens[m.screen]
	navbar := renderNavbar(m.opts.Screens, m.screen, m.conn, m.unread, m.width)

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	header := headerStyle.Render(screen.Title)
	modes := renderModeTabs(screen.Modes, m.sess.ActiveMode(), m.sess.Status)

	formBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 2)
	if m.form.Focused {
		formBox = formBox.BorderForeground(lipgloss.Color("62"))
	}

	body := renderView(m.sess.Active(), m.renderer, m.spinner.View())

	parts := []string{navbar, "", header, modes, formBox.Render(m.form.View()), body}
	if m.flash != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Padding(0, 1).Render(m.flash))
	}
	if m.connErr != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1).
			Render(fmt.Sprintf("Notifications unavailable: %v", m.connErr)))
	}
	if toasts := renderToasts(m.opts.Feed.Toasts.Visible(), m.width); toasts != "" {
		parts = append(parts, lipgloss.PlaceHorizontal(m.width, lipgloss.Right, toasts))
	}

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var bottomText string
	if m.form.Focused {
		bottomText = "tab/↓ next field · shift+tab/↑ previous · enter next/run · ctrl+s run · esc done"
	} else {
		bottomText = "←→/hl screen · 1-9 jump · tab mode · enter edit · s run · r retry · n notifications · q quit"
	}
	parts = append(parts, bottomBarStyle.Render(bottomText))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
