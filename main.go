package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/config"
	"github.com/lotas/studzo/internal/features"
	"github.com/lotas/studzo/internal/notify"
	"github.com/lotas/studzo/internal/storage"
	"github.com/lotas/studzo/internal/toast"
	"github.com/lotas/studzo/internal/tui"
	"github.com/lotas/studzo/internal/types"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "ask":
			runAsk(os.Args[2:])
			return
		case "check":
			runCheck(os.Args[2:])
			return
		case "notify":
			runNotify(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "profile":
			runProfile(os.Args[2:])
			return
		case "log":
			runLog(os.Args[2:])
			return
		case "screens":
			runScreens()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("studzo", flag.ExitOnError)
	cf := addCommonFlags(fs)
	noNotify := fs.Bool("no-notify", false, "Do not connect to the notification stream")
	fs.Parse(os.Args[1:])

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()

	profile, err := loadProfile(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	seed, err := storage.ListNotifications(db, 200)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading notifications: %v\n", err)
		os.Exit(1)
	}

	opts := tui.Options{
		Client:  newClient(cfg),
		Profile: profile,
		DB:      db,
		Feed: &toast.Feed{
			Toasts:  toast.NewQueue(cfg.ToastDuration(), nil),
			History: toast.NewHistory(storage.Notifications{DB: db}, seed),
		},
		Timeout: cfg.Timeout(),
	}
	if !*noNotify {
		opts.Notify = notifyOptions(cfg)
	}

	model := tui.NewModel(opts)
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(tui.Model); ok {
		m.Close()
	} else {
		model.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`studzo — student abroad assistant

Usage:
  studzo                                           Start the TUI (default)
    --no-notify            Do not connect to the notification stream

  studzo ask <screen> <mode> [key=value...]        Run one analysis and print the result
    --json                 Print the raw decoded result as JSON

  studzo check <url>...                            Scam-check pages concurrently
    --screen <id>          Screen whose scam check to use: jobs or finance (default: jobs)

  studzo notify                                    Print notifications as they arrive
  studzo notify send [--type T] <message>          Ask the service to push a notification

  studzo history [--limit N]                       List saved notifications
  studzo history clear                             Delete saved notifications

  studzo profile show                              Show the saved profile
  studzo profile set key=value...                  Update profile fields

  studzo log [--screen X] [--limit N] [--raw]      Show recent calls
  studzo screens                                   List screens and modes

Common flags:
    --config <path>        Config file (default: $XDG_CONFIG_HOME/studzo/config.toml)
    --api <url>            Service base URL (env: STUDZO_API)
    --ws <url>             Notification base URL (env: STUDZO_WS)
    --user <id>            User id (env: STUDZO_USER)
    --data-dir <path>      Data directory (env: STUDZO_DATA_DIR)
`)
}

// --- Shared setup ---

type commonFlags struct {
	config  *string
	api     *string
	ws      *string
	user    *int
	dataDir *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "Config file path"),
		api:     fs.String("api", "", "Service base URL"),
		ws:      fs.String("ws", "", "Notification base URL"),
		user:    fs.Int("user", 0, "User id"),
		dataDir: fs.String("data-dir", "", "Data directory"),
	}
}

// mustConfig loads the config file and environment, then applies flags.
func mustConfig(cf commonFlags) config.Config {
	cfg, err := config.Load(*cf.config, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *cf.api != "" {
		cfg.APIBase = strings.TrimRight(*cf.api, "/")
		if *cf.ws == "" && os.Getenv("STUDZO_WS") == "" {
			cfg.WSBase = config.WSFromAPI(cfg.APIBase)
		}
	}
	if *cf.ws != "" {
		cfg.WSBase = *cf.ws
	}
	if *cf.user > 0 {
		cfg.UserID = *cf.user
	}
	if *cf.dataDir != "" {
		cfg.DataDir = *cf.dataDir
	}
	if err := applog.Init(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *sql.DB {
	db, err := storage.OpenDB(storage.DefaultDBPath(cfg.DataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

// loadProfile returns the saved profile, or the zero profile when none was
// saved yet.
func loadProfile(db *sql.DB) (types.Profile, error) {
	p, _, err := storage.LoadProfile(db)
	if err != nil {
		return types.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func newClient(cfg config.Config) *analysis.Client {
	return analysis.New(analysis.Options{
		BaseURL:       cfg.APIBase,
		Timeout:       cfg.Timeout(),
		RatePerMinute: cfg.RatePerMinute,
	})
}

func notifyOptions(cfg config.Config) notify.Options {
	return notify.Options{
		URL:         notify.URL(cfg.WSBase, cfg.UserKey()),
		Backoff:     cfg.ReconnectBackoff(),
		MaxAttempts: cfg.ReconnectAttempts,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
// Flags named in boolFlags never take the following argument as a value.
func reorderArgs(args []string, boolFlags ...string) []string {
	isBool := make(map[string]bool, len(boolFlags))
	for _, b := range boolFlags {
		isBool[b] = true
	}
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			name := strings.TrimLeft(args[i], "-")
			if strings.Contains(name, "=") || isBool[name] {
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

// parsePairs splits key=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		out[k] = v
	}
	return out, nil
}

// --- Subcommands ---

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cf := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "Print the decoded result as JSON")
	fs.Parse(reorderArgs(args, "json"))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: studzo ask <screen> <mode> [key=value...]")
		os.Exit(1)
	}
	screen, _, err := analysis.Lookup(fs.Arg(0), fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fields, err := parsePairs(fs.Args()[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()
	profile, err := loadProfile(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sess := features.Open(screen, features.Deps{Client: newClient(cfg), Profile: profile, DB: db})
	defer sess.Close()
	sess.SetFields(fields)

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Timeout())
	defer cancelTimeout()

	fmt.Fprintf(os.Stderr, "%s/%s: pending...\n", fs.Arg(0), fs.Arg(1))
	v, err := features.Run(ctx, sess, fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s/%s: error: %v\n", fs.Arg(0), fs.Arg(1), err)
		var te *types.Error
		if errors.As(err, &te) && te.Raw != "" {
			fmt.Fprintf(os.Stderr, "raw response:\n%s\n", te.Raw)
		}
		os.Exit(1)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(v.Result, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Print(tui.RenderResult(v.Result, 100))
}

type checkResult struct {
	url  string
	risk string
	err  error
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cf := addCommonFlags(fs)
	screenID := fs.String("screen", "jobs", "Screen whose scam check to use (jobs, finance)")
	fs.Parse(reorderArgs(args))

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: studzo check <url>...")
		os.Exit(1)
	}
	screen, _, err := analysis.Lookup(*screenID, "scam-check")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()
	client := newClient(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	urls := fs.Args()
	results := make([]checkResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range urls {
		g.Go(func() error {
			sess := features.Open(screen, features.Deps{Client: client, DB: db})
			defer sess.Close()
			sess.SetField("url", u)

			callCtx, cancel := context.WithTimeout(gctx, cfg.Timeout())
			defer cancel()
			v, err := features.Run(callCtx, sess, "scam-check")
			results[i] = checkResult{url: u, err: err, risk: riskOf(v.Result)}
			// One failed page must not cancel the others.
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("%-10s %s  (%v)\n", "ERROR", r.url, r.err)
			continue
		}
		fmt.Printf("%-10s %s\n", r.risk, r.url)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// riskOf picks the risk verdict out of a scam-check result.
func riskOf(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		if s, ok := v.(string); ok && len(s) < 20 {
			return s
		}
		return "?"
	}
	for _, k := range []string{"risk_level", "risk", "verdict", "scam_likelihood"} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return "?"
}

func runNotify(args []string) {
	if len(args) > 0 && args[0] == "send" {
		runNotifySend(args[1:])
		return
	}

	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	cf := addCommonFlags(fs)
	fs.Parse(args)

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()

	history := toast.NewHistory(storage.Notifications{DB: db}, nil)
	opts := notifyOptions(cfg)
	opts.OnState = func(s types.ConnState) {
		fmt.Fprintf(os.Stderr, "[%s]\n", s)
	}
	ch := notify.New(opts)

	// Handlers run on the channel's read goroutine; the lock keeps output
	// lines whole.
	var mu sync.Mutex
	ch.Subscribe(func(ev types.Event) {
		history.Append(ev)
		mu.Lock()
		fmt.Printf("%s [%s] %s\n", ev.ReceivedAt.Format(time.TimeOnly), ev.Category, ev.Message)
		mu.Unlock()
	})

	ctx, cancel := signalContext()
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Listening on %s (ctrl+c to stop)\n", opts.URL)

	select {
	case <-ctx.Done():
		ch.Close()
	case <-ch.Done():
		err := ch.Err()
		ch.Close()
		if ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func runNotifySend(args []string) {
	fs := flag.NewFlagSet("notify send", flag.ExitOnError)
	cf := addCommonFlags(fs)
	category := fs.String("type", "info", "Notification type")
	fs.Parse(reorderArgs(args))

	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		fmt.Fprintln(os.Stderr, "Usage: studzo notify send [--type T] <message>")
		os.Exit(1)
	}

	cfg := mustConfig(cf)
	defer applog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()
	if err := newClient(cfg).SendNotification(ctx, cfg.UserID, message, *category); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent to user %d.\n", cfg.UserID)
}

func runHistory(args []string) {
	clearAll := len(args) > 0 && args[0] == "clear"
	if clearAll {
		args = args[1:]
	}

	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cf := addCommonFlags(fs)
	limit := fs.Int("limit", 50, "Number of notifications to show (0 = all)")
	fs.Parse(args)

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()

	if clearAll {
		if err := (storage.Notifications{DB: db}).ClearNotifications(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Notification history cleared.")
		return
	}

	events, err := storage.ListNotifications(db, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("No notifications.")
		return
	}
	for _, ev := range events {
		fmt.Printf("%s [%s] %s\n", ev.ReceivedAt.Local().Format("2006-01-02 15:04"), ev.Category, ev.Message)
	}
}

func runProfile(args []string) {
	sub := "show"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	cf := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()

	profile, _, err := storage.LoadProfile(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch sub {
	case "show":
		fields := profile.Fields()
		for _, k := range []string{"name", "university", "home_country", "host_country", "major", "habits", "interests", "language"} {
			fmt.Printf("%-13s %s\n", k, fields[k])
		}
	case "set":
		pairs, err := parsePairs(fs.Args())
		if err != nil || len(pairs) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: studzo profile set key=value...")
			os.Exit(1)
		}
		for k, v := range pairs {
			if err := profile.Set(k, v); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if err := storage.SaveProfile(db, profile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Profile saved.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown profile command %q (use show or set)\n", sub)
		os.Exit(1)
	}
}

func runLog(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	cf := addCommonFlags(fs)
	screen := fs.String("screen", "", "Only show calls of this screen")
	limit := fs.Int("limit", 20, "Number of calls to show (0 = all)")
	raw := fs.Bool("raw", false, "Print raw response bodies")
	fs.Parse(args)

	cfg := mustConfig(cf)
	db := mustOpenDB(cfg)
	defer db.Close()
	defer applog.Close()

	calls, err := storage.ListCalls(db, *screen, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(calls) == 0 {
		fmt.Println("No calls recorded.")
		return
	}
	for _, c := range calls {
		line := fmt.Sprintf("%s  %-28s %-8s %6dms", c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			c.Screen+"/"+c.Mode, c.Status, c.Elapsed.Milliseconds())
		if c.ErrorKind != "" {
			line += "  " + c.ErrorKind
		}
		fmt.Println(line)
		if *raw && len(c.Raw) > 0 {
			fmt.Printf("    %s\n", c.Raw)
		}
	}
}

func runScreens() {
	for i, s := range analysis.Catalog {
		fmt.Printf("%d %s (%s)\n", i+1, s.Title, s.ID)
		for _, m := range s.Modes {
			var names []string
			for _, f := range m.Fields {
				names = append(names, f.Name)
			}
			fmt.Printf("    %-12s %-24s %s\n", m.ID, m.Title, strings.Join(names, ", "))
		}
	}
}
