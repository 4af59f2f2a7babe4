package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/types"
	"nhooyr.io/websocket"
)

const (
	// DefaultBackoff is the fixed delay between reconnect attempts.
	DefaultBackoff   = 3 * time.Second
	defaultReadLimit = 1 << 20
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("notify: channel closed")

// Options configures a Channel.
type Options struct {
	// URL is the full websocket URL of the user's notification stream.
	URL string
	// Backoff is the delay before reconnecting after the connection closes.
	Backoff time.Duration
	// MaxAttempts bounds consecutive failed connection attempts. Zero
	// retries forever.
	MaxAttempts int
	// Now stamps ReceivedAt. Defaults to time.Now.
	Now func() time.Time
	// OnState is called on every state transition.
	OnState func(types.ConnState)
	// Dial overrides the websocket dial options.
	Dial *websocket.DialOptions
}

// Handler receives events.
type Handler func(types.Event)

type subscriber struct {
	id int
	fn Handler
}

// Channel keeps a best-effort connection to the notification source and
// fans decoded events out to subscribers in receipt order.
type Channel struct {
	opts Options

	mu      sync.Mutex
	state   types.ConnState
	subs    []subscriber
	nextSub int
	nextID  int64
	err     error
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// URL builds the notification stream URL for userID from a websocket base
// such as ws://localhost:8000/api/v1.
func URL(base, userID string) string {
	return strings.TrimRight(base, "/") + "/ai/notifications/" + url.PathEscape(userID)
}

// New creates a channel in the Closed state. Call Start to connect.
func New(opts Options) *Channel {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{opts: opts, state: types.ConnClosed, done: make(chan struct{})}
}

// Subscribe registers fn and returns a function that removes it. Handlers
// run on the channel's read goroutine and must not block for long.
func (c *Channel) Subscribe(fn Handler) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns the connection state.
func (c *Channel) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports a ChannelDisconnected error while the channel is not open.
// Once reconnect attempts are exhausted the error is terminal.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.state == types.ConnOpen {
		return nil
	}
	return types.Errorf(types.KindChannelDisconnected, "notification channel %s", c.state)
}

// Done is closed when the channel stops for good.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Start connects in the background and keeps reconnecting until ctx is
// cancelled, Close is called or attempts are exhausted.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Close stops the channel permanently and waits for the connection to end.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if !started {
		close(c.done)
		return
	}
	cancel()
	<-c.done
	applog.Info("ws.closed")
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(types.ConnClosed)

	failures := 0
	for {
		c.setState(types.ConnConnecting)
		conn, _, err := websocket.Dial(ctx, c.opts.URL, c.opts.Dial)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			applog.Error("ws.dial", err, "url", c.opts.URL, "attempt", failures)
		} else {
			failures = 0
			c.setState(types.ConnOpen)
			applog.Info("ws.connected", "url", c.opts.URL)
			c.readLoop(ctx, conn)
		}

		c.setState(types.ConnClosed)
		if ctx.Err() != nil {
			return
		}
		if c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts {
			c.mu.Lock()
			c.err = &types.Error{
				Kind: types.KindChannelDisconnected,
				Msg:  fmt.Sprintf("gave up after %d attempts", failures),
				Err:  err,
			}
			c.mu.Unlock()
			applog.Error("ws.exhausted", err, "attempts", failures)
			return
		}

		t := time.NewTimer(c.opts.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(defaultReadLimit)
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			applog.Info("ws.disconnected", "reason", err.Error())
			return
		}
		msg, err := parseMessage(data)
		if err != nil {
			applog.Error("ws.parse", err, "bytes", len(data))
			continue
		}
		c.deliver(msg)
	}
}

func (c *Channel) deliver(msg message) {
	c.mu.Lock()
	c.nextID++
	ev := types.Event{
		ID:         c.nextID,
		Message:    msg.Message,
		Category:   msg.Category,
		ReceivedAt: c.opts.Now(),
	}
	subs := append([]subscriber(nil), c.subs...)
	c.mu.Unlock()

	applog.Info("ws.recv", "id", ev.ID, "category", ev.Category)
	for _, s := range subs {
		s.fn(ev)
	}
}

func (c *Channel) setState(s types.ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

type message struct {
	Message  string
	Category string
}

type wireMessage struct {
	Message  *string `json:"message"`
	Type     string  `json:"type"`
	Category string  `json:"category"`
}

// parseMessage decodes a notification frame. A frame without a string
// message is malformed; a missing type defaults to "info".
func parseMessage(data []byte) (message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return message{}, fmt.Errorf("decode notification: %w", err)
	}
	if w.Message == nil || strings.TrimSpace(*w.Message) == "" {
		return message{}, errors.New("notification has no message")
	}
	category := w.Type
	if category == "" {
		category = w.Category
	}
	if category == "" {
		category = "info"
	}
	return message{Message: *w.Message, Category: category}, nil
}
