// Package toast holds the presentation state derived from notifications:
// short-lived toasts and the persistent history.
package toast

import (
	"sync"
	"time"

	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/types"
)

// DefaultDuration is how long a toast stays on screen.
const DefaultDuration = 5 * time.Second

// Entry is a toast with its removal deadline.
type Entry struct {
	types.Event
	Expires time.Time
}

// Queue shows each event for a fixed duration. Entries expire independently;
// new events never extend older ones.
type Queue struct {
	mu       sync.Mutex
	duration time.Duration
	now      func() time.Time
	entries  []Entry
}

// NewQueue creates a queue. A nil clock means time.Now.
func NewQueue(duration time.Duration, now func() time.Time) *Queue {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{duration: duration, now: now}
}

// Duration returns the display duration.
func (q *Queue) Duration() time.Duration { return q.duration }

// Push appends ev, visible until now+duration.
func (q *Queue) Push(ev types.Event) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := Entry{Event: ev, Expires: q.now().Add(q.duration)}
	q.entries = append(q.entries, e)
	return e
}

// Visible prunes expired entries and returns the rest, oldest first.
func (q *Queue) Visible() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	return append([]Entry(nil), q.entries...)
}

// Expire prunes expired entries and returns how many were removed.
func (q *Queue) Expire() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneLocked()
}

// Next returns the time until the earliest expiry, or false when empty.
func (q *Queue) Next() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0, false
	}
	d := q.entries[0].Expires.Sub(q.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len returns the number of entries, including any not yet pruned.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// pruneLocked drops entries whose deadline has been reached. Entries are in
// push order and share one duration, so deadlines are non-decreasing.
func (q *Queue) pruneLocked() int {
	now := q.now()
	n := 0
	for n < len(q.entries) && !now.Before(q.entries[n].Expires) {
		n++
	}
	if n > 0 {
		q.entries = append(q.entries[:0], q.entries[n:]...)
	}
	return n
}

// Store persists history across runs.
type Store interface {
	AppendNotification(ev types.Event) error
	ClearNotifications() error
}

// History keeps every event until ClearAll.
type History struct {
	mu     sync.Mutex
	store  Store
	events []types.Event
}

// NewHistory creates a history seeded with previously stored events. store
// may be nil.
func NewHistory(store Store, seed []types.Event) *History {
	return &History{store: store, events: append([]types.Event(nil), seed...)}
}

// Append records ev.
func (h *History) Append(ev types.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	if h.store != nil {
		if err := h.store.AppendNotification(ev); err != nil {
			applog.Error("history.persist", err, "id", ev.ID)
		}
	}
}

// All returns the events in arrival order.
func (h *History) All() []types.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Event(nil), h.events...)
}

// Len returns the number of events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// ClearAll empties the history. Calling it again is a no-op.
func (h *History) ClearAll() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
	if h.store != nil {
		if err := h.store.ClearNotifications(); err != nil {
			applog.Error("history.clear", err)
		}
	}
}

// Feed copies every delivered event into a toast queue and a history.
type Feed struct {
	Toasts  *Queue
	History *History
}

// Deliver is a notification subscriber.
func (f *Feed) Deliver(ev types.Event) {
	if f.Toasts != nil {
		f.Toasts.Push(ev)
	}
	if f.History != nil {
		f.History.Append(ev)
	}
}
