// Package session binds one screen's form to the request lifecycles of its
// modes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/lifecycle"
	"github.com/lotas/studzo/internal/types"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("session: closed")
	// ErrUnknownMode is returned for modes the session does not own.
	ErrUnknownMode = errors.New("session: unknown mode")
)

// Form is a snapshot of field values.
type Form map[string]string

// Job is a dispatched call; Run issues it and returns the completion to
// apply on the owner's loop.
type Job interface {
	Run(ctx context.Context) lifecycle.Completion
	Token() uint64
}

// View is what a screen renders for a mode.
type View struct {
	Mode   string
	Status types.Status
	Result any
	Err    *types.Error
	Token  uint64
}

// Binding connects a mode to its lifecycle.
type Binding interface {
	submit(form Form) (Job, error)
	retry() (Job, error)
	reset()
	view() View
}

type binding[In, Out any] struct {
	mode  string
	lc    *lifecycle.Lifecycle[In, Out]
	build func(Form) In
}

// Bind adapts a lifecycle to a session mode. build turns the form snapshot
// taken at submit time into the lifecycle input.
func Bind[In, Out any](mode string, lc *lifecycle.Lifecycle[In, Out], build func(Form) In) Binding {
	return &binding[In, Out]{mode: mode, lc: lc, build: build}
}

func (b *binding[In, Out]) submit(form Form) (Job, error) {
	req, err := b.lc.Dispatch(b.build(form))
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (b *binding[In, Out]) retry() (Job, error) {
	req, err := b.lc.Retry()
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (b *binding[In, Out]) reset() { b.lc.Reset() }

func (b *binding[In, Out]) view() View {
	s := b.lc.Snapshot()
	v := View{Mode: b.mode, Status: s.Status, Err: s.Err, Token: s.Token}
	if s.Status == types.StatusSuccess {
		v.Result = s.Result
	}
	return v
}

// Session is one mounted screen.
type Session struct {
	name string

	mu       sync.Mutex
	modes    []string
	bindings map[string]Binding
	active   string
	form     Form
	closed   bool
}

// New creates a session. The first mode added becomes active.
func New(name string) *Session {
	return &Session{
		name:     name,
		bindings: make(map[string]Binding),
		form:     make(Form),
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Add registers the binding for mode.
func (s *Session) Add(mode string, b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[mode]; !ok {
		s.modes = append(s.modes, mode)
	}
	s.bindings[mode] = b
	if s.active == "" {
		s.active = mode
	}
}

// Modes returns the registered modes in order.
func (s *Session) Modes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.modes...)
}

// SelectMode makes mode active. Other modes keep their state, including
// pending calls.
func (s *Session) SelectMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[mode]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	s.active = mode
	return nil
}

// ActiveMode returns the selected mode.
func (s *Session) ActiveMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetField sets one form field.
func (s *Session) SetField(name, value string) {
	s.mu.Lock()
	s.form[name] = value
	s.mu.Unlock()
}

// SetFields merges fields into the form.
func (s *Session) SetFields(fields map[string]string) {
	s.mu.Lock()
	for k, v := range fields {
		s.form[k] = v
	}
	s.mu.Unlock()
}

// Field returns one form field.
func (s *Session) Field(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form[name]
}

// Form returns a copy of the form.
func (s *Session) Form() Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Form {
	f := make(Form, len(s.form))
	for k, v := range s.form {
		f[k] = v
	}
	return f
}

// Submit dispatches mode with the current form. A ValidationRejected error
// means nothing was dispatched and the mode's state is unchanged.
func (s *Session) Submit(mode string) (Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	b, ok := s.bindings[mode]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	form := s.snapshot()
	s.mu.Unlock()

	job, err := b.submit(form)
	if err != nil {
		applog.Info("session.rejected", "session", s.name, "mode", mode, "reason", err.Error())
		return nil, err
	}
	return job, nil
}

// Retry re-dispatches mode with the input of its last dispatch.
func (s *Session) Retry(mode string) (Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	b, ok := s.bindings[mode]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	return b.retry()
}

// Active returns the view of the active mode. It is the only view a screen
// should render.
func (s *Session) Active() View {
	s.mu.Lock()
	b := s.bindings[s.active]
	s.mu.Unlock()
	if b == nil {
		return View{}
	}
	return b.view()
}

// Status returns the status of any mode, for indicators on inactive tabs.
func (s *Session) Status(mode string) types.Status {
	s.mu.Lock()
	b := s.bindings[mode]
	s.mu.Unlock()
	if b == nil {
		return types.StatusIdle
	}
	return b.view().Status
}

// Close tears the session down. Every lifecycle is reset so completions
// arriving later are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	bindings := make([]Binding, 0, len(s.bindings))
	for _, m := range s.modes {
		bindings = append(bindings, s.bindings[m])
	}
	s.mu.Unlock()

	for _, b := range bindings {
		b.reset()
	}
	applog.Info("session.closed", "session", s.name)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
