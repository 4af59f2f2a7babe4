// Package lifecycle tracks one outstanding asynchronous call and its last
// known outcome.
//
// Every Dispatch takes a new token. A completion is applied only while its
// token is still current, so a slow response to an earlier dispatch can never
// overwrite the outcome of a later one, and Reset discards whatever is in
// flight.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/decode"
	"github.com/lotas/studzo/internal/types"
)

// Caller performs the remote call for one dispatch and returns the raw body.
type Caller[In any] func(ctx context.Context, in In) ([]byte, error)

// Validator rejects inputs before anything is dispatched.
type Validator[In any] func(in In) error

// Decoder turns a raw body into a result.
type Decoder[Out any] func(raw []byte) (Out, error)

// Applied describes a completion that changed lifecycle state.
type Applied struct {
	Name    string
	Token   uint64
	Status  types.Status
	Raw     []byte
	Err     *types.Error
	Elapsed time.Duration
}

// Options configures a Lifecycle. Call is required.
type Options[In, Out any] struct {
	Name     string
	Call     Caller[In]
	Validate Validator[In]
	Decode   Decoder[Out] // default decode.Decode[Out]

	// OnChange runs after every state transition, outside the lock.
	OnChange func()
	// OnApply runs after a completion is applied, outside the lock.
	OnApply func(Applied)
}

// Snapshot is a consistent copy of lifecycle state.
type Snapshot[In, Out any] struct {
	Status types.Status
	Input  In
	Result Out
	Err    *types.Error
	Token  uint64
}

// Lifecycle is the request state machine {Idle, Pending, Success, Error}.
type Lifecycle[In, Out any] struct {
	opts Options[In, Out]

	mu       sync.Mutex
	status   types.Status
	input    In
	hasInput bool
	result   Out
	err      *types.Error
	token    uint64
}

// ErrNothingToRetry is returned by Retry before the first dispatch.
var ErrNothingToRetry = errors.New("lifecycle: nothing to retry")

// New creates an idle lifecycle.
func New[In, Out any](opts Options[In, Out]) *Lifecycle[In, Out] {
	if opts.Decode == nil {
		opts.Decode = decode.Decode[Out]
	}
	if opts.Call == nil {
		panic("lifecycle: Options.Call is required")
	}
	return &Lifecycle[In, Out]{opts: opts}
}


// Dispatch validates in and, if accepted, moves to Pending under a fresh
// token. The returned Request issues the call when run. A rejected input
// leaves the lifecycle untouched and returns a ValidationRejected error.
func (l *Lifecycle[In, Out]) Dispatch(in In) (*Request[In, Out], error) {
	if l.opts.Validate != nil {
		if err := l.opts.Validate(in); err != nil {
			applog.Info("lifecycle.rejected", "name", l.opts.Name, "reason", err.Error())
			var te *types.Error
			if errors.As(err, &te) && te.Kind == types.KindValidationRejected {
				return nil, te
			}
			return nil, &types.Error{Kind: types.KindValidationRejected, Msg: err.Error(), Err: err}
		}
	}

	l.mu.Lock()
	l.token++
	token := l.token
	var zero Out
	l.status = types.StatusPending
	l.input = in
	l.hasInput = true
	l.result = zero
	l.err = nil
	l.mu.Unlock()

	applog.Info("lifecycle.dispatch", "name", l.opts.Name, "token", token)
	l.changed()
	return &Request[In, Out]{lc: l, token: token, input: in}, nil
}

// Retry dispatches the most recent input again.
func (l *Lifecycle[In, Out]) Retry() (*Request[In, Out], error) {
	l.mu.Lock()
	in, ok := l.input, l.hasInput
	l.mu.Unlock()
	if !ok {
		return nil, ErrNothingToRetry
	}
	return l.Dispatch(in)
}

// Reset returns to Idle and invalidates the current token.
func (l *Lifecycle[In, Out]) Reset() {
	l.mu.Lock()
	l.token++
	var zeroIn In
	var zeroOut Out
	l.status = types.StatusIdle
	l.input = zeroIn
	l.hasInput = false
	l.result = zeroOut
	l.err = nil
	l.mu.Unlock()
	l.changed()
}

// Snapshot returns a copy of the current state.
func (l *Lifecycle[In, Out]) Snapshot() Snapshot[In, Out] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot[In, Out]{
		Status: l.status,
		Input:  l.input,
		Result: l.result,
		Err:    l.err,
		Token:  l.token,
	}
}

// Status returns the current status.
func (l *Lifecycle[In, Out]) Status() types.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Token returns the current token.
func (l *Lifecycle[In, Out]) Token() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

func (l *Lifecycle[In, Out]) resolve(c *Result[In, Out]) bool {
	l.mu.Lock()
	if c.token != l.token || l.status != types.StatusPending {
		current := l.token
		l.mu.Unlock()
		applog.Info("lifecycle.stale", "name", l.opts.Name, "token", c.token, "current", current)
		return false
	}

	if c.Err != nil {
		l.status = types.StatusError
		l.err = transportError(c.Err)
	} else if out, err := l.opts.Decode(c.Raw); err != nil {
		l.status = types.StatusError
		l.err = malformedError(err, c.Raw)
	} else {
		l.status = types.StatusSuccess
		l.result = out
	}
	applied := Applied{
		Name:    l.opts.Name,
		Token:   c.token,
		Status:  l.status,
		Raw:     c.Raw,
		Err:     l.err,
		Elapsed: c.Elapsed,
	}
	l.mu.Unlock()

	if applied.Err != nil {
		applog.Error("lifecycle.applied", applied.Err, "name", l.opts.Name, "token", c.token, "status", applied.Status.String())
	} else {
		applog.Info("lifecycle.applied", "name", l.opts.Name, "token", c.token, "status", applied.Status.String(), "elapsed", c.Elapsed)
	}
	if l.opts.OnApply != nil {
		l.opts.OnApply(applied)
	}
	l.changed()
	return true
}

func (l *Lifecycle[In, Out]) changed() {
	if l.opts.OnChange != nil {
		l.opts.OnChange()
	}
}

func transportError(err error) *types.Error {
	var te *types.Error
	if errors.As(err, &te) && te.Kind == types.KindTransportFailure {
		return te
	}
	return &types.Error{Kind: types.KindTransportFailure, Msg: "request failed", Err: err}
}

func malformedError(err error, raw []byte) *types.Error {
	var te *types.Error
	if errors.As(err, &te) && te.Kind == types.KindMalformedResponse {
		return te
	}
	return &types.Error{Kind: types.KindMalformedResponse, Msg: "could not decode response", Raw: string(raw), Err: err}
}
