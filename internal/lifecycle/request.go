package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Completion is the outcome of a finished call, waiting to be applied on the
// owner's loop. Completions of different lifecycles share this interface so
// a single event loop can route them.
type Completion interface {
	// Apply updates the owning lifecycle. It reports false when the
	// completion was stale and discarded.
	Apply() bool
	// Token is the dispatch token the call was issued under.
	Token() uint64
}

// Request is one accepted dispatch. Run issues the remote call.
type Request[In, Out any] struct {
	lc    *Lifecycle[In, Out]
	token uint64
	input In

	once sync.Once
	done *Result[In, Out]
}

// Token returns the dispatch token.
func (r *Request[In, Out]) Token() uint64 { return r.token }

// Input returns the input snapshot taken at dispatch.
func (r *Request[In, Out]) Input() In { return r.input }

// Run performs the call and returns its completion. The call is issued at
// most once; later Runs return the same completion.
func (r *Request[In, Out]) Run(ctx context.Context) Completion {
	r.once.Do(func() {
		start := time.Now()
		raw, err := r.lc.opts.Call(ctx, r.input)
		r.done = &Result[In, Out]{
			lc:      r.lc,
			token:   r.token,
			Raw:     raw,
			Err:     err,
			Elapsed: time.Since(start),
		}
	})
	return r.done
}

// Result is the completion of a Request.
type Result[In, Out any] struct {
	lc    *Lifecycle[In, Out]
	token uint64

	Raw     []byte
	Err     error
	Elapsed time.Duration
}

// Apply implements Completion.
func (c *Result[In, Out]) Apply() bool { return c.lc.resolve(c) }

// Token implements Completion.
func (c *Result[In, Out]) Token() uint64 { return c.token }
