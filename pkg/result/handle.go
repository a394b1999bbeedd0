package result

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadySettled is the panic value raised when a Handle is settled twice.
	ErrAlreadySettled = errors.New("result handle already settled")
	// ErrNilFailure replaces a nil error passed to Fail.
	ErrNilFailure = errors.New("call failed with nil error")
)

type State int32

const (
	Pending State = iota
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the settled value of a Handle. Err is non-nil iff the call failed.
type Outcome struct {
	Value any
	Err   error
}

// Handle is a one-shot container for the outcome of an asynchronously
// executed call.
//
// One goroutine settles it (Resolve or Fail); any number of goroutines may
// wait on it or attach continuations. The transition is posted to the
// Handle's Executor, so awaiters living on that executor see it in order
// with their other work.
type Handle struct {
	exec    Executor
	claimed atomic.Bool

	mu    sync.Mutex
	state State
	out   Outcome
	thens []func(Outcome)
	done  chan struct{}
}

// New returns a pending Handle that settles on exec (Inline when nil).
func New(exec Executor) *Handle {
	if exec == nil {
		exec = Inline
	}
	return &Handle{exec: exec, done: make(chan struct{})}
}

// Resolve settles the handle with a value. It panics with ErrAlreadySettled
// if the handle was already settled.
func (h *Handle) Resolve(v any) { h.settle(Outcome{Value: v}) }

// Fail settles the handle with an error. It panics with ErrAlreadySettled if
// the handle was already settled.
func (h *Handle) Fail(err error) {
	if err == nil {
		err = ErrNilFailure
	}
	h.settle(Outcome{Err: err})
}

// Settle resolves or fails the handle depending on o.Err.
func (h *Handle) Settle(o Outcome) {
	if o.Err != nil {
		h.Fail(o.Err)
		return
	}
	h.Resolve(o.Value)
}

func (h *Handle) settle(o Outcome) {
	// Claim synchronously so a double settle panics on the offending
	// goroutine rather than somewhere on the executor.
	if !h.claimed.CompareAndSwap(false, true) {
		panic(ErrAlreadySettled)
	}
	h.exec.Post(func() { h.commit(o) })
}

func (h *Handle) commit(o Outcome) {
	h.mu.Lock()
	if o.Err != nil {
		h.state = Failed
	} else {
		h.state = Resolved
	}
	h.out = o
	thens := h.thens
	h.thens = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range thens {
		fn(o)
	}
}

// Done is closed once the handle is settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome returns the settled outcome, or false while pending.
func (h *Handle) Outcome() (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Pending {
		return Outcome{}, false
	}
	return h.out, true
}

// Wait blocks until the handle settles or ctx is done. There is no built-in
// timeout; pass a context with a deadline for one.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	o := h.out
	h.mu.Unlock()
	return o.Value, o.Err
}

// Then attaches a continuation that runs on the handle's executor once the
// handle settles. Attaching to an already settled handle posts fn right away.
func (h *Handle) Then(fn func(Outcome)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.state == Pending {
		h.thens = append(h.thens, fn)
		h.mu.Unlock()
		return
	}
	o := h.out
	h.mu.Unlock()
	h.exec.Post(func() { fn(o) })
}

// Await waits on h and asserts the value to T.
func Await[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	v, err := h.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("result: value is %T, not %T", v, zero)
	}
	return t, nil
}

// ResolvedWith returns a handle already resolved with v.
func ResolvedWith(v any) *Handle {
	h := New(Inline)
	h.Resolve(v)
	return h
}

// FailedWith returns a handle already failed with err.
func FailedWith(err error) *Handle {
	h := New(Inline)
	h.Fail(err)
	return h
}

// Go runs fn on a new goroutine and returns a handle settled on exec with its
// outcome. A panic in fn fails the handle.
func Go(ctx context.Context, exec Executor, fn func(ctx context.Context) (any, error)) *Handle {
	h := New(exec)
	go func() {
		var out Outcome
		defer func() {
			if r := recover(); r != nil {
				out = Outcome{Err: fmt.Errorf("result: panic: %v", r)}
			}
			h.Settle(out)
		}()
		v, err := fn(ctx)
		out = Outcome{Value: v, Err: err}
	}()
	return h
}
