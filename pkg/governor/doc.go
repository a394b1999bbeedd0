// Package governor paces calls: callers submit work, a single dispatch
// goroutine hands it to an execution pool in submission order, spacing
// dispatches by the configured repetition interval.
//
// # Overview
//
//	g, _ := governor.New(interval.PerHour(3))
//	g.Start()
//	defer g.Stop()
//
//	t := g.Submit(governor.Func(fetch), governor.A("https://example.com"), governor.Keep)
//	h, _ := t.Handle()
//	v, err := h.Wait(ctx)
//
// # Submission
//
// Submit never blocks and never fails synchronously. It may be called before
// Start (records queue up) and after Stop (records wait for the next Start).
// With Keep the caller gets a result.Handle; with Discard no handle is
// allocated and a failing call is swallowed. The queue is unbounded.
//
// # Dispatch
//
// While running, the dispatcher waits for work, pops the oldest record, hands
// it to the pool without waiting for it, then sleeps the current interval
// (read fresh each time). The interval spaces dispatches, not completions.
// The pool is bounded, so a saturated pool delays dispatch.
//
// # Execution
//
// Func runs directly on a pool goroutine. AsyncFunc returns a handle of its
// own; the pool goroutine drives it to completion on a context created for
// that one call and cancels the context afterwards. Panics become failures.
// Handles settle on the Executor passed with WithExecutor.
//
// # Lifecycle
//
// Start and Stop are idempotent. Stop wakes the dispatcher and waits for it to
// exit; already dispatched calls keep running (use Wait to drain them).
// Scope runs a block with the governor started and always stops it on exit.
package governor
