package governor

import (
	"maps"
	"slices"
	"time"

	"unq/pkg/result"
)

// Args holds the positional and keyword arguments of a call.
type Args struct {
	Pos []any
	Kw  map[string]any
}

// A builds Args from positional values.
func A(pos ...any) Args { return Args{Pos: pos} }

// With returns a copy of a with keyword k set to v.
func (a Args) With(k string, v any) Args {
	out := a.clone()
	if out.Kw == nil {
		out.Kw = map[string]any{}
	}
	out.Kw[k] = v
	return out
}

// Arg returns the i-th positional argument, or nil when out of range.
func (a Args) Arg(i int) any {
	if i < 0 || i >= len(a.Pos) {
		return nil
	}
	return a.Pos[i]
}

func (a Args) Kwarg(k string) (any, bool) {
	v, ok := a.Kw[k]
	return v, ok
}

func (a Args) clone() Args {
	return Args{Pos: slices.Clone(a.Pos), Kw: maps.Clone(a.Kw)}
}

// ResultMode says whether Submit keeps a handle to the call's outcome.
type ResultMode int

const (
	// Discard runs the call fire-and-forget; failures are swallowed.
	Discard ResultMode = iota
	// Keep allocates a result.Handle the caller can wait on.
	Keep
)

func (m ResultMode) String() string {
	if m == Keep {
		return "keep"
	}
	return "discard"
}

// Ticket is what Submit returns: either a handle (Keep) or nothing (Discard).
type Ticket struct {
	id string
	h  *result.Handle
}

func (t Ticket) ID() string { return t.id }

// Handle returns the call's handle and true, or nil and false for a
// fire-and-forget submission.
func (t Ticket) Handle() (*result.Handle, bool) { return t.h, t.h != nil }

// CallInfo identifies a call in events, history and discard reports.
type CallInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Seq      uint64    `json:"seq"`
	Enqueued time.Time `json:"enqueued"`
}

// call is one queued unit of work. It is immutable once built, owned by the
// queue until dispatched, then by exactly one pool goroutine.
type call struct {
	info   CallInfo
	fn     Callable
	args   Args
	handle *result.Handle
}

// fifo is an unbounded queue guarded by the governor's queue mutex.
type fifo struct {
	items []*call
	head  int
}

func (q *fifo) len() int { return len(q.items) - q.head }

func (q *fifo) push(c *call) { q.items = append(q.items, c) }

func (q *fifo) pop() *call {
	if q.len() == 0 {
		return nil
	}
	c := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return c
}

// pushFront returns a popped record to the head of the queue.
func (q *fifo) pushFront(c *call) {
	if q.head > 0 {
		q.head--
		q.items[q.head] = c
		return
	}
	q.items = append([]*call{c}, q.items...)
}
