package result

import (
	"sync"
)

// Executor is the scheduling context a Handle settles on.
//
// Post must be safe to call from any goroutine and must run fn exactly once.
// Posts from a single goroutine run in the order they were made.
type Executor interface {
	Post(fn func())
}

type inline struct{}

func (inline) Post(fn func()) { fn() }

// Inline runs posted functions immediately on the posting goroutine.
var Inline Executor = inline{}

// Loop is a serial executor: one goroutine runs posted functions in order.
//
// It is the Go stand-in for an event loop a caller lives on. Posting after
// Close runs fn on the posting goroutine so a settlement is never lost.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewLoop starts a Loop.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fn()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.cond.Signal()
}

// Close stops accepting work, runs what is already queued, and waits for the
// loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
