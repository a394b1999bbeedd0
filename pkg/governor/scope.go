package governor

import "unq/pkg/result"

// Scoped is the view of a governor handed to a scoped block. It can only
// submit calls whose result is kept; lifecycle stays with the scope.
type Scoped struct {
	g *Governor
}

// Submit enqueues fn and returns its handle.
func (s *Scoped) Submit(fn Callable, args ...any) *result.Handle {
	return s.g.Go(fn, args...)
}

// Acquire starts a stopped governor and returns a release func that stops
// it. It fails with ErrAlreadyRunning, without side effects, when the
// governor is already running. Release is idempotent.
func (g *Governor) Acquire() (*Scoped, func(), error) {
	g.lmu.Lock()
	started := g.startLocked()
	g.lmu.Unlock()
	if !started {
		return nil, nil, ErrAlreadyRunning
	}
	released := false
	release := func() {
		g.lmu.Lock()
		defer g.lmu.Unlock()
		if released {
			return
		}
		released = true
		g.stopLocked()
	}
	return &Scoped{g: g}, release, nil
}

// Scope runs fn with the governor started and stops it when fn returns or
// panics. A panic is re-raised after the governor has stopped.
func (g *Governor) Scope(fn func(s *Scoped) error) error {
	s, release, err := g.Acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}
