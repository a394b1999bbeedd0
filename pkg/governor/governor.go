package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"unq/internal/eventbus"
	"unq/internal/runtime/supervisor"
	"unq/pkg/interval"
	logx "unq/pkg/logx"
	"unq/pkg/result"
)

// Governor dispatches submitted calls in FIFO order, at most one per
// interval, onto a bounded pool.
//
// The queue, the stopped flag and the interval are guarded independently so
// that submitting, querying state and changing the pace never wait on one
// another.
type Governor struct {
	log       logx.Logger
	bus       eventbus.Bus
	exec      result.Executor
	base      context.Context
	onDiscard func(CallInfo, error)

	poolSize int
	pool     *semaphore.Weighted
	inFlight atomic.Int64

	qmu   sync.Mutex
	qcond *sync.Cond
	queue fifo
	seq   uint64

	smu     sync.Mutex
	stopped bool

	imu     sync.RWMutex
	seconds float64

	// lmu serializes Start, Stop and Acquire.
	lmu sync.Mutex
	sup atomic.Pointer[supervisor.Supervisor]

	// Written only by the dispatch goroutine; runs are joined before the
	// next one starts.
	lastAt time.Time

	submitted, dispatched, completed, failed, discarded atomic.Uint64

	historySize int
	hmu         sync.Mutex
	history     []HistoryItem
}

// New returns a stopped governor pacing calls at the interval described by
// spec (see interval.Resolve). An invalid spec returns an
// *interval.InvalidIntervalError.
func New(spec any, opts ...Option) (*Governor, error) {
	seconds, err := interval.Resolve(spec)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	g := &Governor{
		log:         o.log.With(logx.String("comp", "governor")),
		bus:         o.bus,
		exec:        o.exec,
		base:        o.base,
		onDiscard:   o.onDiscard,
		poolSize:    o.poolSize,
		pool:        semaphore.NewWeighted(int64(o.poolSize)),
		stopped:     true,
		seconds:     seconds,
		historySize: o.historySize,
	}
	g.qcond = sync.NewCond(&g.qmu)
	return g, nil
}

// Submit enqueues fn with a private copy of args. It never blocks and never
// fails; errors surface through the ticket's handle when mode is Keep.
func (g *Governor) Submit(fn Callable, args Args, mode ResultMode) Ticket {
	c := &call{
		info: CallInfo{
			ID:       uuid.NewString(),
			Name:     nameOf(fn),
			Enqueued: time.Now(),
		},
		fn:   fn,
		args: args.clone(),
	}
	if mode == Keep {
		c.handle = result.New(g.exec)
	}

	g.qmu.Lock()
	g.seq++
	c.info.Seq = g.seq
	g.queue.push(c)
	g.qcond.Signal()
	g.qmu.Unlock()

	g.submitted.Add(1)
	g.publish(EventEnqueued, CallEvent{CallInfo: c.info, Mode: mode.String()})
	return Ticket{id: c.info.ID, h: c.handle}
}

// Go submits fn with Keep and returns its handle.
func (g *Governor) Go(fn Callable, args ...any) *result.Handle {
	h, _ := g.Submit(fn, A(args...), Keep).Handle()
	return h
}

// SubmitFunc submits fn with Discard.
func (g *Governor) SubmitFunc(fn Callable, args ...any) Ticket {
	return g.Submit(fn, A(args...), Discard)
}

// Start launches the dispatcher. It is a no-op when already running.
func (g *Governor) Start() {
	g.lmu.Lock()
	defer g.lmu.Unlock()
	g.startLocked()
}

func (g *Governor) startLocked() bool {
	g.smu.Lock()
	if !g.stopped {
		g.smu.Unlock()
		return false
	}
	g.stopped = false
	g.smu.Unlock()

	// The base context parents calls only; the dispatcher stops on Stop.
	sup := supervisor.New(context.WithoutCancel(g.base), supervisor.WithLogger(g.log))
	g.sup.Store(sup)
	sup.Go0("dispatch", g.dispatchLoop)

	secs := g.Interval()
	queued := g.Queued()
	g.log.Info("governor started",
		logx.Float64("interval", secs),
		logx.Int("pool_size", g.poolSize),
		logx.Int("queued", queued),
	)
	g.publish(EventStarted, LifecycleEvent{Interval: secs, Queued: queued})
	return true
}

// Stop signals the dispatcher and waits for it to exit. Calls already handed
// to the pool keep running and queued calls stay queued. It is a no-op when
// not running.
func (g *Governor) Stop() {
	g.lmu.Lock()
	defer g.lmu.Unlock()
	g.stopLocked()
}

func (g *Governor) stopLocked() {
	g.smu.Lock()
	if g.stopped {
		g.smu.Unlock()
		return
	}
	g.stopped = true
	g.smu.Unlock()

	start := time.Now()
	sup := g.sup.Load()
	sup.Cancel()
	// Broadcast under the queue lock: the dispatcher checks for cancellation
	// with the lock held, so the wakeup cannot slip between check and wait.
	g.qmu.Lock()
	g.qcond.Broadcast()
	g.qmu.Unlock()
	if err := sup.Wait(context.Background()); err != nil {
		g.log.Error("dispatcher exited with error", logx.Err(err))
	}

	queued := g.Queued()
	g.log.Info("governor stopped",
		logx.Duration("took", time.Since(start)),
		logx.Int("queued", queued),
		logx.Int64("in_flight", g.inFlight.Load()),
	)
	g.publish(EventStopped, LifecycleEvent{Interval: g.Interval(), Queued: queued})
}

// Stopped reports whether the dispatcher is not running.
func (g *Governor) Stopped() bool {
	g.smu.Lock()
	defer g.smu.Unlock()
	return g.stopped
}

// Interval returns the current minimum spacing between dispatches, in
// seconds.
func (g *Governor) Interval() float64 {
	g.imu.RLock()
	defer g.imu.RUnlock()
	return g.seconds
}

// SetInterval changes the pace. It applies from the next gap on; a sleep in
// progress is not shortened. An invalid spec leaves the interval unchanged.
func (g *Governor) SetInterval(spec any) error {
	seconds, err := interval.Resolve(spec)
	if err != nil {
		return err
	}
	g.imu.Lock()
	prev := g.seconds
	g.seconds = seconds
	g.imu.Unlock()
	if prev != seconds {
		g.log.Info("interval changed", logx.Float64("from", prev), logx.Float64("to", seconds))
	}
	return nil
}

// Queued returns the number of records waiting for dispatch.
func (g *Governor) Queued() int {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	return g.queue.len()
}

// Wait blocks until no dispatched call is executing, or ctx is done. It does
// not wait for queued records.
func (g *Governor) Wait(ctx context.Context) error {
	n := int64(g.poolSize)
	if err := g.pool.Acquire(ctx, n); err != nil {
		return err
	}
	g.pool.Release(n)
	return nil
}

// Close stops the governor and waits for in-flight calls.
func (g *Governor) Close(ctx context.Context) error {
	g.Stop()
	return g.Wait(ctx)
}
