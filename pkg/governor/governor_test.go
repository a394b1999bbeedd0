package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"unq/internal/eventbus"
	"unq/pkg/interval"
	"unq/pkg/result"
)

func newTestGovernor(t *testing.T, spec any, opts ...Option) *Governor {
	t.Helper()
	g, err := New(spec, opts...)
	if err != nil {
		t.Fatalf("New(%v) error: %v", spec, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Close(ctx)
	})
	return g
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func echo(_ context.Context, a Args) (any, error) { return a.Arg(0), nil }

func TestNewRejectsInvalidInterval(t *testing.T) {
	t.Parallel()
	for _, spec := range []any{-1, "soon", nil, interval.Spec{Timeframe: "fortnight"}} {
		if _, err := New(spec); !interval.IsInvalid(err) {
			t.Fatalf("New(%#v) err = %v, want invalid interval", spec, err)
		}
	}
}

func TestStoppedUntilStarted(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, interval.PerSecond(100))
	if !g.Stopped() {
		t.Fatal("new governor should be stopped")
	}
	if got := g.Interval(); got != 0.01 {
		t.Fatalf("Interval() = %v, want 0.01", got)
	}

	h := g.Go(Func(echo), "x")
	time.Sleep(30 * time.Millisecond)
	if h.State() != result.Pending {
		t.Fatalf("call ran before Start: %v", h.State())
	}
	if g.Queued() != 1 {
		t.Fatalf("Queued() = %d, want 1", g.Queued())
	}

	g.Start()
	if g.Stopped() {
		t.Fatal("Stopped() after Start")
	}
	v, err := h.Wait(waitCtx(t))
	if err != nil || v != "x" {
		t.Fatalf("Wait = %v, %v", v, err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventStarted, EventStopped)
	defer unsub()

	g := newTestGovernor(t, 0, WithBus(bus))
	g.Stop() // never started
	g.Start()
	g.Start()
	g.Stop()
	g.Stop()
	if !g.Stopped() {
		t.Fatal("Stopped() = false after Stop")
	}

	var got []string
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	want := []string{EventStarted, EventStopped}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestFIFOUnderConcurrentSubmit(t *testing.T) {
	t.Parallel()
	const producers, perProducer = 4, 25

	var mu sync.Mutex
	var order []string
	record := Func(func(_ context.Context, a Args) (any, error) {
		mu.Lock()
		order = append(order, a.Arg(0).(string))
		mu.Unlock()
		return nil, nil
	})

	g := newTestGovernor(t, 0, WithPoolSize(1))
	g.Start()

	var handles sync.Map
	var eg errgroup.Group
	for p := range producers {
		eg.Go(func() error {
			for i := range perProducer {
				id := fmt.Sprintf("%d-%03d", p, i)
				handles.Store(id, g.Go(record, id))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	ctx := waitCtx(t)
	handles.Range(func(_, v any) bool {
		if _, err := v.(*result.Handle).Wait(ctx); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != producers*perProducer {
		t.Fatalf("ran %d calls, want %d", len(order), producers*perProducer)
	}
	last := map[byte]string{}
	for _, id := range order {
		if prev, ok := last[id[0]]; ok && prev >= id {
			t.Fatalf("producer %c out of order: %s after %s", id[0], id, prev)
		}
		last[id[0]] = id
	}

	hist := g.Snapshot().History
	for i := 1; i < len(hist); i++ {
		if hist[i].Seq <= hist[i-1].Seq {
			t.Fatalf("history seq %d after %d", hist[i].Seq, hist[i-1].Seq)
		}
	}
}

func TestDispatchesArePaced(t *testing.T) {
	t.Parallel()
	const gap = 50 * time.Millisecond
	bus := eventbus.New()
	dispatched, unsub := bus.Subscribe(16, EventDispatched)
	defer unsub()

	g := newTestGovernor(t, gap, WithBus(bus))
	var hs []*result.Handle
	for i := range 4 {
		hs = append(hs, g.Go(Func(echo), i))
	}
	g.Start()
	ctx := waitCtx(t)
	for _, h := range hs {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}

	var times []time.Time
	for range 4 {
		times = append(times, (<-dispatched).Data.(CallEvent).Dispatched)
	}
	var gaps []time.Duration
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1])
		if d < gap-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, d, gap)
		}
		gaps = append(gaps, d)
	}
	// Consecutive gaps stay consistent: each is measured from the previous
	// dispatch, so lateness does not accumulate.
	const tolerance = 25 * time.Millisecond
	for i := 1; i < len(gaps); i++ {
		if diff := (gaps[i] - gaps[i-1]).Abs(); diff >= tolerance {
			t.Fatalf("gaps %v differ by %v, want < %v", gaps, diff, tolerance)
		}
	}
}

func TestHugeIntervalStillPaces(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 1e12)
	g.Start()
	defer g.Stop()

	first := g.Go(Func(echo), 1)
	second := g.Go(Func(echo), 2)
	if _, err := first.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-second.Done():
		t.Fatal("second call dispatched immediately despite a 1e12s interval")
	case <-time.After(100 * time.Millisecond):
	}
	if q := g.Queued(); q != 1 {
		t.Fatalf("Queued() = %d, want 1", q)
	}
}

func TestCanceledBaseContextKeepsDispatching(t *testing.T) {
	t.Parallel()
	base, cancel := context.WithCancel(context.Background())
	cancel()
	g := newTestGovernor(t, 0, WithContext(base))
	g.Start()
	if g.Stopped() {
		t.Fatal("Stopped() after Start with a canceled base context")
	}
	v, err := g.Go(Func(echo), "still runs").Wait(waitCtx(t))
	if err != nil || v != "still runs" {
		t.Fatalf("call = %v, %v", v, err)
	}
	if q := g.Queued(); q != 0 {
		t.Fatalf("Queued() = %d, want 0", q)
	}

	h := g.Go(Func(func(ctx context.Context, _ Args) (any, error) { return nil, ctx.Err() }))
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("call context err = %v, want canceled base", err)
	}
}

func TestDiscardedFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(4, EventFailed)
	defer unsub()
	g := newTestGovernor(t, 0, WithBus(bus))
	g.Start()

	g.SubmitFunc(Func(func(context.Context, Args) (any, error) { return nil, errors.New("secret failure") }))
	kept := g.Go(Func(func(context.Context, Args) (any, error) { return nil, errors.New("kept failure") }))
	if _, err := kept.Wait(waitCtx(t)); err == nil {
		t.Fatal("kept failure not reported")
	}
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	for _, item := range g.Snapshot().History {
		want := ""
		if item.Seq == 2 {
			want = "kept failure"
		}
		if item.Error != want {
			t.Fatalf("history seq %d error = %q, want %q", item.Seq, item.Error, want)
		}
	}
	for range 2 {
		ev := (<-failed).Data.(CallEvent)
		if ev.Mode == Discard.String() && ev.Error != "" {
			t.Fatalf("discarded failure event carries %q", ev.Error)
		}
	}
}

func TestSetIntervalAppliesToNextGap(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	dispatched, unsub := bus.Subscribe(16, EventDispatched)
	defer unsub()

	g := newTestGovernor(t, 200*time.Millisecond, WithBus(bus))
	var hs []*result.Handle
	for i := range 3 {
		hs = append(hs, g.Go(Func(echo), i))
	}
	g.Start()

	first := (<-dispatched).Data.(CallEvent).Dispatched
	time.Sleep(50 * time.Millisecond) // let the dispatcher enter its sleep
	if err := g.SetInterval(0.01); err != nil {
		t.Fatal(err)
	}
	second := (<-dispatched).Data.(CallEvent).Dispatched
	third := (<-dispatched).Data.(CallEvent).Dispatched

	if d := second.Sub(first); d < 190*time.Millisecond {
		t.Fatalf("sleep in progress was shortened: %v", d)
	}
	if d := third.Sub(second); d > 150*time.Millisecond {
		t.Fatalf("new interval not applied: %v", d)
	}
	for _, h := range hs {
		if _, err := h.Wait(waitCtx(t)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSetIntervalInvalidKeepsOld(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, interval.PerMinute(6))
	err := g.SetInterval(-3)
	var ie *interval.InvalidIntervalError
	if !errors.As(err, &ie) {
		t.Fatalf("SetInterval(-3) err = %v", err)
	}
	if got := g.Interval(); got != 10 {
		t.Fatalf("Interval() = %v, want 10", got)
	}
	if err := g.SetInterval(interval.Spec{Timeframe: interval.Hour, Times: 3}); err != nil {
		t.Fatal(err)
	}
	if got := g.Interval(); got != 1200 {
		t.Fatalf("Interval() = %v, want 1200", got)
	}
}

func TestFailureSurfacesInHandle(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	g := newTestGovernor(t, 0)
	g.Start()

	h := g.Go(Func(func(context.Context, Args) (any, error) { return nil, boom }))
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want boom", err)
	}
	if h.State() != result.Failed {
		t.Fatalf("State() = %v", h.State())
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	g.Start()

	h := g.Go(Func(func(context.Context, Args) (any, error) { panic("kaput") }))
	_, err := h.Wait(waitCtx(t))
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaput" || pe.Stack == "" {
		t.Fatalf("Wait err = %#v", err)
	}
}

func TestDiscardedFailureDoesNotStopDispatch(t *testing.T) {
	t.Parallel()
	var reported atomic.Int32
	g := newTestGovernor(t, 0, WithDiscardReporter(func(ci CallInfo, err error) {
		if err != nil && ci.Seq == 1 {
			reported.Add(1)
		}
	}))
	g.Start()

	ticket := g.SubmitFunc(Func(func(context.Context, Args) (any, error) { return nil, errors.New("lost") }))
	if _, ok := ticket.Handle(); ok {
		t.Fatal("Discard submission returned a handle")
	}
	h := g.Go(Func(echo), "after")
	if v, err := h.Wait(waitCtx(t)); err != nil || v != "after" {
		t.Fatalf("next call = %v, %v", v, err)
	}
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if reported.Load() != 1 {
		t.Fatalf("reporter called %d times, want 1", reported.Load())
	}
	c := g.Snapshot().Counters
	if c.Failed != 1 || c.Discarded != 1 || c.Completed != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestNilAndUnsupportedCallables(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	g.Start()
	ctx := waitCtx(t)

	if _, err := g.Go(nil).Wait(ctx); !errors.Is(err, ErrNilCallable) {
		t.Fatalf("nil callable err = %v", err)
	}
	_, err := g.Go(Wrap(42)).Wait(ctx)
	var nce *NotCallableError
	if !errors.As(err, &nce) || nce.Type != "int" {
		t.Fatalf("unsupported callable err = %v", err)
	}
	if v, err := g.Go(Wrap(func() (any, error) { return 7, nil })).Wait(ctx); err != nil || v != 7 {
		t.Fatalf("wrapped func = %v, %v", v, err)
	}
}

func TestAsyncFuncDrivenToCompletion(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	g.Start()

	callCtx := make(chan context.Context, 1)
	async := AsyncFunc(func(ctx context.Context, a Args) *result.Handle {
		callCtx <- ctx
		return result.Go(ctx, nil, func(context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return fmt.Sprintf("hello %v", a.Arg(0)), nil
		})
	})
	if async.Strategy() != DriveToCompletion {
		t.Fatalf("Strategy() = %v", async.Strategy())
	}

	v, err := result.Await[string](waitCtx(t), g.Go(async, "world"))
	if err != nil || v != "hello world" {
		t.Fatalf("Await = %q, %v", v, err)
	}
	select {
	case <-(<-callCtx).Done():
	case <-time.After(time.Second):
		t.Fatal("per-call context not canceled after completion")
	}
}

func TestArgsAreCopiedOnSubmit(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	args := A("a", "b").With("k", 1)
	h := g.Submit(Func(func(_ context.Context, a Args) (any, error) {
		v, _ := a.Kwarg("k")
		return fmt.Sprint(a.Pos, v), nil
	}), args, Keep)
	args.Pos[0] = "mutated"
	args.Kw["k"] = 2

	g.Start()
	hh, _ := h.Handle()
	if v, err := hh.Wait(waitCtx(t)); err != nil || v != "[a b] 1" {
		t.Fatalf("Wait = %v, %v", v, err)
	}
}

func TestQueuedCallsSurviveStop(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, time.Hour)
	h1 := g.Go(Func(echo), 1)
	h2 := g.Go(Func(echo), 2)
	h3 := g.Go(Func(echo), 3)
	g.Start()
	if _, err := h1.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() { g.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the interval sleep")
	}
	if g.Queued() != 2 {
		t.Fatalf("Queued() = %d, want 2", g.Queued())
	}

	if err := g.SetInterval(0); err != nil {
		t.Fatal(err)
	}
	g.Start()
	ctx := waitCtx(t)
	for i, h := range []*result.Handle{h2, h3} {
		if v, err := h.Wait(ctx); err != nil || v != i+2 {
			t.Fatalf("h%d = %v, %v", i+2, v, err)
		}
	}
}

func TestSaturatedPoolDelaysDispatch(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	block := Func(func(context.Context, Args) (any, error) {
		<-release
		return nil, nil
	})
	g := newTestGovernor(t, 0, WithPoolSize(1))
	g.Start()

	h1 := g.Go(block)
	h2 := g.Go(Func(echo), "second")
	time.Sleep(30 * time.Millisecond)
	if h2.State() != result.Pending || g.Snapshot().InFlight != 1 {
		t.Fatalf("second call dispatched onto a full pool")
	}
	close(release)
	ctx := waitCtx(t)
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if v, err := h2.Wait(ctx); err != nil || v != "second" {
		t.Fatalf("h2 = %v, %v", v, err)
	}
}

func TestStopDoesNotCancelRunningCalls(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	g := newTestGovernor(t, 0)
	g.Start()
	h := g.Go(Func(func(ctx context.Context, _ Args) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}))
	<-started
	g.Stop()
	if _, err := h.Wait(waitCtx(t)); err != nil {
		t.Fatalf("running call saw %v after Stop", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0, WithHistorySize(3))
	var hs []*result.Handle
	for i := range 5 {
		hs = append(hs, g.Go(Func(echo), i))
	}
	g.Start()
	for _, h := range hs {
		if _, err := h.Wait(waitCtx(t)); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	s := g.Snapshot()
	if len(s.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(s.History))
	}
	if s.Counters.Submitted != 5 || s.Counters.Dispatched != 5 {
		t.Fatalf("counters = %+v", s.Counters)
	}
}
