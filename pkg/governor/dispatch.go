package governor

import (
	"context"
	"errors"
	"time"

	"unq/pkg/interval"
	logx "unq/pkg/logx"
	"unq/pkg/result"
)

// dispatchLoop is the only consumer of the queue. ctx is canceled by Stop.
func (g *Governor) dispatchLoop(ctx context.Context) {
	for {
		if !g.awaitWork(ctx) {
			return
		}
		// lastAt survives restarts, so a quick Stop/Start cannot be used to
		// skip the gap after the last dispatch.
		if !sleepUntil(ctx, g.lastAt.Add(interval.Duration(g.Interval()))) {
			return
		}
		c := g.take(ctx)
		if c == nil {
			return
		}
		if err := g.pool.Acquire(ctx, 1); err != nil {
			g.putBack(c)
			return
		}
		g.lastAt = g.dispatch(c)
	}
}

// awaitWork blocks until the queue is non-empty. It returns false once ctx
// is canceled.
func (g *Governor) awaitWork(ctx context.Context) bool {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	for g.queue.len() == 0 && ctx.Err() == nil {
		g.qcond.Wait()
	}
	return ctx.Err() == nil
}

func (g *Governor) take(ctx context.Context) *call {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	if ctx.Err() != nil {
		return nil
	}
	return g.queue.pop()
}

func (g *Governor) putBack(c *call) {
	g.qmu.Lock()
	g.queue.pushFront(c)
	g.qmu.Unlock()
}

// sleepUntil waits for t or ctx, whichever comes first. It reports whether
// t was reached.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// dispatch hands c to a pool goroutine. The caller holds one pool permit,
// which execute releases.
func (g *Governor) dispatch(c *call) time.Time {
	g.inFlight.Add(1)
	g.dispatched.Add(1)
	at := time.Now()
	g.publish(EventDispatched, CallEvent{CallInfo: c.info, Mode: modeOf(c).String(), Dispatched: at})
	g.log.Debug("call dispatched",
		logx.String("call_id", c.info.ID),
		logx.String("name", c.info.Name),
		logx.Uint64("seq", c.info.Seq),
		logx.Duration("queued_for", at.Sub(c.info.Enqueued)),
	)
	go g.execute(c, at)
	return at
}

func (g *Governor) execute(c *call, at time.Time) {
	defer g.pool.Release(1)
	defer g.inFlight.Add(-1)

	v, err := run(g.base, c.fn, c.args)
	took := time.Since(at)

	item := HistoryItem{CallInfo: c.info, Dispatched: at, Duration: took}
	ev := CallEvent{CallInfo: c.info, Mode: modeOf(c).String(), Dispatched: at, Duration: took}
	typ := EventCompleted
	if err != nil {
		g.failed.Add(1)
		// A discarded failure's detail goes to the discard reporter only.
		if c.handle != nil {
			item.Error = err.Error()
			ev.Error = item.Error
		}
		typ = EventFailed
	} else {
		g.completed.Add(1)
	}
	g.record(item)
	g.publish(typ, ev)

	if c.handle == nil {
		if err != nil {
			g.discarded.Add(1)
			if g.onDiscard != nil {
				g.onDiscard(c.info, err)
			}
		}
		return
	}
	if err != nil {
		fields := []logx.Field{logx.String("call_id", c.info.ID), logx.String("name", c.info.Name), logx.Err(err)}
		var pe *PanicError
		if errors.As(err, &pe) {
			g.log.Error("call panicked", append(fields, logx.Stack(pe.Stack))...)
		} else {
			g.log.Debug("call failed", fields...)
		}
	}
	c.handle.Settle(result.Outcome{Value: v, Err: err})
}

func modeOf(c *call) ResultMode {
	if c.handle != nil {
		return Keep
	}
	return Discard
}
