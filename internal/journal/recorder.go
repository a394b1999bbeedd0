package journal

import (
	"context"
	"sync/atomic"
	"time"

	"unq/internal/eventbus"
	"unq/pkg/governor"
	logx "unq/pkg/logx"
)

// Recorder copies call.completed and call.failed events from a bus into a
// Store.
type Recorder struct {
	store Store
	log   logx.Logger

	events <-chan eventbus.Event
	unsub  func()

	written, failed atomic.Uint64
}

// NewRecorder subscribes immediately so no event published after it returns
// is missed, as long as the buffer keeps up.
func NewRecorder(store Store, bus eventbus.Bus, buffer int, log logx.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	ch, unsub := bus.Subscribe(buffer, governor.EventCompleted, governor.EventFailed)
	return &Recorder{
		store:  store,
		log:    log.With(logx.String("comp", "journal")),
		events: ch,
		unsub:  unsub,
	}
}

// Run appends events until ctx is done, then writes whatever is already
// buffered and unsubscribes.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev eventbus.Event) {
	e, ok := EntryFromEvent(ev)
	if !ok {
		return
	}
	if err := r.store.Append(ctx, e); err != nil {
		r.failed.Add(1)
		r.log.Warn("journal append failed", logx.String("call_id", e.ID), logx.Err(err))
		return
	}
	r.written.Add(1)
}

// Written and Failed count appends since the recorder was created.
func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Failed() uint64  { return r.failed.Load() }

// EntryFromEvent converts a finished-call event. It reports false for any
// other event.
func EntryFromEvent(ev eventbus.Event) (Entry, bool) {
	if ev.Type != governor.EventCompleted && ev.Type != governor.EventFailed {
		return Entry{}, false
	}
	ce, ok := ev.Data.(governor.CallEvent)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		ID:         ce.ID,
		Name:       ce.Name,
		Seq:        ce.Seq,
		Mode:       ce.Mode,
		Enqueued:   ce.Enqueued,
		Dispatched: ce.Dispatched,
		TookMS:     ce.Duration.Milliseconds(),
		OK:         ev.Type == governor.EventCompleted,
		Error:      ce.Error,
	}, true
}
