package governor

import (
	"time"

	"unq/internal/eventbus"
	"unq/internal/runtime/supervisor"
)

// Event types published on the bus.
const (
	EventStarted    = "governor.started"
	EventStopped    = "governor.stopped"
	EventEnqueued   = "call.enqueued"
	EventDispatched = "call.dispatched"
	EventCompleted  = "call.completed"
	EventFailed     = "call.failed"
)

// CallEvent is the Data of every call.* event.
type CallEvent struct {
	CallInfo
	Mode       string        `json:"mode"`
	Dispatched time.Time     `json:"dispatched,omitzero"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// LifecycleEvent is the Data of governor.* events.
type LifecycleEvent struct {
	Interval float64 `json:"interval"`
	Queued   int     `json:"queued"`
}

// HistoryItem is one finished call.
type HistoryItem struct {
	CallInfo
	Dispatched time.Time     `json:"dispatched"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Counters struct {
	Submitted  uint64 `json:"submitted"`
	Dispatched uint64 `json:"dispatched"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Discarded  uint64 `json:"discarded"`
}

type Snapshot struct {
	Running    bool                `json:"running"`
	Interval   float64             `json:"interval"`
	Queued     int                 `json:"queued"`
	PoolSize   int                 `json:"pool_size"`
	InFlight   int64               `json:"in_flight"`
	Counters   Counters            `json:"counters"`
	Dispatcher supervisor.Snapshot `json:"dispatcher"`
	History    []HistoryItem       `json:"history"`
}

// Snapshot returns a point-in-time view of the governor. History is oldest
// first.
func (g *Governor) Snapshot() Snapshot {
	s := Snapshot{
		Running:  !g.Stopped(),
		Interval: g.Interval(),
		Queued:   g.Queued(),
		PoolSize: g.poolSize,
		InFlight: g.inFlight.Load(),
		Counters: Counters{
			Submitted:  g.submitted.Load(),
			Dispatched: g.dispatched.Load(),
			Completed:  g.completed.Load(),
			Failed:     g.failed.Load(),
			Discarded:  g.discarded.Load(),
		},
		Dispatcher: g.sup.Load().Snapshot(),
	}
	g.hmu.Lock()
	s.History = append([]HistoryItem(nil), g.history...)
	g.hmu.Unlock()
	return s
}

func (g *Governor) record(item HistoryItem) {
	if g.historySize == 0 {
		return
	}
	g.hmu.Lock()
	if len(g.history) >= g.historySize {
		copy(g.history, g.history[1:])
		g.history = g.history[:len(g.history)-1]
	}
	g.history = append(g.history, item)
	g.hmu.Unlock()
}

func (g *Governor) publish(typ string, data any) {
	g.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
