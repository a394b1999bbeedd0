package trigger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"unq/pkg/governor"
	logx "unq/pkg/logx"
)

var ErrUnknownTrigger = errors.New("unknown trigger")

// Submitter is the part of *governor.Governor a trigger needs.
type Submitter interface {
	Submit(fn governor.Callable, args governor.Args, mode governor.ResultMode) governor.Ticket
}

// Def submits Call with Args, fire-and-forget, each time Schedule fires.
type Def struct {
	Name     string
	Schedule string
	Call     governor.Callable
	Args     governor.Args
}

type Status struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Kind     string    `json:"kind"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
	Fired    uint64    `json:"fired"`
}

type entry struct {
	def    Def
	parsed Parsed
	id     cron.EntryID
	fired  atomic.Uint64
}

// Service fires triggers into a governor. It only submits; pacing and
// execution belong to the governor.
type Service struct {
	sub Submitter
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entries []*entry
}

func New(sub Submitter, log logx.Logger) *Service {
	return &Service{sub: sub, log: log.With(logx.String("comp", "trigger")), loc: time.Local}
}

// Apply replaces the trigger set. Every definition is checked first; on any
// error nothing changes. A running service reschedules immediately.
func (s *Service) Apply(defs []Def) error {
	next := make([]*entry, 0, len(defs))
	seen := map[string]bool{}
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return errors.New("trigger name required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate trigger %q", name)
		}
		seen[name] = true
		if d.Call == nil {
			return fmt.Errorf("trigger %q: no call", name)
		}
		p, err := ParseSchedule(d.Schedule)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", name, err)
		}
		d.Name = name
		next = append(next, &entry{def: d, parsed: p})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = next
	if s.c != nil {
		s.restartLocked()
	}
	s.log.Debug("triggers applied", logx.Int("count", len(next)))
	return nil
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("triggers started", logx.Int("count", len(s.entries)))
}

// Stop halts scheduling and waits for running trigger jobs, or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	now := time.Now().In(s.loc)
	for _, e := range s.entries {
		sched, err := e.parsed.schedule(e.def.Name, now)
		if err != nil {
			s.log.Warn("trigger not scheduled", logx.String("name", e.def.Name), logx.Err(err))
			continue
		}
		e.id = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(e) }))
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
}

func (s *Service) fire(e *entry) {
	e.fired.Add(1)
	t := s.sub.Submit(e.def.Call, e.def.Args, governor.Discard)
	s.log.Debug("trigger fired", logx.String("name", e.def.Name), logx.String("call_id", t.ID()))
}

// Fire submits the named trigger now, outside its schedule.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.entries, func(e *entry) bool { return e.def.Name == name })
	var e *entry
	if i >= 0 {
		e = s.entries[i]
	}
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	s.fire(e)
	return nil
}

// Snapshot lists triggers in definition order.
func (s *Service) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			Name:     e.def.Name,
			Schedule: e.def.Schedule,
			Kind:     e.parsed.Kind.String(),
			Fired:    e.fired.Load(),
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			st.Next, st.Prev = ce.Next, ce.Prev
		}
		out = append(out, st)
	}
	return out
}
