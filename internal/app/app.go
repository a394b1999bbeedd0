package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"unq/internal/config"
	"unq/internal/eventbus"
	"unq/internal/journal"
	"unq/internal/observability/debughttp"
	"unq/internal/runtime/supervisor"
	"unq/internal/trigger"
	"unq/pkg/governor"
	logx "unq/pkg/logx"
	"unq/pkg/result"
)

// App wires the governor to its inputs (stdin lines, triggers), its
// observers (journal, logs) and the config file.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	loop *result.Loop

	gov   *governor.Governor
	trig  *trigger.Service
	store journal.Store
	rec   *journal.Recorder
	dbg   *debughttp.Server
	sd    notifier

	out io.Writer

	cmdMu sync.RWMutex
	cmd   governor.Callable
}

// New loads the config at cfgPath and builds every component. Results of
// stdin submissions are written to out.
func New(cfgPath string, out io.Writer) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, out)
}

func build(cfgm *config.Manager, cfg *config.Config, out io.Writer) (*App, error) {
	logs, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validateReload)

	bus := eventbus.New()
	loop := result.NewLoop()
	fail := func(err error) (*App, error) {
		loop.Close()
		_ = logs.Close()
		return nil, err
	}

	spec, err := cfg.Governor.Interval.Value()
	if err != nil {
		return fail(err)
	}
	opts := append(governorOptions(cfg, log),
		governor.WithBus(bus),
		governor.WithExecutor(loop),
	)
	gov, err := governor.New(spec, opts...)
	if err != nil {
		return fail(err)
	}

	cmd, err := BuildCommand(cfg.Command)
	if err != nil {
		return fail(err)
	}

	trig := trigger.New(gov, log)
	defs, err := mapTriggers(cfg)
	if err != nil {
		return fail(err)
	}
	if err := trig.Apply(defs); err != nil {
		return fail(err)
	}

	a := &App{
		cfgm: cfgm,
		log:  appLog,
		logs: logs,
		bus:  bus,
		loop: loop,
		gov:  gov,
		trig: trig,
		sd:   notifier{enabled: cfg.Systemd.Notify, log: log.With(logx.String("comp", "systemd"))},
		out:  out,
		cmd:  cmd,
	}

	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		a.rec = journal.NewRecorder(st, bus, 512, log)
		appLog.Info("journal enabled", logx.String("driver", jc.Driver), logx.String("path", jc.Path))
	}
	if dc, enabled := mapDebugConfig(cfg); enabled {
		a.dbg = debughttp.New(dc, debughttp.Sources{Status: a.status, Journal: a.store}, log)
	}
	return a, nil
}

func (a *App) Governor() *governor.Governor { return a.gov }

func (a *App) Triggers() *trigger.Service { return a.trig }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.rec != nil {
		a.sup.Go("journal.recorder", a.rec.Run)
	}
	a.gov.Start()
	a.trig.Start()

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.dbg != nil {
		a.sup.Go("debug.http", a.dbg.Run)
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.watchdog(c, func() (int, int64) {
			s := a.gov.Snapshot()
			return s.Queued, s.InFlight
		})
	})

	a.sd.ready()
	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: apply only the newest.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.sd.reloading()
			a.apply(last, next)
			last = next
			a.sd.ready()
		}
	}
}

// apply hot-swaps what can change at runtime: logging, interval, command
// and triggers. Everything else is logged as needing a restart.
func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))

	if spec, err := next.Governor.Interval.Value(); err != nil {
		a.log.Warn("invalid interval; keeping previous", logx.Err(err))
	} else if err := a.gov.SetInterval(spec); err != nil {
		a.log.Warn("invalid interval; keeping previous", logx.Err(err))
	}

	if cmd, err := BuildCommand(next.Command); err != nil {
		a.log.Warn("invalid command; keeping previous", logx.Err(err))
	} else {
		a.cmdMu.Lock()
		a.cmd = cmd
		a.cmdMu.Unlock()
	}

	if defs, err := mapTriggers(next); err != nil {
		a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
	} else if err := a.trig.Apply(defs); err != nil {
		a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
	}

	for _, s := range sections {
		if strings.HasSuffix(s, ".restart_required") {
			a.log.Warn("config change needs a restart to take effect", logx.String("section", strings.TrimSuffix(s, ".restart_required")))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status is the document served on the debug endpoint.
type Status struct {
	Governor governor.Snapshot   `json:"governor"`
	Triggers []trigger.Status    `json:"triggers"`
	App      supervisor.Snapshot `json:"app"`
	Journal  *JournalStatus      `json:"journal,omitempty"`
}

type JournalStatus struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func (a *App) status() any {
	st := Status{
		Governor: a.gov.Snapshot(),
		Triggers: a.trig.Snapshot(),
	}
	if a.sup != nil {
		st.App = a.sup.Snapshot()
	}
	if a.rec != nil {
		st.Journal = &JournalStatus{Written: a.rec.Written(), Failed: a.rec.Failed()}
	}
	return st
}

// SubmitLine submits one input line, split on whitespace, to the current
// command. It returns nil for a blank line.
func (a *App) SubmitLine(line string) *result.Handle {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	a.cmdMu.RLock()
	cmd := a.cmd
	a.cmdMu.RUnlock()
	return a.gov.Go(cmd, args...)
}

// ServeLines submits every line of r and writes each outcome to the app's
// output in completion order. At EOF it waits for the submitted calls, or
// ctx, before returning.
func (a *App) ServeLines(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- sc.Err()
	}()

	var pending sync.WaitGroup
read:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				break read
			}
			h := a.SubmitLine(line)
			if h == nil {
				continue
			}
			pending.Add(1)
			h.Then(func(o result.Outcome) {
				defer pending.Done()
				a.printOutcome(o)
			})
		}
	}
	if err := <-readErr; err != nil {
		return err
	}

	done := make(chan struct{})
	go func() { pending.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// printOutcome runs on the result loop, so writes never interleave.
func (a *App) printOutcome(o result.Outcome) {
	if o.Err != nil {
		fmt.Fprintf(a.out, "error: %v\n", o.Err)
		return
	}
	fmt.Fprintln(a.out, o.Value)
}

// Stop shuts down in dependency order: inputs, governor (and its in-flight
// calls), journal, then logging.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sd.stopping()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("triggers", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("governor", 10*time.Second, a.gov.Close)
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("journal", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.loop.Close()

	snap := a.gov.Snapshot()
	a.log.Info("stopped",
		logx.Int("queued", snap.Queued),
		logx.Uint64("completed", snap.Counters.Completed),
		logx.Uint64("failed", snap.Counters.Failed),
	)
	_ = a.logs.Close()
	return errors.Join(errs...)
}
