package governor

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/time/rate"

	"unq/internal/eventbus"
	logx "unq/pkg/logx"
	"unq/pkg/result"
)

const defaultHistorySize = 200

type Option func(*options)

type options struct {
	log         logx.Logger
	bus         eventbus.Bus
	exec        result.Executor
	poolSize    int
	historySize int
	base        context.Context
	onDiscard   func(CallInfo, error)
}

func defaultOptions() options {
	return options{
		log:         logx.Nop(),
		bus:         eventbus.Discard,
		exec:        result.Inline,
		poolSize:    DefaultPoolSize(),
		historySize: defaultHistorySize,
		base:        context.Background(),
	}
}

// DefaultPoolSize is min(32, NumCPU+4).
func DefaultPoolSize() int {
	return min(32, runtime.NumCPU()+4)
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithBus publishes lifecycle and per-call events on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *options) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// WithExecutor sets where result handles settle. Defaults to result.Inline.
func WithExecutor(exec result.Executor) Option {
	return func(o *options) {
		if exec != nil {
			o.exec = exec
		}
	}
}

// WithPoolSize bounds the number of calls executing at once. Values below 1
// keep the default.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithHistorySize sets how many finished calls Snapshot keeps. Zero or a
// negative value disables history.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = max(n, 0) }
}

// WithContext sets the parent context of every call. Stop does not cancel
// calls; cancel this context to do so.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.base = ctx
		}
	}
}

// WithDiscardReporter is called with every failure of a call submitted with
// Discard. It runs on the pool goroutine and must not block.
func WithDiscardReporter(fn func(CallInfo, error)) Option {
	return func(o *options) { o.onDiscard = fn }
}

// LogDiscarded returns a discard reporter that logs at warn level, at most
// perSec times per second. Reports over the limit are counted and the count
// is attached to the next logged one.
func LogDiscarded(log logx.Logger, perSec float64) func(CallInfo, error) {
	limit, burst := rate.Inf, 1
	if perSec > 0 {
		limit, burst = rate.Limit(perSec), max(1, int(perSec))
	}
	log = log.With(logx.String("comp", "governor"))
	lim := rate.NewLimiter(limit, burst)
	var suppressed atomic.Uint64
	return func(ci CallInfo, err error) {
		if !lim.Allow() {
			suppressed.Add(1)
			return
		}
		log.Warn("discarded call failed",
			logx.String("call_id", ci.ID),
			logx.String("name", ci.Name),
			logx.Uint64("seq", ci.Seq),
			logx.Uint64("suppressed", suppressed.Swap(0)),
			logx.Err(err),
		)
	}
}
