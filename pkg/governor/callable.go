package governor

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	"unq/pkg/result"
)

// Strategy is how a pool goroutine runs a callable.
type Strategy int

const (
	// Direct invokes the callable and uses its return values.
	Direct Strategy = iota
	// DriveToCompletion invokes the callable to obtain a handle, then blocks
	// until that handle settles.
	DriveToCompletion
)

func (s Strategy) String() string {
	if s == DriveToCompletion {
		return "drive"
	}
	return "direct"
}

// Callable is a unit of work the governor can run.
type Callable interface {
	Strategy() Strategy
	invoke(ctx context.Context, args Args) (any, error)
}

// Func is a synchronous callable.
type Func func(ctx context.Context, args Args) (any, error)

func (Func) Strategy() Strategy { return Direct }

func (f Func) invoke(ctx context.Context, args Args) (any, error) { return f(ctx, args) }

// AsyncFunc starts work and returns a handle for it. The context passed in
// belongs to this one invocation and is canceled once the handle settles.
type AsyncFunc func(ctx context.Context, args Args) *result.Handle

func (AsyncFunc) Strategy() Strategy { return DriveToCompletion }

func (f AsyncFunc) invoke(ctx context.Context, args Args) (any, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := f(cctx, args)
	if h == nil {
		return nil, ErrNilHandle
	}
	return h.Wait(ctx)
}

type named struct {
	Callable
	name string
}

// Named attaches a display name used in logs, events and history.
func Named(name string, c Callable) Callable {
	if c == nil {
		return nil
	}
	return named{Callable: c, name: name}
}

// Wrap adapts common function shapes to a Callable. Values of any other
// type are accepted but fail with *NotCallableError when invoked.
//
// Supported shapes:
//
//	func()
//	func() error
//	func() (any, error)
//	func(context.Context) error
//	func(context.Context) (any, error)
//	func(context.Context, Args) (any, error)
//	func(context.Context, Args) *result.Handle
func Wrap(fn any) Callable {
	switch f := fn.(type) {
	case nil:
		return nil
	case Callable:
		return f
	case func(context.Context, Args) (any, error):
		return Func(f)
	case func(context.Context, Args) *result.Handle:
		return AsyncFunc(f)
	case func():
		return Named(funcName(f), Func(func(context.Context, Args) (any, error) { f(); return nil, nil }))
	case func() error:
		return Named(funcName(f), Func(func(context.Context, Args) (any, error) { return nil, f() }))
	case func() (any, error):
		return Named(funcName(f), Func(func(context.Context, Args) (any, error) { return f() }))
	case func(context.Context) error:
		return Named(funcName(f), Func(func(ctx context.Context, _ Args) (any, error) { return nil, f(ctx) }))
	case func(context.Context) (any, error):
		return Named(funcName(f), Func(func(ctx context.Context, _ Args) (any, error) { return f(ctx) }))
	default:
		typ := fmt.Sprintf("%T", fn)
		return Named(typ, Func(func(context.Context, Args) (any, error) {
			return nil, &NotCallableError{Type: typ}
		}))
	}
}

// run invokes c with the strategy it declares and turns panics into
// *PanicError.
func run(ctx context.Context, c Callable, args Args) (v any, err error) {
	if c == nil {
		return nil, ErrNilCallable
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return c.invoke(ctx, args)
}

func nameOf(c Callable) string {
	switch f := c.(type) {
	case nil:
		return "<nil>"
	case named:
		return f.name
	default:
		return funcName(f)
	}
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "func"
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
