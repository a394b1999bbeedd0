package governor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"unq/pkg/result"
)

var _ interface {
	Submit(Callable, ...any) *result.Handle
} = (*Scoped)(nil)

func TestScopedOnlySubmitsKept(t *testing.T) {
	t.Parallel()
	typ := reflect.TypeOf(&Scoped{})
	if typ.NumMethod() != 1 {
		names := make([]string, 0, typ.NumMethod())
		for i := range typ.NumMethod() {
			names = append(names, typ.Method(i).Name)
		}
		t.Fatalf("Scoped methods = %v, want only Submit", names)
	}
	if _, ok := typ.MethodByName("Submit"); !ok {
		t.Fatal("Scoped has no Submit")
	}
}

func TestScopeStartsAndStops(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)

	err := g.Scope(func(s *Scoped) error {
		if g.Stopped() {
			t.Fatal("governor stopped inside scope")
		}
		v, err := s.Submit(Func(echo), "in scope").Wait(waitCtx(t))
		if err != nil || v != "in scope" {
			t.Fatalf("scoped call = %v, %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !g.Stopped() {
		t.Fatal("governor still running after scope")
	}
}

func TestScopeOnRunningGovernor(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	g.Start()

	ran := false
	err := g.Scope(func(*Scoped) error { ran = true; return nil })
	if !errors.Is(err, ErrAlreadyRunning) || ran {
		t.Fatalf("Scope err = %v, ran = %v", err, ran)
	}
	if g.Stopped() {
		t.Fatal("failed scope entry stopped the governor")
	}
}

func TestScopeStopsOnError(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	bad := errors.New("bad")
	if err := g.Scope(func(*Scoped) error { return bad }); !errors.Is(err, bad) {
		t.Fatalf("Scope err = %v", err)
	}
	if !g.Stopped() {
		t.Fatal("governor still running after failing scope")
	}
}

func TestScopeStopsOnPanic(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	func() {
		defer func() {
			if r := recover(); r != "oops" {
				t.Fatalf("recovered %v, want oops", r)
			}
		}()
		_ = g.Scope(func(*Scoped) error { panic("oops") })
	}()
	if !g.Stopped() {
		t.Fatal("governor still running after panicking scope")
	}
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	g := newTestGovernor(t, 0)
	s, release, err := g.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Acquire(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Acquire err = %v", err)
	}
	if _, err := s.Submit(Func(func(context.Context, Args) (any, error) { return nil, nil })).Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	release()
	release()
	if !g.Stopped() {
		t.Fatal("release did not stop the governor")
	}
	g.Start()
	release() // stale release must not stop a later run
	if g.Stopped() {
		t.Fatal("stale release stopped a later run")
	}
}
