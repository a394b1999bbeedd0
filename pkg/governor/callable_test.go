package governor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"unq/pkg/result"
)

func TestWrapShapes(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ctx := context.Background()

	tests := []struct {
		name      string
		fn        any
		strategy  Strategy
		wantValue any
		wantErr   error
	}{
		{name: "func()", fn: func() {}, strategy: Direct},
		{name: "func() error", fn: func() error { return boom }, strategy: Direct, wantErr: boom},
		{name: "func() (any, error)", fn: func() (any, error) { return 1, nil }, strategy: Direct, wantValue: 1},
		{name: "ctx error", fn: func(context.Context) error { return nil }, strategy: Direct},
		{name: "ctx value", fn: func(context.Context) (any, error) { return "v", nil }, strategy: Direct, wantValue: "v"},
		{name: "full", fn: func(_ context.Context, a Args) (any, error) { return a.Arg(0), nil }, strategy: Direct, wantValue: "arg"},
		{name: "async", fn: func(context.Context, Args) *result.Handle { return result.ResolvedWith("h") }, strategy: DriveToCompletion, wantValue: "h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Wrap(tt.fn)
			if c.Strategy() != tt.strategy {
				t.Fatalf("Strategy() = %v, want %v", c.Strategy(), tt.strategy)
			}
			v, err := run(ctx, c, A("arg"))
			if !errors.Is(err, tt.wantErr) || v != tt.wantValue {
				t.Fatalf("run = %v, %v; want %v, %v", v, err, tt.wantValue, tt.wantErr)
			}
		})
	}
}

func TestAsyncNilHandle(t *testing.T) {
	t.Parallel()
	c := AsyncFunc(func(context.Context, Args) *result.Handle { return nil })
	if _, err := run(context.Background(), c, Args{}); !errors.Is(err, ErrNilHandle) {
		t.Fatalf("err = %v", err)
	}
}

func TestNames(t *testing.T) {
	t.Parallel()
	if got := nameOf(Named("fetch", Func(echo))); got != "fetch" {
		t.Fatalf("Named = %q", got)
	}
	if got := nameOf(Func(echo)); !strings.HasSuffix(got, "governor.echo") {
		t.Fatalf("func name = %q", got)
	}
	if got := nameOf(nil); got != "<nil>" {
		t.Fatalf("nil name = %q", got)
	}
}

func TestFifoPushFront(t *testing.T) {
	t.Parallel()
	var q fifo
	mk := func(seq uint64) *call { return &call{info: CallInfo{Seq: seq}} }
	for i := uint64(1); i <= 100; i++ {
		q.push(mk(i))
	}
	for i := uint64(1); i <= 80; i++ {
		if c := q.pop(); c.info.Seq != i {
			t.Fatalf("pop = %d, want %d", c.info.Seq, i)
		}
	}
	c := q.pop()
	q.pushFront(c)
	if q.len() != 20 {
		t.Fatalf("len = %d, want 20", q.len())
	}
	for i := uint64(81); i <= 100; i++ {
		if c := q.pop(); c.info.Seq != i {
			t.Fatalf("pop after pushFront = %d, want %d", c.info.Seq, i)
		}
	}
	if q.pop() != nil {
		t.Fatal("pop on empty queue")
	}
	q.pushFront(mk(7))
	if c := q.pop(); c.info.Seq != 7 {
		t.Fatalf("pushFront on empty = %d", c.info.Seq)
	}
}
