package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"unq/internal/eventbus"
	"unq/pkg/governor"
	logx "unq/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "calls."+driver)
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		if st, err := Open(Config{Driver: driver}, logx.Nop()); st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver)
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i := 1; i <= 5; i++ {
				e := Entry{
					ID:         "id-" + string(rune('0'+i)),
					Name:       "echo",
					Seq:        uint64(i),
					Mode:       "keep",
					Enqueued:   base,
					Dispatched: base.Add(time.Duration(i) * time.Second),
					TookMS:     int64(i),
					OK:         i != 3,
				}
				if !e.OK {
					e.Error = "boom"
				}
				if err := st.Append(ctx, e); err != nil {
					t.Fatalf("Append(%d) error: %v", i, err)
				}
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent error: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Recent returned %d entries, want 3", len(got))
			}
			for i, e := range got {
				if e.Seq != uint64(i+3) {
					t.Fatalf("entry %d seq = %d, want %d", i, e.Seq, i+3)
				}
			}
			if got[0].OK || got[0].Error != "boom" {
				t.Fatalf("failed entry = %+v", got[0])
			}
			if !got[1].Dispatched.Equal(base.Add(4 * time.Second)) {
				t.Fatalf("dispatched = %v", got[1].Dispatched)
			}
			if none, err := st.Recent(ctx, 0); err != nil || none != nil {
				t.Fatalf("Recent(0) = %v, %v", none, err)
			}
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(context.Background(), Entry{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}

func TestEntryFromEvent(t *testing.T) {
	t.Parallel()
	ce := governor.CallEvent{
		CallInfo: governor.CallInfo{ID: "a", Name: "n", Seq: 9},
		Mode:     "discard",
		Duration: 1500 * time.Millisecond,
		Error:    "bad",
	}
	e, ok := EntryFromEvent(eventbus.Event{Type: governor.EventFailed, Data: ce})
	if !ok || e.OK || e.TookMS != 1500 || e.Seq != 9 || e.Error != "bad" {
		t.Fatalf("EntryFromEvent = %+v, %v", e, ok)
	}
	if _, ok := EntryFromEvent(eventbus.Event{Type: governor.EventDispatched, Data: ce}); ok {
		t.Fatal("dispatched event converted")
	}
	if _, ok := EntryFromEvent(eventbus.Event{Type: governor.EventCompleted, Data: "x"}); ok {
		t.Fatal("foreign payload converted")
	}
}

func TestRecorderJournalsGovernorCalls(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	bus := eventbus.New()
	rec := NewRecorder(st, bus, 16, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	g, err := governor.New(0, governor.WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	g.Start()
	ok := g.Go(governor.Func(func(context.Context, governor.Args) (any, error) { return 1, nil }))
	bad := g.Go(governor.Func(func(context.Context, governor.Args) (any, error) { return nil, errors.New("nope") }))
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	_, _ = ok.Wait(wctx)
	_, _ = bad.Wait(wctx)
	if err := g.Close(wctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.Written() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("journaled %d calls, want 2", len(got))
	}
	var oks, fails int
	for _, e := range got {
		if e.OK {
			oks++
		} else {
			fails++
		}
	}
	if oks != 1 || fails != 1 {
		t.Fatalf("entries = %+v", got)
	}
}
