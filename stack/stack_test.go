package stack_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tailored-agentic-units/persistence/graph"
	"github.com/tailored-agentic-units/persistence/observability"
	"github.com/tailored-agentic-units/persistence/owner"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/stack"
	"github.com/tailored-agentic-units/persistence/store"
)

func newStack(t *testing.T, cfg stack.Config, opts ...stack.Option) *stack.Stack {
	t.Helper()
	opts = append([]stack.Option{stack.WithObserver(observability.NoOpObserver{})}, opts...)
	s, err := stack.New(context.Background(), &cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// runMain drains the main owner until the test ends.
func runMain(t *testing.T, s *stack.Stack) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.MainQueue().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func insertNotes(t *testing.T, c *graph.Context, titles ...string) {
	t.Helper()
	err := c.PerformAndWait(context.Background(), func(context.Context) {
		for _, title := range titles {
			if _, err := c.Insert("note", map[string]any{"title": title}); err != nil {
				t.Errorf("Insert() error = %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("PerformAndWait() error = %v", err)
	}
}

func TestNew_Contexts(t *testing.T) {
	s := newStack(t, stack.DefaultConfig())

	if got := s.MainContext().ConcurrencyType(); got != save.MainQueue {
		t.Errorf("MainContext() type = %s, want main", got)
	}
	if s.MainContext().Queue() != s.MainQueue() {
		t.Error("MainContext() is not confined to MainQueue()")
	}
	if got := s.PrivateContext().ConcurrencyType(); got != save.PrivateQueue {
		t.Errorf("PrivateContext() type = %s, want private", got)
	}
	if s.Coordinator() == nil || s.Store() == nil {
		t.Error("Coordinator() and Store() must be set")
	}
}

func TestNew_Errors(t *testing.T) {
	unusable := filepath.Join(t.TempDir(), "missing", "dir", "notes.db")

	tests := []struct {
		name string
		cfg  stack.Config
	}{
		{"unusable sqlite location", stack.Config{Store: store.Config{Driver: store.DriverSQLite, Path: unusable}}},
		{"unknown driver", stack.Config{Store: store.Config{Driver: "tape"}}},
		{"unknown codec", stack.Config{Codec: "xml"}},
		{"unknown observer", stack.Config{Observers: []string{"carrier-pigeon"}}},
		{"invalid timeout", stack.Config{ShutdownTimeout: "later"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := stack.New(context.Background(), &tt.cfg)
			if err == nil {
				s.Close()
				t.Fatal("New() should fail")
			}
		})
	}
}

func TestSaveAndWait_ThreePendingInserts(t *testing.T) {
	cfg := stack.DefaultConfig()
	cfg.Store = store.Config{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "notes.db")}
	s := newStack(t, cfg)

	c := s.PrivateContext()
	insertNotes(t, c, "a", "b", "c")

	if err := s.Coordinator().SaveAndWait(context.Background(), c); err != nil {
		t.Fatalf("SaveAndWait() error = %v", err)
	}

	keys, err := s.Store().List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("store holds %d keys, want 3", len(keys))
	}

	reader, err := s.NewContext(save.Unconfined)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	n, err := reader.Fetch(context.Background(), "note")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Fetch() = %d, want 3", n)
	}
}

func TestSaveAsync_MainContext(t *testing.T) {
	s := newStack(t, stack.DefaultConfig())
	runMain(t, s)

	c := s.MainContext()
	insertNotes(t, c, "x")

	ran := make(chan bool, 1)
	s.Coordinator().SaveAsync(context.Background(), c, func(r save.Result) {
		if !r.OK() {
			t.Errorf("result = %v", r)
		}
		ran <- true
	})
	<-ran

	keys, _ := s.Store().List(context.Background())
	if len(keys) != 1 {
		t.Errorf("store holds %d keys, want 1", len(keys))
	}
}

func TestNewContext(t *testing.T) {
	s := newStack(t, stack.DefaultConfig())

	first, err := s.NewContext(save.PrivateQueue)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	second, err := s.NewContext(save.PrivateQueue)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if first.Queue() == second.Queue() || first.Queue() == s.PrivateContext().Queue() {
		t.Error("private contexts must each get an owner of their own")
	}

	mainCtx, err := s.NewContext(save.MainQueue)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if mainCtx.Queue() != s.MainQueue() {
		t.Error("main contexts must share the main owner")
	}

	if _, err := s.NewContext(save.ConcurrencyType(5)); err == nil {
		t.Error("NewContext() should reject unknown types")
	}
}

func TestClose(t *testing.T) {
	s := newStack(t, stack.DefaultConfig())
	c := s.PrivateContext()
	insertNotes(t, c, "queued")

	var saved bool
	s.Coordinator().SaveAsync(context.Background(), c, func(r save.Result) { saved = r.OK() })

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !saved {
		t.Error("Close() did not let queued saves finish")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := s.NewContext(save.PrivateQueue); !errors.Is(err, stack.ErrClosed) {
		t.Errorf("NewContext() after Close error = %v, want ErrClosed", err)
	}

	err := s.Coordinator().SaveAndWait(context.Background(), c)
	if err != nil && !errors.Is(err, owner.ErrClosed) {
		t.Errorf("SaveAndWait() after Close error = %v", err)
	}
}

func TestWithStore(t *testing.T) {
	st := store.NewMemoryStore()
	s := newStack(t, stack.DefaultConfig(), stack.WithStore(st))

	c := s.PrivateContext()
	insertNotes(t, c, "a", "b")
	if err := s.Coordinator().SaveAndWait(context.Background(), c); err != nil {
		t.Fatalf("SaveAndWait() error = %v", err)
	}
	if st.Len() != 2 {
		t.Errorf("store holds %d entries, want 2", st.Len())
	}
}

func TestNew_PrometheusObserver(t *testing.T) {
	cfg := stack.DefaultConfig()
	cfg.Observers = []string{"prometheus"}

	s, err := stack.New(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := s.PrivateContext()
	insertNotes(t, c, "a", "b", "c")
	if err := s.Coordinator().SaveAndWait(context.Background(), c); err != nil {
		t.Fatalf("SaveAndWait() error = %v", err)
	}

	expected := `
# HELP persistence_events_total Number of observability events by type and source.
# TYPE persistence_events_total counter
persistence_events_total{source="save.SaveAndWait",type="save.committed"} 1
persistence_events_total{source="save.SaveAndWait",type="save.dispatched"} 1
`
	if err := testutil.GatherAndCompare(prometheus.DefaultGatherer, strings.NewReader(expected), "persistence_events_total"); err != nil {
		t.Errorf("unexpected counters: %v", err)
	}
}
