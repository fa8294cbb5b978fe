package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seal1026/roosterProj/internal/app"
	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/registry"
	"github.com/Seal1026/roosterProj/internal/repo"
	"github.com/Seal1026/roosterProj/internal/scheduler"
	"github.com/Seal1026/roosterProj/internal/service"
)

// promptTable is an in-memory prompt store whose rows can be edited while
// the loop runs, the way an external editor changes the prompts table.
type promptTable struct {
	mu       sync.Mutex
	rows     map[string]model.ScheduledPrompt
	fetchErr error
}

var _ repo.PromptRepository = (*promptTable)(nil)

func newPromptTable(ps ...model.ScheduledPrompt) *promptTable {
	t := &promptTable{rows: map[string]model.ScheduledPrompt{}}
	for _, p := range ps {
		t.rows[p.ID] = p
	}
	return t
}

func (t *promptTable) put(p model.ScheduledPrompt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[p.ID] = p
}

func (t *promptTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, id)
}

func (t *promptTable) failFetch(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchErr = err
}

func (t *promptTable) FetchAll(ctx context.Context) ([]model.ScheduledPrompt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}
	out := make([]model.ScheduledPrompt, 0, len(t.rows))
	for _, p := range t.rows {
		out = append(out, p)
	}
	return out, nil
}

func (t *promptTable) Get(ctx context.Context, id string) (model.ScheduledPrompt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[id]
	if !ok {
		return model.ScheduledPrompt{}, repo.ErrNotFound
	}
	return p, nil
}

func (t *promptTable) AdvanceLastProcessed(ctx context.Context, id string, at time.Time) (model.ScheduledPrompt, error) {
	return model.ScheduledPrompt{}, errors.New("not used")
}

func (t *promptTable) SetActive(ctx context.Context, id string, active bool) (model.ScheduledPrompt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[id]
	if !ok {
		return model.ScheduledPrompt{}, repo.ErrNotFound
	}
	p.IsActive = active
	t.rows[id] = p
	return p, nil
}

type noopGenerator struct{}

func (noopGenerator) Generate(ctx context.Context, text string) (string, error) { return "ok", nil }

type noopDeliverer struct{}

func (noopDeliverer) Deliver(ctx context.Context, destination, subject, body string) error { return nil }

func row(id string, f model.Frequency, active bool) model.ScheduledPrompt {
	return model.ScheduledPrompt{ID: id, PromptText: "prompt " + id, Frequency: f, IsActive: active}
}

func newReconcileLoop(t *testing.T, table *promptTable, interval time.Duration) (*scheduler.Scheduler, *registry.Registry) {
	t.Helper()

	proc := service.NewProcessor(noopGenerator{}, noopDeliverer{}, table)
	reg := registry.New(proc, registry.WithLocation(time.UTC))
	engine := app.NewEngine(table, service.NewBatch(table, proc, 1), reg, nil)

	loop, err := scheduler.New("reconcile", interval, engine.Reconcile)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { loop.Stop() })
	return loop, reg
}

// waitFor polls cond until it holds or fails the test after timeout.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	if s, err := scheduler.New("reconcile", 0, func(context.Context) error { return nil }); err == nil || s != nil {
		t.Fatalf("expected error for zero interval, got s=%v err=%v", s, err)
	}
	if s, err := scheduler.New("reconcile", time.Second, nil); err == nil || s != nil {
		t.Fatalf("expected error for nil pass, got s=%v err=%v", s, err)
	}

	s, err := scheduler.New("", time.Second, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if st := s.Status(); st.Name != "scheduler" || st.Interval != time.Second || st.Running {
		t.Fatalf("unexpected initial status %+v", st)
	}
}

func TestReconcileLoop_RegistersActivePromptsOnStart(t *testing.T) {
	t.Parallel()

	table := newPromptTable(
		row("a", model.Daily, true),
		row("b", model.Weekly, false),
		row("c", model.Hourly, true),
	)
	// Long interval: only the pass made on Start runs.
	loop, reg := newReconcileLoop(t, table, time.Hour)

	if !loop.Start() {
		t.Fatalf("expected Start() true on first call")
	}
	if loop.Start() {
		t.Fatalf("expected Start() false when already running")
	}

	waitFor(t, time.Second, "first pass", func() bool { return loop.Status().Passes >= 1 })

	if reg.Len() != 2 || !reg.Has("a") || !reg.Has("c") {
		t.Fatalf("expected a and c registered, got %+v", reg.Entries())
	}
}

func TestReconcileLoop_ConvergesOnExternalEdits(t *testing.T) {
	t.Parallel()

	table := newPromptTable(row("a", model.Daily, true), row("b", model.Hourly, true))
	loop, reg := newReconcileLoop(t, table, 10*time.Millisecond)
	loop.Start()

	waitFor(t, time.Second, "initial entries", func() bool { return reg.Has("a") && reg.Has("b") })

	table.put(row("a", model.Monthly, true))
	table.put(row("b", model.Hourly, false))
	table.put(row("n", model.BiDaily, true))

	waitFor(t, time.Second, "entries to converge", func() bool {
		entries := reg.Entries()
		if len(entries) != 2 {
			return false
		}
		specs := map[string]string{}
		for _, e := range entries {
			specs[e.PromptID] = e.Spec
		}
		return specs["a"] == "0 9 1 * *" && specs["n"] == "0 9 * * *"
	})

	table.remove("a")
	waitFor(t, time.Second, "deleted prompt to be dropped", func() bool { return !reg.Has("a") && reg.Len() == 1 })
}

func TestReconcileLoop_FetchFailureKeepsEntriesAndIsReported(t *testing.T) {
	t.Parallel()

	table := newPromptTable(row("a", model.Daily, true))
	loop, reg := newReconcileLoop(t, table, 10*time.Millisecond)
	loop.Start()

	waitFor(t, time.Second, "a registered", func() bool { return reg.Has("a") })

	table.failFetch(errors.New("db down"))
	waitFor(t, time.Second, "failed pass", func() bool { return loop.Status().Failures >= 1 })

	if !reg.Has("a") {
		t.Fatalf("expected entries untouched while the store is unavailable")
	}
	if st := loop.Status(); st.LastErr == "" || !st.Running {
		t.Fatalf("expected running loop with last error, got %+v", st)
	}

	table.failFetch(nil)
	waitFor(t, time.Second, "recovery", func() bool { return loop.Status().LastErr == "" })
}

func TestReconcileLoop_TriggerRunsExtraPass(t *testing.T) {
	t.Parallel()

	table := newPromptTable()
	loop, reg := newReconcileLoop(t, table, time.Hour)
	loop.Start()
	waitFor(t, time.Second, "first pass", func() bool { return loop.Status().Passes >= 1 })

	table.put(row("late", model.Weekly, true))
	loop.Trigger()

	waitFor(t, time.Second, "triggered pass", func() bool { return reg.Has("late") })
}

func TestScheduler_PanicIsRecordedAndLoopContinues(t *testing.T) {
	t.Parallel()

	var panicked atomic.Bool
	var ok atomic.Int64
	s, err := scheduler.New("reconcile", 10*time.Millisecond, func(context.Context) error {
		if panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
		ok.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	waitFor(t, time.Second, "pass after panic", func() bool { return ok.Load() >= 1 })
	if st := s.Status(); st.Failures != 1 {
		t.Fatalf("expected the panic counted as one failure, got %+v", st)
	}
}

func TestScheduler_StopCancelsPassAndRestarts(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	s, err := scheduler.New("reconcile", time.Hour, func(ctx context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if !s.Start() {
			t.Fatalf("iteration %d: expected Start() true", i)
		}
		<-entered
		// Stop returns only once the blocked pass has seen cancellation.
		if !s.Stop() {
			t.Fatalf("iteration %d: expected Stop() true", i)
		}
		if s.IsRunning() {
			t.Fatalf("iteration %d: expected stopped", i)
		}
	}
	if s.Stop() {
		t.Fatalf("expected Stop() false when already stopped")
	}
}
