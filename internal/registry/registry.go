// Package registry keeps one recurring cron entry per active prompt. Each
// wakeup asks the processor to run the prompt if it is still due; the reload
// and eligibility check happen under the processor's per-prompt lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Seal1026/roosterProj/internal/metrics"
	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/service"
)

var cadences = map[model.Frequency]string{
	model.Hourly:  "20 * * * *",
	model.Daily:   "0 9 * * *",
	model.BiDaily: "0 9 * * *",
	model.Weekly:  "0 9 * * 1",
	model.Monthly: "0 9 1 * *",
}

// Cadence returns the cron expression that wakes prompts of frequency f.
func Cadence(f model.Frequency) (string, error) {
	spec, ok := cadences[f]
	if !ok {
		return "", fmt.Errorf("%w: %q", model.ErrUnsupportedFrequency, string(f))
	}
	return spec, nil
}

type Runner interface {
	ProcessIfDue(ctx context.Context, id string) (service.Outcome, bool, error)
}

type entry struct {
	id        cron.EntryID
	frequency model.Frequency
	spec      string
}

// EntryInfo describes a registered prompt. Next is zero while stopped.
type EntryInfo struct {
	PromptID  string          `json:"promptId"`
	Frequency model.Frequency `json:"frequency"`
	Spec      string          `json:"spec"`
	Next      time.Time       `json:"next,omitzero"`
}

type Registry struct {
	runner Runner

	loc         *time.Location
	fireTimeout time.Duration
	log         *slog.Logger
	metrics     *metrics.Recorder

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry
	running bool

	// version counts registry mutations; touched records the version of the
	// last Register or Unregister per id.
	version uint64
	touched map[string]uint64
}

type Option func(*Registry)

func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithFireTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fireTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

func New(runner Runner, opts ...Option) *Registry {
	r := &Registry{
		runner:      runner,
		loc:         time.Local,
		fireTimeout: 3 * time.Minute,
		log:         slog.Default(),
		entries:     make(map[string]entry),
		touched:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(cron.WithLocation(r.loc))
	return r
}

// Register schedules p, replacing any entry already held for p.ID.
func (r *Registry) Register(p model.ScheduledPrompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(p)
}

func (r *Registry) registerLocked(p model.ScheduledPrompt) error {
	spec, err := Cadence(p.Frequency)
	if err != nil {
		return err
	}

	r.removeLocked(p.ID)

	id := p.ID
	eid, err := r.cron.AddFunc(spec, func() { r.fire(id) })
	if err != nil {
		return fmt.Errorf("add cron entry for %s: %w", id, err)
	}
	r.entries[id] = entry{id: eid, frequency: p.Frequency, spec: spec}
	r.touchLocked(id)
	r.metrics.SetEntries(len(r.entries))

	r.log.Info("prompt registered", "prompt_id", id, "frequency", p.Frequency, "spec", spec)
	return nil
}

// Unregister removes the entry for id if there is one. A fire already
// running for id is not interrupted.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked(id)
	if r.removeLocked(id) {
		r.log.Info("prompt unregistered", "prompt_id", id)
	}
}

func (r *Registry) SetActive(p model.ScheduledPrompt, active bool) error {
	if active {
		return r.Register(p)
	}
	r.Unregister(p.ID)
	return nil
}

// RegisterAll registers every active prompt and returns how many were
// registered. Failures for individual prompts are joined and do not stop
// the rest.
func (r *Registry) RegisterAll(prompts []model.ScheduledPrompt) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, p := range prompts {
		if !p.IsActive {
			continue
		}
		if err := r.Register(p); err != nil {
			errs = append(errs, fmt.Errorf("prompt %s: %w", p.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Snapshot returns the current mutation version. Take it before loading the
// prompt set that is later passed to Reconcile.
func (r *Registry) Snapshot() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Reconcile brings the entry set in line with prompts, loaded after the
// snapshot version since: active prompts that are missing or changed
// frequency are registered, everything else is removed. Ids registered or
// unregistered after since are left alone, since prompts may predate them.
func (r *Registry) Reconcile(prompts []model.ScheduledPrompt, since uint64) error {
	want := make(map[string]model.ScheduledPrompt, len(prompts))
	for _, p := range prompts {
		if p.IsActive {
			want[p.ID] = p
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed, registered, skipped := 0, 0, 0
	for id := range r.entries {
		if _, ok := want[id]; ok {
			continue
		}
		if r.touched[id] > since {
			skipped++
			continue
		}
		r.touchLocked(id)
		r.removeLocked(id)
		removed++
	}

	var errs []error
	for id, p := range want {
		if e, ok := r.entries[id]; ok && e.frequency == p.Frequency {
			continue
		}
		if r.touched[id] > since {
			skipped++
			continue
		}
		if err := r.registerLocked(p); err != nil {
			errs = append(errs, fmt.Errorf("prompt %s: %w", id, err))
			continue
		}
		registered++
	}

	r.metrics.ObserveReconcile()
	if removed > 0 || registered > 0 || skipped > 0 {
		r.log.Info("registry reconciled", "removed", removed, "registered", registered, "skipped_newer", skipped)
	}
	return errors.Join(errs...)
}

func (r *Registry) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}
	r.cron.Start()
	r.running = true
	r.log.Info("registry started", "entries", len(r.entries), "location", r.loc.String())
	return true
}

// Stop halts future wakeups and waits for running fires until ctx is done.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	done := r.cron.Stop()
	r.mu.Unlock()

	select {
	case <-done.Done():
		r.log.Info("registry stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running fires: %w", ctx.Err())
	}
}

func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryInfo, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, EntryInfo{
			PromptID:  id,
			Frequency: e.frequency,
			Spec:      e.spec,
			Next:      r.cron.Entry(e.id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromptID < out[j].PromptID })
	return out
}

func (r *Registry) touchLocked(id string) {
	r.version++
	r.touched[id] = r.version
}

func (r *Registry) removeLocked(id string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	r.cron.Remove(e.id)
	delete(r.entries, id)
	r.metrics.SetEntries(len(r.entries))
	return true
}

func (r *Registry) fire(id string) {
	log := r.log.With("prompt_id", id)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("registry fire panic recovered", "panic", rec)
			r.metrics.ObserveFire("panic")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.fireTimeout)
	defer cancel()

	out, ran, err := r.runner.ProcessIfDue(ctx, id)
	switch {
	case err != nil:
		log.Error("registry fire", "err", err)
		r.metrics.ObserveFire("error")
	case !ran:
		log.Debug("registry fire: not due")
		r.metrics.ObserveFire("skipped")
	case !out.Success:
		r.metrics.ObserveFire("failed")
	default:
		r.metrics.ObserveFire("processed")
	}
}
