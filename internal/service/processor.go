package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Seal1026/roosterProj/internal/eligibility"
	"github.com/Seal1026/roosterProj/internal/metrics"
	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/report"
)

type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, destination, subject, body string) error
}

// Store loads prompts and commits their high-water mark.
type Store interface {
	Get(ctx context.Context, id string) (model.ScheduledPrompt, error)
	AdvanceLastProcessed(ctx context.Context, id string, at time.Time) (model.ScheduledPrompt, error)
}

// Outcome is the result of one Process call. Shared is set when the run was
// joined by another caller for the same prompt id.
type Outcome struct {
	PromptID    string
	RunID       string
	Success     bool
	Err         error
	Stage       Stage
	Shared      bool
	ProcessedAt time.Time
}

// Processor runs generate, deliver and commit for a single prompt. It is the
// only writer of lastProcessed, and runs for one prompt id never overlap.
type Processor struct {
	gen   Generator
	del   Deliverer
	store Store

	genTimeout time.Duration
	delTimeout time.Duration

	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Recorder

	group singleflight.Group
	locks keyLock

	onProcessed func(ctx context.Context, out Outcome) error
	onFailed    func(ctx context.Context, out Outcome) error
}

func NewProcessor(gen Generator, del Deliverer, store Store) *Processor {
	return &Processor{
		gen:        gen,
		del:        del,
		store:      store,
		genTimeout: 60 * time.Second,
		delTimeout: 10 * time.Second,
		now:        time.Now,
		log:        slog.Default(),
	}
}

func (p *Processor) WithHooks(
	onProcessed func(ctx context.Context, out Outcome) error,
	onFailed func(ctx context.Context, out Outcome) error,
) *Processor {
	p.onProcessed = onProcessed
	p.onFailed = onFailed
	return p
}

func (p *Processor) WithTimeouts(generation, delivery time.Duration) *Processor {
	if generation > 0 {
		p.genTimeout = generation
	}
	if delivery > 0 {
		p.delTimeout = delivery
	}
	return p
}

// WithClock sets the clock used for commits and for the eligibility check in
// ProcessIfDue. Its location decides calendar boundaries.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Processor) WithLogger(l *slog.Logger) *Processor {
	if l != nil {
		p.log = l
	}
	return p
}

func (p *Processor) WithMetrics(m *metrics.Recorder) *Processor {
	p.metrics = m
	return p
}

// Process runs the prompt once without checking eligibility. Concurrent
// calls for the same id share the in-flight run instead of starting another.
func (p *Processor) Process(ctx context.Context, prompt model.ScheduledPrompt) Outcome {
	v, _, shared := p.group.Do(prompt.ID, func() (any, error) {
		unlock := p.locks.lock(prompt.ID)
		defer unlock()
		return p.run(ctx, prompt), nil
	})
	out := v.(Outcome)
	out.Shared = shared
	return out
}

// ProcessIfDue reloads the prompt and runs it only if it is still due. The
// reload and the eligibility check happen while holding the prompt's lock,
// so a run committed by another caller is seen before generating. ran is
// false when the prompt was not due.
func (p *Processor) ProcessIfDue(ctx context.Context, id string) (out Outcome, ran bool, err error) {
	unlock := p.locks.lock(id)
	defer unlock()

	prompt, err := p.store.Get(ctx, id)
	if err != nil {
		return Outcome{PromptID: id}, false, fmt.Errorf("load prompt %s: %w", id, err)
	}
	due, err := eligibility.IsDue(prompt, p.now())
	if err != nil {
		return Outcome{PromptID: id}, false, err
	}
	if !due {
		return Outcome{PromptID: id}, false, nil
	}
	return p.run(ctx, prompt), true, nil
}

func (p *Processor) run(ctx context.Context, prompt model.ScheduledPrompt) Outcome {
	out := Outcome{PromptID: prompt.ID, RunID: uuid.NewString()}
	log := p.log.With("prompt_id", prompt.ID, "run_id", out.RunID)

	content, err := p.generate(ctx, prompt.PromptText)
	if err != nil {
		return p.fail(ctx, log, out, StageGeneration, fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	rep := report.Render(prompt, content, p.now())
	if err := p.deliver(ctx, prompt.Destination, rep); err != nil {
		return p.fail(ctx, log, out, StageDelivery, fmt.Errorf("%w: %w", ErrDelivery, err))
	}

	at := p.now()
	if _, err := p.store.AdvanceLastProcessed(ctx, prompt.ID, at); err != nil {
		return p.fail(ctx, log, out, StagePersistence, fmt.Errorf("%w: %w", ErrPersistence, err))
	}

	out.Success = true
	out.ProcessedAt = at
	log.Info("prompt processed", "frequency", prompt.Frequency)

	p.metrics.ObserveRun(true, "")
	if p.onProcessed != nil {
		if err := p.onProcessed(ctx, out); err != nil {
			log.Warn("processed hook failed", "err", err)
		}
	}
	return out
}

func (p *Processor) generate(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.genTimeout)
	defer cancel()

	content, err := p.gen.Generate(ctx, text)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty content")
	}
	return content, nil
}

func (p *Processor) deliver(ctx context.Context, destination string, rep report.Report) error {
	ctx, cancel := context.WithTimeout(ctx, p.delTimeout)
	defer cancel()

	return p.del.Deliver(ctx, destination, rep.Subject, rep.Body)
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, out Outcome, stage Stage, err error) Outcome {
	out.Err = err
	out.Stage = stage
	out.ProcessedAt = p.now()
	log.Error("prompt processing failed", "stage", stage, "err", err)

	p.metrics.ObserveRun(false, string(stage))
	if p.onFailed != nil {
		if herr := p.onFailed(ctx, out); herr != nil {
			log.Warn("failed hook failed", "err", herr)
		}
	}
	return out
}
