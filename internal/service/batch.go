package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Seal1026/roosterProj/internal/eligibility"
	"github.com/Seal1026/roosterProj/internal/metrics"
	"github.com/Seal1026/roosterProj/internal/model"
)

type PromptSource interface {
	FetchAll(ctx context.Context) ([]model.ScheduledPrompt, error)
	Get(ctx context.Context, id string) (model.ScheduledPrompt, error)
}

type PromptError struct {
	PromptID string `json:"promptId"`
	Message  string `json:"message"`
}

type Result struct {
	ProcessedCount int           `json:"processedCount"`
	Errors         []PromptError `json:"errors"`
}

type Batch struct {
	prompts PromptSource
	proc    *Processor
	limit   int

	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Recorder
}

func NewBatch(prompts PromptSource, proc *Processor, limit int) *Batch {
	if limit <= 0 {
		limit = 1
	}
	return &Batch{
		prompts: prompts,
		proc:    proc,
		limit:   limit,
		now:     time.Now,
		log:     slog.Default(),
	}
}

// WithClock sets the clock used for eligibility. Its location decides
// calendar boundaries for daily and monthly prompts.
func (b *Batch) WithClock(now func() time.Time) *Batch {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Batch) WithLogger(l *slog.Logger) *Batch {
	if l != nil {
		b.log = l
	}
	return b
}

func (b *Batch) WithMetrics(m *metrics.Recorder) *Batch {
	b.metrics = m
	return b
}

type runResult struct {
	out Outcome
	ran bool
	err error
}

// RunDue evaluates every prompt against the current time and processes the
// due ones. The fetched set only narrows the candidates: each candidate is
// reloaded and checked again under its lock before it runs. The error is
// non-nil only when the prompt set cannot be fetched.
func (b *Batch) RunDue(ctx context.Context) (Result, error) {
	all, err := b.prompts.FetchAll(ctx)
	if err != nil {
		return Result{Errors: []PromptError{}}, fmt.Errorf("fetch prompts: %w", err)
	}
	b.metrics.ObserveBatch()

	now := b.now()
	results := make([]*runResult, len(all))

	var g errgroup.Group
	g.SetLimit(b.limit)

	candidates := 0
	for i, p := range all {
		ok, err := eligibility.IsDue(p, now)
		if err != nil {
			results[i] = &runResult{err: err}
			continue
		}
		if !ok {
			continue
		}
		candidates++
		g.Go(func() error {
			out, ran, err := b.proc.ProcessIfDue(ctx, p.ID)
			results[i] = &runResult{out: out, ran: ran, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Errors: []PromptError{}}
	skipped := 0
	for i, p := range all {
		r := results[i]
		switch {
		case r == nil:
		case r.err != nil:
			res.Errors = append(res.Errors, PromptError{PromptID: p.ID, Message: r.err.Error()})
		case !r.ran:
			skipped++
		default:
			res.add(r.out)
		}
	}

	b.log.Info("batch completed",
		"prompts", len(all),
		"due", candidates,
		"no_longer_due", skipped,
		"processed", res.ProcessedCount,
		"errors", len(res.Errors),
	)
	return res, nil
}

// ProcessOne runs a single prompt regardless of eligibility.
func (b *Batch) ProcessOne(ctx context.Context, id string) (Result, error) {
	p, err := b.prompts.Get(ctx, id)
	if err != nil {
		return Result{Errors: []PromptError{}}, fmt.Errorf("load prompt %s: %w", id, err)
	}

	res := Result{Errors: []PromptError{}}
	res.add(b.proc.Process(ctx, p))
	return res, nil
}

func (r *Result) add(out Outcome) {
	if out.Success {
		r.ProcessedCount++
		return
	}
	r.Errors = append(r.Errors, PromptError{PromptID: out.PromptID, Message: out.Err.Error()})
}
