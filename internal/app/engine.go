// Package app wires the batch scheduler, the recurring registry and the
// prompt store behind the operations exposed to main and the HTTP layer.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/registry"
	"github.com/Seal1026/roosterProj/internal/repo"
	"github.com/Seal1026/roosterProj/internal/service"
)

type Engine struct {
	prompts  repo.PromptRepository
	batch    *service.Batch
	registry *registry.Registry
	log      *slog.Logger
}

func NewEngine(prompts repo.PromptRepository, batch *service.Batch, reg *registry.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{prompts: prompts, batch: batch, registry: reg, log: log}
}

func (e *Engine) RunDue(ctx context.Context) (service.Result, error) {
	return e.batch.RunDue(ctx)
}

func (e *Engine) ProcessOne(ctx context.Context, id string) (service.Result, error) {
	return e.batch.ProcessOne(ctx, id)
}

// RegisterAll loads every prompt and registers the active ones.
func (e *Engine) RegisterAll(ctx context.Context) (int, error) {
	all, err := e.prompts.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch prompts: %w", err)
	}
	n, err := e.registry.RegisterAll(all)
	e.log.Info("prompts registered", "total", len(all), "registered", n)
	return n, err
}

// SetActive persists the flag and then adds or removes the recurring entry.
// Activation is refused before anything is written when the prompt's
// frequency cannot be scheduled.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (model.ScheduledPrompt, error) {
	if active {
		cur, err := e.prompts.Get(ctx, id)
		if err != nil {
			return model.ScheduledPrompt{}, fmt.Errorf("load %s: %w", id, err)
		}
		if _, err := registry.Cadence(cur.Frequency); err != nil {
			return cur, fmt.Errorf("schedule %s: %w", id, err)
		}
	}

	p, err := e.prompts.SetActive(ctx, id, active)
	if err != nil {
		return model.ScheduledPrompt{}, fmt.Errorf("set active %s: %w", id, err)
	}
	if err := e.registry.SetActive(p, active); err != nil {
		// Frequency changed between the check and the write.
		if _, rerr := e.prompts.SetActive(ctx, id, !active); rerr != nil {
			e.log.Error("restore active flag", "prompt_id", id, "err", rerr)
		}
		return p, fmt.Errorf("schedule %s: %w", id, err)
	}
	return p, nil
}

// Reconcile syncs registry entries with the stored prompts. Toggles that land
// while the prompts are being loaded are kept.
func (e *Engine) Reconcile(ctx context.Context) error {
	since := e.registry.Snapshot()
	all, err := e.prompts.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch prompts: %w", err)
	}
	return e.registry.Reconcile(all, since)
}

func (e *Engine) Registry() *registry.Registry { return e.registry }
