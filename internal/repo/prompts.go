package repo

import (
	"context"
	"errors"
	"time"

	"github.com/Seal1026/roosterProj/internal/model"
)

var ErrNotFound = errors.New("prompt not found")

type PromptRepository interface {
	FetchAll(ctx context.Context) ([]model.ScheduledPrompt, error)
	Get(ctx context.Context, id string) (model.ScheduledPrompt, error)
	AdvanceLastProcessed(ctx context.Context, id string, at time.Time) (model.ScheduledPrompt, error)
	SetActive(ctx context.Context, id string, active bool) (model.ScheduledPrompt, error)
}
