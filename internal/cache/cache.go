package cache

import (
	"context"
	"time"
)

type RunRecord struct {
	PromptID    string    `json:"promptId"`
	RunID       string    `json:"runId"`
	Success     bool      `json:"success"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

type RunCache interface {
	StoreRun(ctx context.Context, rec RunRecord) error
	LastRun(ctx context.Context, promptID string) (RunRecord, bool, error)
}
