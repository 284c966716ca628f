package storage

import (
	"context"

	"countwatch/internal/model"
)

// Store persists stage runs and swarm candidates.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first. An empty stage matches every stage
	// and limit <= 0 disables the limit.
	ListRuns(ctx context.Context, stage string, limit int) ([]model.RunRecord, error)
	SaveCandidates(ctx context.Context, runID string, candidates []model.CandidateRecord) error
	GetCandidates(ctx context.Context, runID string) ([]model.CandidateRecord, bool, error)
}
