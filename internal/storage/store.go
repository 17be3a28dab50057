package storage

import (
	"context"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

// Store defines persistence for run summaries, per-episode scores and
// benchmark aggregates.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveEpisodes(ctx context.Context, runID string, episodes []model.EpisodeRecord) error
	GetEpisodes(ctx context.Context, runID string) ([]model.EpisodeRecord, bool, error)
	SaveBenchmark(ctx context.Context, benchmark model.BenchmarkRecord) error
	GetBenchmark(ctx context.Context, runID string) (model.BenchmarkRecord, bool, error)
}
