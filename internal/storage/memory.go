package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	episodes    map[string][]model.EpisodeRecord
	benchmarks  map[string]model.BenchmarkRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.episodes = make(map[string][]model.EpisodeRecord)
	s.benchmarks = make(map[string]model.BenchmarkRecord)
	return nil
}

func (s *MemoryStore) checkInit() error {
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInit(); err != nil {
		return err
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkInit(); err != nil {
		return model.RunRecord{}, false, err
	}

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkInit(); err != nil {
		return nil, err
	}

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveEpisodes(_ context.Context, runID string, episodes []model.EpisodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInit(); err != nil {
		return err
	}

	copied := make([]model.EpisodeRecord, len(episodes))
	copy(copied, episodes)
	s.episodes[runID] = copied
	return nil
}

func (s *MemoryStore) GetEpisodes(_ context.Context, runID string) ([]model.EpisodeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkInit(); err != nil {
		return nil, false, err
	}

	episodes, ok := s.episodes[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EpisodeRecord, len(episodes))
	copy(copied, episodes)
	return copied, true, nil
}

func (s *MemoryStore) SaveBenchmark(_ context.Context, benchmark model.BenchmarkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInit(); err != nil {
		return err
	}

	s.benchmarks[benchmark.RunID] = cloneBenchmark(benchmark)
	return nil
}

func (s *MemoryStore) GetBenchmark(_ context.Context, runID string) (model.BenchmarkRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkInit(); err != nil {
		return model.BenchmarkRecord{}, false, err
	}

	benchmark, ok := s.benchmarks[runID]
	if !ok {
		return model.BenchmarkRecord{}, false, nil
	}
	return cloneBenchmark(benchmark), true, nil
}

func cloneBenchmark(b model.BenchmarkRecord) model.BenchmarkRecord {
	out := b
	out.Returns = append([]float64(nil), b.Returns...)
	out.Labels = make([][]string, len(b.Labels))
	for i := range b.Labels {
		out.Labels[i] = append([]string(nil), b.Labels[i]...)
	}
	out.Agents = make([][]float64, len(b.Agents))
	for i := range b.Agents {
		out.Agents[i] = append([]float64(nil), b.Agents[i]...)
	}
	return out
}
