package storage

import (
	"context"
	"sort"
	"sync"

	"countwatch/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	candidates  map[string][]model.CandidateRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.candidates = make(map[string][]model.CandidateRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	run.VersionedRecord = Versioned()
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, stage string, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if stage != "" && run.Stage != stage {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sortRunsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveCandidates(_ context.Context, runID string, candidates []model.CandidateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.candidates[runID] = stampCandidates(candidates)
	return nil
}

func (s *MemoryStore) GetCandidates(_ context.Context, runID string) ([]model.CandidateRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates, ok := s.candidates[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.CandidateRecord, len(candidates))
	for i, c := range candidates {
		c.Params = c.Params.Clone()
		copied[i] = c
	}
	return copied, true, nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	if run.Metrics != nil {
		metrics := make(map[string]float64, len(run.Metrics))
		for k, v := range run.Metrics {
			metrics[k] = v
		}
		run.Metrics = metrics
	}
	if run.BestScore != nil {
		score := *run.BestScore
		run.BestScore = &score
	}
	return run
}

func sortRunsNewestFirst(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
