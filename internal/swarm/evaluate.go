package swarm

import (
	"context"
	"math"
	"sync"

	"countwatch/internal/metrics"
	"countwatch/internal/model"
	"countwatch/internal/predictor"
)

// WorstScore stands in for candidates that never produced a scorable
// prediction.
const WorstScore = math.MaxFloat64

// scoreSpec is the one-step altMAPE over the whole stream.
func scoreSpec(field string, rows int) metrics.Spec {
	if rows < 1 {
		rows = 1
	}
	return metrics.Spec{
		Field:            field,
		Metric:           metrics.MetricMultiStep,
		InferenceElement: model.InferenceMultiStepBestPredictions,
		Params:           metrics.Params{ErrorMetric: metrics.ErrorAltMAPE, Window: rows, Steps: 1},
	}
}

// Evaluate replays records once through a fresh model built from params and
// returns its one-step altMAPE. Lower is better.
func Evaluate(ctx context.Context, params model.ModelParams, records []model.Record) (float64, error) {
	m, err := predictor.Create(params)
	if err != nil {
		return 0, err
	}
	spec := scoreSpec(params.PredictedField, len(records))
	manager, err := metrics.NewManager([]metrics.Spec{spec}, m.FieldInfo(), m.InferenceType())
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		res, err := m.Run(rec)
		if err != nil {
			return 0, err
		}
		manager.Update(res)
	}
	score, ok := manager.Metrics()[spec.Label()]
	if !ok || math.IsNaN(score) || math.IsInf(score, 0) {
		return WorstScore, nil
	}
	return score, nil
}

// scoreFn scores one candidate; lower is better.
type scoreFn func(ctx context.Context, params model.ModelParams) (float64, error)

// evaluateCandidates scores candidates on a bounded worker pool. The first
// error cancels the remaining work and is returned.
func evaluateCandidates(ctx context.Context, candidates []model.ModelParams, workers int, score scoreFn) ([]float64, error) {
	type job struct {
		idx    int
		params model.ModelParams
	}
	type result struct {
		idx   int
		score float64
		err   error
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job)
	results := make(chan result, len(candidates))

	workerCount := workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(candidates) {
		workerCount = len(candidates)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := poolCtx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				s, err := score(poolCtx, j.params)
				results <- result{idx: j.idx, score: s, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range candidates {
			select {
			case jobs <- job{idx: i, params: candidates[i]}:
			case <-poolCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	scores := make([]float64, len(candidates))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		scores[res.idx] = res.score
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}
