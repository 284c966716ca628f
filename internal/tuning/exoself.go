package tuning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"countwatch/internal/model"
)

// Exoself hill-climbs the continuous knobs of a model configuration:
// encoder resolution, sequence decay, activation threshold and classifier
// alpha. A nil GoalFitness tunes for every attempt.
type Exoself struct {
	Rand               *rand.Rand
	Steps              int
	StepSize           float64
	PerturbationRange  float64
	AnnealingFactor    float64
	MinImprovement     float64
	GoalFitness        *float64
	CandidateSelection string
	Observe            ObserveFn
	mu                 sync.Mutex
}

const (
	CandidateSelectBestSoFar = "best_so_far"
	CandidateSelectOriginal  = "original"
	CandidateSelectDynamicA  = "dynamic"
	CandidateSelectDynamic   = "dynamic_random"
	CandidateSelectAll       = "all"
	CandidateSelectAllRandom = "all_random"
	CandidateSelectRecent    = "recent"
	CandidateSelectRecentRnd = "recent_random"
)

var ErrUnknownSelection = errors.New("unsupported candidate selection")

const (
	knobResolution = iota
	knobDecay
	knobThreshold
	knobAlpha
	knobCount
)

const (
	maxDecay = 0.95
	minAlpha = 0.01
)

func (e *Exoself) Tune(ctx context.Context, params model.ModelParams, attempts int, fitness FitnessFn) (model.ModelParams, error) {
	best, _, err := e.TuneWithReport(ctx, params, attempts, fitness)
	return best, err
}

func (e *Exoself) TuneWithReport(ctx context.Context, params model.ModelParams, attempts int, fitness FitnessFn) (model.ModelParams, TuneReport, error) {
	report := TuneReport{AttemptsPlanned: attempts}
	if err := ctx.Err(); err != nil {
		return model.ModelParams{}, report, err
	}
	if e == nil || e.Rand == nil {
		return model.ModelParams{}, report, errors.New("random source is required")
	}
	if attempts <= 0 {
		return params.Clone(), report, nil
	}
	if e.Steps <= 0 {
		return model.ModelParams{}, report, errors.New("steps must be > 0")
	}
	if e.StepSize <= 0 {
		return model.ModelParams{}, report, errors.New("step size must be > 0")
	}
	if e.PerturbationRange < 0 {
		return model.ModelParams{}, report, errors.New("perturbation range must be >= 0")
	}
	if e.AnnealingFactor < 0 {
		return model.ModelParams{}, report, errors.New("annealing factor must be >= 0")
	}
	if e.MinImprovement < 0 {
		return model.ModelParams{}, report, errors.New("min improvement must be >= 0")
	}
	if fitness == nil {
		return model.ModelParams{}, report, errors.New("fitness function is required")
	}
	if _, err := e.candidateBases(params, params, params); err != nil {
		return model.ModelParams{}, report, err
	}
	perturbationRange := e.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1.0
	}
	annealingFactor := e.AnnealingFactor
	if annealingFactor == 0 {
		annealingFactor = 1.0
	}

	best := params.Clone()
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return model.ModelParams{}, report, err
	}
	report.BestFitness = bestFitness
	if e.goalReached(bestFitness) {
		report.GoalReached = true
		return best, report, nil
	}
	recentBase := best.Clone()

	for a := 0; a < attempts; a++ {
		bases, err := e.candidateBases(best, params, recentBase)
		if err != nil {
			return model.ModelParams{}, report, err
		}
		report.AttemptsExecuted++
		localBest := best.Clone()
		localBestFitness := bestFitness
		for _, base := range bases {
			candidate, err := e.perturbCandidate(ctx, base, perturbationRange, annealingFactor)
			if err != nil {
				return model.ModelParams{}, report, err
			}
			candidateFitness, err := fitness(ctx, candidate)
			if err != nil {
				return model.ModelParams{}, report, err
			}
			report.CandidateEvaluations++
			if e.Observe != nil {
				e.Observe(candidate.Clone(), candidateFitness)
			}
			if candidateFitness > localBestFitness+e.MinImprovement {
				localBest = candidate
				localBestFitness = candidateFitness
			}
		}
		recentBase = localBest.Clone()
		if localBestFitness > bestFitness+e.MinImprovement {
			best = localBest
			bestFitness = localBestFitness
			report.AcceptedCandidates++
		} else {
			report.RejectedCandidates++
		}
		if e.goalReached(bestFitness) {
			report.GoalReached = true
			break
		}
	}
	report.BestFitness = bestFitness
	return best, report, nil
}

func (e *Exoself) goalReached(fitness float64) bool {
	return e.GoalFitness != nil && fitness >= *e.GoalFitness
}

// ValidateCandidateSelection reports whether name is a known selection mode.
func ValidateCandidateSelection(name string) error {
	mode := NormalizeCandidateSelectionName(name)
	if _, err := (&Exoself{}).candidateBasesForMode(nonRandomModeFor(mode), model.ModelParams{}, model.ModelParams{}, model.ModelParams{}); err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	return nil
}

func (e *Exoself) randIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rand.Intn(n)
}

func (e *Exoself) randFloat64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rand.Float64()
}

func NormalizeCandidateSelectionName(name string) string {
	if name == "" {
		return CandidateSelectBestSoFar
	}
	return name
}

func (e *Exoself) candidateBases(best, original, recent model.ModelParams) ([]model.ModelParams, error) {
	mode := NormalizeCandidateSelectionName(e.CandidateSelection)
	if isRandomSelection(mode) {
		pool, err := e.candidateBasesForMode(nonRandomModeFor(mode), best, original, recent)
		if err != nil {
			return nil, err
		}
		return e.randomSubset(pool), nil
	}
	return e.candidateBasesForMode(mode, best, original, recent)
}

func (e *Exoself) candidateBasesForMode(mode string, best, original, recent model.ModelParams) ([]model.ModelParams, error) {
	switch mode {
	case CandidateSelectBestSoFar:
		return []model.ModelParams{best.Clone()}, nil
	case CandidateSelectOriginal:
		return []model.ModelParams{original.Clone()}, nil
	case CandidateSelectDynamicA:
		return []model.ModelParams{best.Clone(), original.Clone()}, nil
	case CandidateSelectRecent:
		return []model.ModelParams{recent.Clone()}, nil
	case CandidateSelectAll:
		return []model.ModelParams{best.Clone(), original.Clone(), recent.Clone()}, nil
	default:
		return nil, ErrUnknownSelection
	}
}

func isRandomSelection(mode string) bool {
	switch mode {
	case CandidateSelectDynamic, CandidateSelectAllRandom, CandidateSelectRecentRnd:
		return true
	default:
		return false
	}
}

func nonRandomModeFor(mode string) string {
	switch mode {
	case CandidateSelectDynamic:
		return CandidateSelectDynamicA
	case CandidateSelectAllRandom:
		return CandidateSelectAll
	case CandidateSelectRecentRnd:
		return CandidateSelectRecent
	default:
		return mode
	}
}

func (e *Exoself) randomSubset(pool []model.ModelParams) []model.ModelParams {
	if len(pool) <= 1 {
		return pool
	}
	mutationP := 1 / math.Sqrt(float64(len(pool)))
	chosen := make([]model.ModelParams, 0, len(pool))
	for i := range pool {
		if e.randFloat64() < mutationP {
			chosen = append(chosen, pool[i].Clone())
		}
	}
	if len(chosen) > 0 {
		return chosen
	}
	return []model.ModelParams{pool[e.randIntn(len(pool))].Clone()}
}

func (e *Exoself) perturbCandidate(ctx context.Context, base model.ModelParams, perturbationRange, annealingFactor float64) (model.ModelParams, error) {
	candidate := base.Clone()
	for s := 0; s < e.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return model.ModelParams{}, err
		}
		spread := e.StepSize * perturbationRange * math.Pow(annealingFactor, float64(s))
		delta := (e.randFloat64()*2 - 1) * spread
		perturbKnob(&candidate, e.randIntn(knobCount), delta)
	}
	return candidate, nil
}

// perturbKnob moves one knob by delta and clamps it back into its valid
// range. Resolution moves multiplicatively.
func perturbKnob(p *model.ModelParams, knob int, delta float64) {
	switch knob {
	case knobResolution:
		for i := range p.Encoders {
			enc := &p.Encoders[i]
			if enc.FieldName != p.PredictedField || enc.Type != model.EncoderScalar {
				continue
			}
			span := enc.MaxValue - enc.MinValue
			enc.Resolution = clamp(enc.Resolution*math.Exp(delta), span/1000, span)
		}
	case knobDecay:
		p.Sequence.Decay = clamp(p.Sequence.Decay+delta, 0, maxDecay)
	case knobThreshold:
		p.Sequence.ActivationThreshold = clamp(p.Sequence.ActivationThreshold+delta, 0, 1)
	case knobAlpha:
		p.Classifier.Alpha = clamp(p.Classifier.Alpha+delta, minAlpha, 1)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
