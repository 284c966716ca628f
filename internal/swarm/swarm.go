// Package swarm searches model configurations for a swarm description: it
// enumerates a parameter grid, scores every candidate on a worker pool and
// optionally hill-climbs the winner.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"countwatch/internal/dataset"
	"countwatch/internal/model"
	"countwatch/internal/stats"
	"countwatch/internal/tuning"
)

const (
	DefaultMaxWorkers     = 8
	DefaultWorkDir        = "swarmTemp"
	DefaultRefineAttempts = 12
	DefaultTuneSteps      = 2
	DefaultTuneStepSize   = 0.3
	DefaultTuneAnnealing  = 0.9

	fileScheme = "file://"
)

var (
	ErrInvalidConfig = errors.New("invalid swarm config")
	ErrWorkDirExists = errors.New("swarm work directory already exists")
)

type Options struct {
	MaxWorkers  int
	Overwrite   bool
	OutDir      string
	PermWorkDir string
	// BaseDir resolves relative stream sources; empty means the working
	// directory.
	BaseDir        string
	Seed           int64
	RefineAttempts int
	RunID          string
	Tune           TuneOptions
	Out            io.Writer
	Now            func() time.Time
}

// TuneOptions configures the hill-climb that refines large swarms. Zero
// values take the package defaults. A non-nil GoalScore stops refinement once
// the best score is at or below it.
type TuneOptions struct {
	Selection         string
	Steps             int
	StepSize          float64
	PerturbationRange float64
	AnnealingFactor   float64
	MinImprovement    float64
	GoalScore         *float64
}

type Result struct {
	RunID       string
	Best        model.ModelParams
	BestIndex   int
	Score       float64
	Candidates  []model.CandidateRecord
	Rows        int
	Source      string
	ArtifactDir string
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.PermWorkDir == "" {
		o.PermWorkDir = DefaultWorkDir
	}
	if o.OutDir == "" {
		o.OutDir = o.PermWorkDir
	}
	if o.RefineAttempts <= 0 {
		o.RefineAttempts = DefaultRefineAttempts
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Tune.Steps <= 0 {
		o.Tune.Steps = DefaultTuneSteps
	}
	if o.Tune.StepSize <= 0 {
		o.Tune.StepSize = DefaultTuneStepSize
	}
	if o.Tune.AnnealingFactor <= 0 {
		o.Tune.AnnealingFactor = DefaultTuneAnnealing
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RunWithConfig runs a full swarm and returns the best configuration found.
func RunWithConfig(ctx context.Context, cfg model.SwarmConfig, opts Options) (Result, error) {
	opts = opts.withDefaults()
	started := opts.Now()
	if err := Validate(cfg); err != nil {
		return Result{}, err
	}
	if err := validateTune(opts.Tune); err != nil {
		return Result{}, err
	}

	source := ResolveSource(cfg.StreamDef.Streams[0].Source, opts.BaseDir)
	records, err := dataset.ReadAll(source, cfg.IterationCount)
	if err != nil {
		return Result{}, fmt.Errorf("load swarm stream: %w", err)
	}
	if err := prepareWorkDir(opts.PermWorkDir, opts.Overwrite); err != nil {
		return Result{}, err
	}

	permutations := Permutations(cfg)
	scores, err := evaluateCandidates(ctx, permutations, opts.MaxWorkers, func(ctx context.Context, params model.ModelParams) (float64, error) {
		return Evaluate(ctx, params, records)
	})
	if err != nil {
		return Result{}, err
	}
	candidates := make([]model.CandidateRecord, 0, len(permutations))
	for i, params := range permutations {
		candidates = append(candidates, model.CandidateRecord{
			VersionedRecord: model.CurrentVersion(),
			Index:           i,
			Origin:          model.CandidateOriginPermutation,
			Params:          params,
			Score:           scores[i],
		})
	}
	fmt.Fprintf(opts.Out, "swarm: evaluated %d permutations over %d records\n", len(candidates), len(records))

	if cfg.SwarmSize == model.SwarmSizeLarge {
		refined, report, err := refine(ctx, candidates[bestIndex(candidates)].Params, records, opts)
		if err != nil {
			return Result{}, err
		}
		for _, c := range refined {
			c.Index = len(candidates)
			candidates = append(candidates, c)
		}
		fmt.Fprintf(opts.Out, "swarm: evaluated %d refinements over %d attempts, accepted=%d goal_reached=%t\n",
			len(refined), report.AttemptsExecuted, report.AcceptedCandidates, report.GoalReached)
	}

	best := bestIndex(candidates)
	result := Result{
		RunID:      opts.RunID,
		Best:       candidates[best].Params.Clone(),
		BestIndex:  best,
		Score:      candidates[best].Score,
		Candidates: candidates,
		Rows:       len(records),
		Source:     source,
	}

	artifactDir, err := stats.WriteSwarmArtifacts(opts.PermWorkDir, stats.SwarmArtifacts{
		Config: stats.SwarmRunConfig{
			RunID:       opts.RunID,
			Source:      source,
			Rows:        len(records),
			SwarmSize:   cfg.SwarmSize,
			MaxWorkers:  opts.MaxWorkers,
			Seed:        opts.Seed,
			Overwrite:   opts.Overwrite,
			SwarmConfig: cfg,
		},
		Candidates: candidates,
		Best: stats.BestCandidate{
			Index:  best,
			Origin: candidates[best].Origin,
			Score:  result.Score,
			Params: result.Best,
		},
	})
	if err != nil {
		return Result{}, err
	}
	result.ArtifactDir = artifactDir

	score := result.Score
	if err := stats.AppendRunIndex(opts.OutDir, stats.RunIndexEntry{
		RunID:          opts.RunID,
		Stage:          model.StageSwarm,
		Source:         source,
		SwarmSize:      cfg.SwarmSize,
		CandidateCount: len(candidates),
		Rows:           len(records),
		BestScore:      &score,
		DurationMS:     opts.Now().Sub(started).Milliseconds(),
		CreatedAtUTC:   stats.FormatCreatedAt(started),
	}); err != nil {
		return Result{}, err
	}
	fmt.Fprintf(opts.Out, "swarm: best candidate %d (%s) score=%.4f\n", best, candidates[best].Origin, result.Score)
	return result, nil
}

// Validate checks that cfg describes a searchable stream.
func Validate(cfg model.SwarmConfig) error {
	if len(cfg.IncludedFields) == 0 {
		return fmt.Errorf("%w: no included fields", ErrInvalidConfig)
	}
	predicted := cfg.InferenceArgs.PredictedField
	field, ok := cfg.Field(predicted)
	if !ok {
		return fmt.Errorf("%w: predicted field %q is not included", ErrInvalidConfig, predicted)
	}
	if !field.Numeric() {
		return fmt.Errorf("%w: predicted field %q is not numeric", ErrInvalidConfig, predicted)
	}
	if len(cfg.StreamDef.Streams) == 0 || strings.TrimSpace(cfg.StreamDef.Streams[0].Source) == "" {
		return fmt.Errorf("%w: stream source is required", ErrInvalidConfig)
	}
	if !cfg.InferenceType.Valid() {
		return fmt.Errorf("%w: unsupported inference type %q", ErrInvalidConfig, cfg.InferenceType)
	}
	for _, step := range cfg.InferenceArgs.PredictionSteps {
		if step < 1 {
			return fmt.Errorf("%w: prediction steps must be >= 1", ErrInvalidConfig)
		}
	}
	switch cfg.SwarmSize {
	case model.SwarmSizeSmall, model.SwarmSizeMedium, model.SwarmSizeLarge:
	default:
		return fmt.Errorf("%w: unknown swarm size %q", ErrInvalidConfig, cfg.SwarmSize)
	}
	if err := model.DefaultModelParams(cfg).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ResolveSource strips the file:// scheme and anchors relative paths at
// baseDir.
func ResolveSource(source, baseDir string) string {
	path := strings.TrimPrefix(source, fileScheme)
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var (
	resolutionFactors = []float64{1, 0.5, 2}
	sequenceOrders    = []int{1, 2, 3}
	thresholds        = []float64{0.1, 0.05, 0.2}
)

// Permutations lists the grid candidates for the swarm size. The base
// configuration is always first.
func Permutations(cfg model.SwarmConfig) []model.ModelParams {
	base := model.DefaultModelParams(cfg)
	if cfg.SwarmSize == model.SwarmSizeSmall {
		return []model.ModelParams{base}
	}
	levels := thresholds
	if cfg.SwarmSize == model.SwarmSizeMedium {
		levels = thresholds[:1]
	}

	out := make([]model.ModelParams, 0, len(resolutionFactors)*len(sequenceOrders)*len(levels))
	for _, factor := range resolutionFactors {
		for _, order := range sequenceOrders {
			for _, threshold := range levels {
				p := base.Clone()
				for i := range p.Encoders {
					if p.Encoders[i].FieldName == p.PredictedField {
						p.Encoders[i].Resolution *= factor
					}
				}
				p.Sequence.Order = order
				p.Sequence.ActivationThreshold = threshold
				out = append(out, p)
			}
		}
	}
	return out
}

func validateTune(t TuneOptions) error {
	if err := tuning.ValidateCandidateSelection(t.Selection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t.PerturbationRange < 0 || t.MinImprovement < 0 {
		return fmt.Errorf("%w: tune perturbation range and min improvement must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// refine hill-climbs from start. Fitness is the negated score, so the goal
// score maps to a fitness goal of -GoalScore.
func refine(ctx context.Context, start model.ModelParams, records []model.Record, opts Options) ([]model.CandidateRecord, tuning.TuneReport, error) {
	var refined []model.CandidateRecord
	tuner := &tuning.Exoself{
		Rand:               rand.New(rand.NewSource(opts.Seed)),
		Steps:              opts.Tune.Steps,
		StepSize:           opts.Tune.StepSize,
		PerturbationRange:  opts.Tune.PerturbationRange,
		AnnealingFactor:    opts.Tune.AnnealingFactor,
		MinImprovement:     opts.Tune.MinImprovement,
		CandidateSelection: opts.Tune.Selection,
		Observe: func(params model.ModelParams, fitness float64) {
			refined = append(refined, model.CandidateRecord{
				VersionedRecord: model.CurrentVersion(),
				Origin:          model.CandidateOriginRefine,
				Params:          params,
				Score:           -fitness,
			})
		},
	}
	if opts.Tune.GoalScore != nil {
		goal := -*opts.Tune.GoalScore
		tuner.GoalFitness = &goal
	}
	_, report, err := tuner.TuneWithReport(ctx, start, opts.RefineAttempts, func(ctx context.Context, params model.ModelParams) (float64, error) {
		score, err := Evaluate(ctx, params, records)
		if err != nil {
			return 0, err
		}
		return -score, nil
	})
	if err != nil {
		return nil, report, err
	}
	return refined, report, nil
}

// bestIndex returns the lowest score; ties keep the earlier candidate.
func bestIndex(candidates []model.CandidateRecord) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score < candidates[best].Score {
			best = i
		}
	}
	return best
}

func prepareWorkDir(dir string, overwrite bool) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("swarm work path %s is not a directory", dir)
		}
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrWorkDirExists, dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
