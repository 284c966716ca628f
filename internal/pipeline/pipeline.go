// Package pipeline runs the swarm, train and test stages against files in the
// working directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"countwatch/internal/config"
	"countwatch/internal/dataset"
	"countwatch/internal/metrics"
	"countwatch/internal/model"
	"countwatch/internal/predictor"
	"countwatch/internal/report"
	"countwatch/internal/stats"
	"countwatch/internal/storage"
	"countwatch/internal/swarm"
)

// TrainPasses is how many times the train stage replays its input.
const TrainPasses = 50

// predictionStep is the step written to output files and scored by metrics.
const predictionStep = 1

const noDatasetMessage = "specify a test (good, bad)"

// Model is the online model the train and test stages drive.
type Model interface {
	Run(rec model.Record) (model.Result, error)
	Save(dir string) error
	FieldInfo() []model.FieldInfo
	InferenceType() model.InferenceType
}

type (
	ModelFactory func(params model.ModelParams) (Model, error)
	ModelLoader  func(dir string) (Model, error)
	SwarmFunc    func(ctx context.Context, cfg model.SwarmConfig, opts swarm.Options) (swarm.Result, error)
)

type Runner struct {
	Paths  config.PathsConfig
	Swarm  config.SwarmConfig
	Report config.ReportConfig
	// Store records stage runs when set.
	Store storage.Store
	Out   io.Writer

	NewModel  ModelFactory
	LoadModel ModelLoader
	RunSwarm  SwarmFunc
	Now       func() time.Time
	NewID     func() string
}

// NewRunner wires the in-repo model and swarm.
func NewRunner(cfg *config.Config, store storage.Store, out io.Writer) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		Paths:     cfg.Paths,
		Swarm:     cfg.Swarm,
		Report:    cfg.Report,
		Store:     store,
		Out:       out,
		NewModel:  newSequenceModel,
		LoadModel: loadSequenceModel,
		RunSwarm:  swarm.RunWithConfig,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func newSequenceModel(params model.ModelParams) (Model, error) {
	m, err := predictor.Create(params)
	if err != nil {
		return nil, err
	}
	if err := m.EnableInference(model.FieldFileCount); err != nil {
		return nil, err
	}
	return m, nil
}

func loadSequenceModel(dir string) (Model, error) {
	m, err := predictor.Load(dir)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Run executes the stages named by tokens under the run lock. A lone test
// token without a dataset prints a hint and touches no file.
func (r *Runner) Run(ctx context.Context, tokens []string) error {
	stages := ParseTokens(tokens)
	if !stages.Any() {
		return nil
	}
	if !stages.Swarm && !stages.Train && !stages.HasDataset() {
		fmt.Fprintln(r.Out, noDatasetMessage)
		return nil
	}
	release, err := acquireLock(r.Paths.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if stages.Swarm {
		if _, err := r.SwarmStage(ctx); err != nil {
			return fmt.Errorf("swarm: %w", err)
		}
	}
	if stages.Train {
		if err := r.TrainStage(ctx); err != nil {
			return fmt.Errorf("train: %w", err)
		}
	}
	if stages.Test {
		if err := r.TestStage(ctx, stages); err != nil {
			return fmt.Errorf("test: %w", err)
		}
	}
	return nil
}

// SwarmStage searches for model params and writes the winner to the params
// file.
func (r *Runner) SwarmStage(ctx context.Context) (model.ModelParams, error) {
	started := r.Now()
	id := r.NewID()

	cfg := model.DefaultSwarmConfig()
	cfg.StreamDef.Streams[0].Info = r.Paths.TrainData
	cfg.StreamDef.Streams[0].Source = "file://" + r.Paths.TrainData

	res, err := r.RunSwarm(ctx, cfg, swarm.Options{
		MaxWorkers:     r.Swarm.MaxWorkers,
		Overwrite:      r.Swarm.OverwriteEnabled(),
		OutDir:         r.Paths.RunIndex,
		PermWorkDir:    r.Paths.SwarmWork,
		Seed:           r.Swarm.Seed,
		RefineAttempts: r.Swarm.RefineAttempts,
		RunID:          id,
		Tune: swarm.TuneOptions{
			Selection:         r.Swarm.TuneSelection,
			Steps:             r.Swarm.TuneSteps,
			StepSize:          r.Swarm.TuneStepSize,
			PerturbationRange: r.Swarm.TunePerturbationRange,
			AnnealingFactor:   r.Swarm.TuneAnnealingFactor,
			MinImprovement:    r.Swarm.TuneMinImprovement,
			GoalScore:         r.Swarm.TuneGoalScore,
		},
		Out: r.Out,
		Now: r.Now,
	})
	if err != nil {
		return model.ModelParams{}, err
	}
	if err := storage.WriteModelParams(r.Paths.ModelParams, res.Best); err != nil {
		return model.ModelParams{}, err
	}

	score := res.Score
	run := model.RunRecord{
		ID:         id,
		Stage:      model.StageSwarm,
		InputPath:  res.Source,
		OutputPath: r.Paths.ModelParams,
		Rows:       res.Rows,
		StartedAt:  started,
		FinishedAt: r.Now(),
		BestScore:  &score,
	}
	entry := indexEntry(run)
	entry.SwarmSize = cfg.SwarmSize
	entry.CandidateCount = len(res.Candidates)
	if err := r.saveRun(ctx, run, entry); err != nil {
		return model.ModelParams{}, err
	}
	if r.Store != nil {
		if err := r.Store.SaveCandidates(ctx, id, res.Candidates); err != nil {
			return model.ModelParams{}, err
		}
	}
	return res.Best, nil
}

// TrainStage builds a model from the params file, replays the train data
// TrainPasses times and saves the model. Only the last pass is written out.
func (r *Runner) TrainStage(ctx context.Context) error {
	started := r.Now()
	params, err := storage.ReadModelParams(r.Paths.ModelParams)
	if err != nil {
		return err
	}
	m, err := r.NewModel(params)
	if err != nil {
		return err
	}

	reader, err := dataset.Open(r.Paths.TrainData)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := dataset.Create(r.Paths.TrainOutput, dataset.TrainHeader)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = writer.Close()
		}
	}()

	processed := 0
	passes := 0
	for pass := 0; pass < TrainPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := reader.Rewind(); err != nil {
			return err
		}
		final := pass == TrainPasses-1
		for {
			rec, err := reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			res, err := m.Run(rec)
			if err != nil {
				return err
			}
			processed++
			if processed%r.progressEvery() == 0 {
				fmt.Fprintf(r.Out, "pass %d, %d records loaded\n", pass, processed)
			}
			if final {
				if err := writer.Write(res, predictionStep); err != nil {
					return err
				}
			}
		}
		passes++
	}

	closed = true
	if err := writer.Close(); err != nil {
		return err
	}
	if err := m.Save(r.Paths.ModelSave); err != nil {
		return err
	}

	run := model.RunRecord{
		ID:         r.NewID(),
		Stage:      model.StageTrain,
		InputPath:  r.Paths.TrainData,
		OutputPath: r.Paths.TrainOutput,
		Passes:     passes,
		Rows:       writer.Rows(),
		StartedAt:  started,
		FinishedAt: r.Now(),
	}
	return r.saveRun(ctx, run, indexEntry(run))
}

// TestStage replays the good or bad dataset once through the saved model.
// Without a dataset token it prints a hint and returns nil.
func (r *Runner) TestStage(ctx context.Context, stages Stages) error {
	var input string
	switch {
	case stages.Good:
		input = r.Paths.GoodData
	case stages.Bad:
		input = r.Paths.BadData
	default:
		fmt.Fprintln(r.Out, noDatasetMessage)
		return nil
	}
	started := r.Now()

	m, err := r.LoadModel(r.Paths.ModelSave)
	if err != nil {
		return err
	}
	manager, err := metrics.NewManager(metrics.DefaultSpecs(model.FieldFileCount), m.FieldInfo(), m.InferenceType())
	if err != nil {
		return err
	}

	reader, err := dataset.Open(input)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := dataset.Create(r.Paths.TestOutput, dataset.TestHeader)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = writer.Close()
		}
	}()

	var plotted []model.Result
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		res, err := m.Run(rec)
		if err != nil {
			return err
		}
		res.Metrics = manager.Update(res)
		if err := writer.Write(res, predictionStep); err != nil {
			return err
		}
		fmt.Fprintln(r.Out, dataset.Line(res, predictionStep))
		if r.Report.Plot {
			plotted = append(plotted, res)
		}
	}

	closed = true
	if err := writer.Close(); err != nil {
		return err
	}
	if r.Report.Plot && len(plotted) > 0 {
		if err := report.WriteTestChart(r.Report.PlotPath, plotted, predictionStep); err != nil {
			return err
		}
	}

	run := model.RunRecord{
		ID:         r.NewID(),
		Stage:      model.StageTest,
		InputPath:  input,
		OutputPath: r.Paths.TestOutput,
		Passes:     1,
		Rows:       writer.Rows(),
		StartedAt:  started,
		FinishedAt: r.Now(),
		Metrics:    finiteMetrics(manager.Metrics()),
	}
	return r.saveRun(ctx, run, indexEntry(run))
}

// saveRun appends entry to the on-disk run index and records run in the
// store when one is set.
func (r *Runner) saveRun(ctx context.Context, run model.RunRecord, entry stats.RunIndexEntry) error {
	if err := stats.AppendRunIndex(r.Paths.RunIndex, entry); err != nil {
		return fmt.Errorf("run index: %w", err)
	}
	if r.Store == nil {
		return nil
	}
	run.VersionedRecord = model.CurrentVersion()
	return r.Store.SaveRun(ctx, run)
}

func indexEntry(run model.RunRecord) stats.RunIndexEntry {
	return stats.RunIndexEntry{
		RunID:        run.ID,
		Stage:        run.Stage,
		Source:       run.InputPath,
		OutputPath:   run.OutputPath,
		Passes:       run.Passes,
		Rows:         run.Rows,
		BestScore:    run.BestScore,
		Metrics:      run.Metrics,
		DurationMS:   run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		CreatedAtUTC: stats.FormatCreatedAt(run.StartedAt),
	}
}

func (r *Runner) progressEvery() int {
	if r.Report.ProgressEvery <= 0 {
		return 100
	}
	return r.Report.ProgressEvery
}

// finiteMetrics drops values JSON cannot carry.
func finiteMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}
