// Package countwatch is the public entry point: it runs the swarm, train and
// test stages and lists recorded runs.
package countwatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"countwatch/internal/config"
	"countwatch/internal/model"
	"countwatch/internal/pipeline"
	"countwatch/internal/stats"
	"countwatch/internal/storage"
)

type Options struct {
	// ConfigPath is read when Config is nil; empty searches the default
	// locations.
	ConfigPath string
	Config     *config.Config
	StoreKind  string
	DBPath     string
	Out        io.Writer
}

type Client struct {
	store     storage.Store
	storeKind string
	runner    *pipeline.Runner
	cfg       *config.Config

	initOnce sync.Once
	initErr  error
}

type RunsRequest struct {
	Stage string
	Limit int
}

type RunItem struct {
	ID         string             `json:"run_id"`
	Stage      string             `json:"stage"`
	InputPath  string             `json:"input_path"`
	OutputPath string             `json:"output_path,omitempty"`
	Passes     int                `json:"passes,omitempty"`
	Rows       int                `json:"rows"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
	BestScore  *float64           `json:"best_score,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

type SwarmItem struct {
	RunID          string   `json:"run_id"`
	CreatedAtUTC   string   `json:"created_at_utc"`
	Source         string   `json:"source"`
	SwarmSize      string   `json:"swarm_size"`
	CandidateCount int      `json:"candidate_count"`
	Rows           int      `json:"rows"`
	BestScore      *float64 `json:"best_score,omitempty"`
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = cfg.Storage.Kind
	}
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = cfg.Storage.Path
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:     store,
		storeKind: storeKind,
		runner:    pipeline.NewRunner(cfg, store, out),
		cfg:       cfg,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Run executes the stages named by tokens: any of swarm, train, test, plus
// good or bad to pick the test dataset.
func (c *Client) Run(ctx context.Context, tokens []string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	return c.runner.Run(ctx, tokens)
}

// Runs lists recorded stage runs, newest first. A memory store forgets runs
// when the process exits, so with it the on-disk run index is read instead.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if c.storeKind == "memory" {
		return c.indexedRuns(req)
	}
	runs, err := c.store.ListRuns(ctx, req.Stage, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunItem(run))
	}
	return out, nil
}

func (c *Client) indexedRuns(req RunsRequest) ([]RunItem, error) {
	entries, err := stats.ListRunIndex(c.cfg.Paths.RunIndex)
	if err != nil {
		return nil, err
	}
	entries = stats.FilterRunIndex(entries, req.Stage, req.Limit)
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		started, err := stats.ParseCreatedAt(e.CreatedAtUTC)
		if err != nil {
			return nil, fmt.Errorf("run index entry %s: %w", e.RunID, err)
		}
		out = append(out, RunItem{
			ID:         e.RunID,
			Stage:      e.Stage,
			InputPath:  e.Source,
			OutputPath: e.OutputPath,
			Passes:     e.Passes,
			Rows:       e.Rows,
			StartedAt:  started,
			DurationMS: e.DurationMS,
			BestScore:  e.BestScore,
			Metrics:    e.Metrics,
		})
	}
	return out, nil
}

// SwarmHistory lists swarm runs from the on-disk run index, newest first.
func (c *Client) SwarmHistory(_ context.Context, limit int) ([]SwarmItem, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := stats.ListRunIndex(c.cfg.Paths.RunIndex)
	if err != nil {
		return nil, err
	}
	entries = stats.FilterRunIndex(entries, model.StageSwarm, limit)
	out := make([]SwarmItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, SwarmItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Source:         e.Source,
			SwarmSize:      e.SwarmSize,
			CandidateCount: e.CandidateCount,
			Rows:           e.Rows,
			BestScore:      e.BestScore,
		})
	}
	return out, nil
}

func toRunItem(run model.RunRecord) RunItem {
	item := RunItem{
		ID:         run.ID,
		Stage:      run.Stage,
		InputPath:  run.InputPath,
		OutputPath: run.OutputPath,
		Passes:     run.Passes,
		Rows:       run.Rows,
		StartedAt:  run.StartedAt,
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Metrics:    run.Metrics,
	}
	if run.BestScore != nil {
		score := *run.BestScore
		item.BestScore = &score
	}
	return item
}
