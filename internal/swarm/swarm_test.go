package swarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"countwatch/internal/model"
	"countwatch/internal/stats"
)

func writeStream(t *testing.T, dir string, counts []int) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("timestamp,fileCount\ndatetime,int\nT,\n")
	for i, c := range counts {
		ts := time.Date(2013, 6, 1, 10, 0, i, 0, time.UTC)
		fmt.Fprintf(&sb, "%s.000000,%d\n", ts.Format("2006-01-02 15:04:05"), c)
	}
	if err := os.WriteFile(filepath.Join(dir, "fileData.csv"), []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write stream: %v", err)
	}
}

func alternating(n int) []int {
	out := make([]int, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 10
		} else {
			out[i] = 20
		}
	}
	return out
}

func records(counts []int) []model.Record {
	out := make([]model.Record, len(counts))
	for i, c := range counts {
		out[i] = model.Record{Timestamp: time.Date(2013, 6, 1, 10, 0, i, 0, time.UTC), FileCount: c}
	}
	return out
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := map[string]func(c *model.SwarmConfig){
		"no_fields":      func(c *model.SwarmConfig) { c.IncludedFields = nil },
		"missing_pred":   func(c *model.SwarmConfig) { c.InferenceArgs.PredictedField = "other" },
		"non_numeric":    func(c *model.SwarmConfig) { c.InferenceArgs.PredictedField = model.FieldTimestamp },
		"no_stream":      func(c *model.SwarmConfig) { c.StreamDef.Streams = nil },
		"bad_inference":  func(c *model.SwarmConfig) { c.InferenceType = "Classification" },
		"bad_swarm_size": func(c *model.SwarmConfig) { c.SwarmSize = "huge" },
		"bad_step":       func(c *model.SwarmConfig) { c.InferenceArgs.PredictionSteps = []int{0} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := model.DefaultSwarmConfig()
			mutate(&cfg)
			if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	if err := Validate(model.DefaultSwarmConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestResolveSource(t *testing.T) {
	if got := ResolveSource("file://fileData.csv", ""); got != "fileData.csv" {
		t.Fatalf("unexpected source %q", got)
	}
	if got := ResolveSource("file://fileData.csv", "/data"); got != filepath.Join("/data", "fileData.csv") {
		t.Fatalf("unexpected based source %q", got)
	}
	if got := ResolveSource("/abs/fileData.csv", "/data"); got != "/abs/fileData.csv" {
		t.Fatalf("absolute source should not move, got %q", got)
	}
}

func TestPermutationsBySwarmSize(t *testing.T) {
	cfg := model.DefaultSwarmConfig()
	base := model.DefaultModelParams(cfg)
	want := map[string]int{
		model.SwarmSizeSmall:  1,
		model.SwarmSizeMedium: 9,
		model.SwarmSizeLarge:  27,
	}
	for size, n := range want {
		cfg.SwarmSize = size
		perms := Permutations(cfg)
		if len(perms) != n {
			t.Fatalf("%s: expected %d permutations, got %d", size, n, len(perms))
		}
		if !reflect.DeepEqual(perms[0], base) {
			t.Fatalf("%s: expected base params first, got %+v", size, perms[0])
		}
		for i, p := range perms {
			if err := p.Validate(); err != nil {
				t.Fatalf("%s: permutation %d invalid: %v", size, i, err)
			}
		}
	}
}

func TestEvaluateScoresPredictableStream(t *testing.T) {
	params := model.DefaultModelParams(model.DefaultSwarmConfig())
	score, err := Evaluate(context.Background(), params, records(alternating(12)))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected perfect score on alternating stream, got %v", score)
	}

	score, err = Evaluate(context.Background(), params, records([]int{10}))
	if err != nil {
		t.Fatalf("evaluate single record: %v", err)
	}
	if score != WorstScore {
		t.Fatalf("expected worst score without predictions, got %v", score)
	}
}

func TestEvaluateCandidatesMatchesSequential(t *testing.T) {
	cfg := model.DefaultSwarmConfig()
	cfg.SwarmSize = model.SwarmSizeMedium
	perms := Permutations(cfg)
	recs := records([]int{10, 20, 30, 20, 10, 20, 30, 40, 30, 20, 10, 20})

	scores, err := evaluateCandidates(context.Background(), perms, 3, func(ctx context.Context, p model.ModelParams) (float64, error) {
		return Evaluate(ctx, p, recs)
	})
	if err != nil {
		t.Fatalf("evaluate candidates: %v", err)
	}
	for i, p := range perms {
		want, err := Evaluate(context.Background(), p, recs)
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if scores[i] != want {
			t.Fatalf("candidate %d: pool score %v != sequential %v", i, scores[i], want)
		}
	}
}

func TestEvaluateCandidatesHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	perms := Permutations(model.DefaultSwarmConfig())
	recs := records(alternating(4))
	score := func(ctx context.Context, p model.ModelParams) (float64, error) {
		return Evaluate(ctx, p, recs)
	}
	if _, err := evaluateCandidates(ctx, perms, 2, score); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluateCandidatesFirstErrorStopsPool(t *testing.T) {
	cfg := model.DefaultSwarmConfig()
	perms := Permutations(cfg)
	errBoom := errors.New("boom")

	var mu sync.Mutex
	calls := 0
	_, err := evaluateCandidates(context.Background(), perms, 1, func(ctx context.Context, _ model.ModelParams) (float64, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return 0, errBoom
		}
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected first error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls > 2 {
		t.Fatalf("expected remaining candidates to be skipped, got %d evaluations of %d", calls, len(perms))
	}
}

func TestRunWithConfigRejectsUnknownTuneSelection(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, alternating(8))
	workDir := filepath.Join(dir, "swarmTemp")
	_, err := RunWithConfig(context.Background(), model.DefaultSwarmConfig(), Options{
		PermWorkDir: workDir,
		BaseDir:     dir,
		Tune:        TuneOptions{Selection: "sideways"},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir should not be created for a rejected run, got %v", err)
	}
}

func TestRunWithConfigGoalScoreStopsRefinement(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, alternating(16))
	goal := 1.0

	var out bytes.Buffer
	res, err := RunWithConfig(context.Background(), model.DefaultSwarmConfig(), Options{
		Overwrite:      true,
		PermWorkDir:    filepath.Join(dir, "swarmTemp"),
		BaseDir:        dir,
		RefineAttempts: 5,
		Tune:           TuneOptions{Selection: "all", GoalScore: &goal},
		Out:            &out,
	})
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if len(res.Candidates) != 27 {
		t.Fatalf("expected no refinements once the goal is met, got %d candidates", len(res.Candidates))
	}
	if !strings.Contains(out.String(), "goal_reached=true") {
		t.Fatalf("expected goal summary, got %q", out.String())
	}
}

func TestRunWithConfigSmallWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, alternating(20))
	cfg := model.DefaultSwarmConfig()
	cfg.SwarmSize = model.SwarmSizeSmall

	var out bytes.Buffer
	workDir := filepath.Join(dir, "swarmTemp")
	res, err := RunWithConfig(context.Background(), cfg, Options{
		MaxWorkers:  2,
		Overwrite:   true,
		PermWorkDir: workDir,
		BaseDir:     dir,
		RunID:       "run-small",
		Out:         &out,
	})
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if !reflect.DeepEqual(res.Best, model.DefaultModelParams(cfg)) {
		t.Fatalf("small swarm should return the base params, got %+v", res.Best)
	}
	if res.Rows != 20 || len(res.Candidates) != 1 || res.Score != 0 {
		t.Fatalf("unexpected result: rows=%d candidates=%d score=%v", res.Rows, len(res.Candidates), res.Score)
	}

	artifacts, ok, err := stats.ReadSwarmArtifacts(workDir, "run-small")
	if err != nil || !ok {
		t.Fatalf("read artifacts: ok=%t err=%v", ok, err)
	}
	if len(artifacts.Candidates) != 1 || artifacts.Best.Index != 0 {
		t.Fatalf("unexpected artifacts: %+v", artifacts)
	}
	index, err := stats.ListRunIndex(workDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].RunID != "run-small" || index[0].Stage != model.StageSwarm {
		t.Fatalf("unexpected run index: %+v", index)
	}
	if !strings.Contains(out.String(), "swarm: best candidate 0") {
		t.Fatalf("expected summary line, got %q", out.String())
	}
}

func TestRunWithConfigHonorsIterationCount(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, alternating(20))
	cfg := model.DefaultSwarmConfig()
	cfg.SwarmSize = model.SwarmSizeSmall
	cfg.IterationCount = 5

	res, err := RunWithConfig(context.Background(), cfg, Options{Overwrite: true, PermWorkDir: filepath.Join(dir, "work"), BaseDir: dir})
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if res.Rows != 5 {
		t.Fatalf("expected 5 rows, got %d", res.Rows)
	}
	if res.RunID == "" {
		t.Fatal("expected generated run id")
	}
}

func TestRunWithConfigWorkDirOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, alternating(8))
	workDir := filepath.Join(dir, "swarmTemp")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(workDir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	cfg := model.DefaultSwarmConfig()
	cfg.SwarmSize = model.SwarmSizeSmall

	_, err := RunWithConfig(context.Background(), cfg, Options{Overwrite: false, PermWorkDir: workDir, BaseDir: dir})
	if !errors.Is(err, ErrWorkDirExists) {
		t.Fatalf("expected ErrWorkDirExists, got %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("stale file should survive a refused run: %v", err)
	}

	if _, err := RunWithConfig(context.Background(), cfg, Options{Overwrite: true, PermWorkDir: workDir, BaseDir: dir}); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, got %v", err)
	}
}

func TestRunWithConfigLargeRefines(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, []int{10, 20, 30, 20, 10, 20, 30, 40, 30, 20, 10, 20, 30, 20, 10, 25})
	cfg := model.DefaultSwarmConfig()

	res, err := RunWithConfig(context.Background(), cfg, Options{
		MaxWorkers:     4,
		Overwrite:      true,
		PermWorkDir:    filepath.Join(dir, "swarmTemp"),
		BaseDir:        dir,
		Seed:           7,
		RefineAttempts: 3,
	})
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if len(res.Candidates) != 27+3 {
		t.Fatalf("expected 30 candidates, got %d", len(res.Candidates))
	}
	refined := 0
	for i, c := range res.Candidates {
		if c.Index != i {
			t.Fatalf("candidate %d has index %d", i, c.Index)
		}
		if c.Score < res.Score {
			t.Fatalf("candidate %d beats reported best: %v < %v", i, c.Score, res.Score)
		}
		if c.Origin == model.CandidateOriginRefine {
			refined++
		}
	}
	if refined != 3 {
		t.Fatalf("expected 3 refined candidates, got %d", refined)
	}
	if err := res.Best.Validate(); err != nil {
		t.Fatalf("best params invalid: %v", err)
	}
}

func TestRunWithConfigMissingStream(t *testing.T) {
	cfg := model.DefaultSwarmConfig()
	dir := t.TempDir()
	if _, err := RunWithConfig(context.Background(), cfg, Options{PermWorkDir: filepath.Join(dir, "w"), BaseDir: dir}); err == nil {
		t.Fatal("expected missing stream error")
	}
}
