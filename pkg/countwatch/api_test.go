package countwatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"countwatch/internal/config"
	"countwatch/internal/model"
)

func writeStream(t *testing.T, path string, counts []int) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("timestamp,fileCount\ndatetime,int\nT,\n")
	for i, c := range counts {
		ts := time.Date(2013, 6, 1, 10, 0, i, 0, time.UTC)
		fmt.Fprintf(&sb, "%s.000000,%d\n", ts.Format("2006-01-02 15:04:05"), c)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestClientRunAndListRuns(t *testing.T) {
	chdirForTest(t, t.TempDir())
	counts := []int{10, 20, 10, 20, 10, 20, 10, 20, 10, 20}
	writeStream(t, "fileData.csv", counts)
	writeStream(t, "fileDataGOOD.csv", counts)

	cfg := config.Default()
	cfg.Swarm.RefineAttempts = 2
	cfg.Swarm.MaxWorkers = 2

	var out bytes.Buffer
	client, err := New(Options{Config: cfg, StoreKind: "memory", Out: &out})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Run(context.Background(), []string{"swarm", "train", "test", "good"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	runs, err := client.Runs(context.Background(), RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	stages := map[string]RunItem{}
	for _, run := range runs {
		stages[run.Stage] = run
	}
	if swarm := stages[model.StageSwarm]; swarm.BestScore == nil {
		t.Fatalf("swarm run missing best score: %+v", swarm)
	}
	if train := stages[model.StageTrain]; train.Passes != 50 || train.Rows != len(counts) {
		t.Fatalf("unexpected train run: %+v", train)
	}
	if test := stages[model.StageTest]; test.InputPath != "fileDataGOOD.csv" || test.Rows != len(counts) {
		t.Fatalf("unexpected test run: %+v", test)
	}

	filtered, err := client.Runs(context.Background(), RunsRequest{Stage: model.StageTrain})
	if err != nil {
		t.Fatalf("filtered runs: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Stage != model.StageTrain {
		t.Fatalf("unexpected filtered runs: %+v", filtered)
	}

	history, err := client.SwarmHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("swarm history: %v", err)
	}
	if len(history) != 1 || history[0].RunID != stages[model.StageSwarm].ID {
		t.Fatalf("unexpected swarm history: %+v", history)
	}
	if _, err := os.Stat("modelParams.yaml"); err != nil {
		t.Fatalf("expected params file: %v", err)
	}
}

func TestClientTestWithoutDatasetPrintsHint(t *testing.T) {
	chdirForTest(t, t.TempDir())
	var out bytes.Buffer
	client, err := New(Options{Config: config.Default(), StoreKind: "memory", Out: &out})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Run(context.Background(), []string{"test"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "specify a test (good, bad)") {
		t.Fatalf("expected hint, got %q", out.String())
	}
	runs, err := client.Runs(context.Background(), RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no recorded runs, got %+v", runs)
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	if _, err := New(Options{Config: config.Default(), StoreKind: "bogus"}); err == nil {
		t.Fatal("expected unknown store error")
	}
}
