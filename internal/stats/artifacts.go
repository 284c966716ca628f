package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"countwatch/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	candidatesFile = "candidates.json"
	bestFile       = "best.json"
)

// SwarmRunConfig records how a swarm run was invoked.
type SwarmRunConfig struct {
	RunID       string            `json:"run_id"`
	Source      string            `json:"source"`
	Rows        int               `json:"rows"`
	SwarmSize   string            `json:"swarm_size"`
	MaxWorkers  int               `json:"max_workers"`
	Seed        int64             `json:"seed"`
	Overwrite   bool              `json:"overwrite"`
	SwarmConfig model.SwarmConfig `json:"swarm_config"`
}

type BestCandidate struct {
	Index  int               `json:"index"`
	Origin string            `json:"origin"`
	Score  float64           `json:"score"`
	Params model.ModelParams `json:"params"`
}

type SwarmArtifacts struct {
	Config     SwarmRunConfig          `json:"config"`
	Candidates []model.CandidateRecord `json:"candidates"`
	Best       BestCandidate           `json:"best"`
}

// RunIndexEntry is one stage run in run_index.json. Swarm runs carry the
// swarm fields; train and test runs carry passes and metrics.
type RunIndexEntry struct {
	RunID          string             `json:"run_id"`
	Stage          string             `json:"stage"`
	Source         string             `json:"source"`
	OutputPath     string             `json:"output_path,omitempty"`
	SwarmSize      string             `json:"swarm_size,omitempty"`
	CandidateCount int                `json:"candidate_count,omitempty"`
	Passes         int                `json:"passes,omitempty"`
	Rows           int                `json:"rows"`
	BestScore      *float64           `json:"best_score,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	DurationMS     int64              `json:"duration_ms"`
	CreatedAtUTC   string             `json:"created_at_utc"`
}

// createdAtLayout is fixed width so index timestamps sort as strings.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// FormatCreatedAt renders t for RunIndexEntry.CreatedAtUTC.
func FormatCreatedAt(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}

// ParseCreatedAt reads a CreatedAtUTC value written by FormatCreatedAt or as
// RFC 3339.
func ParseCreatedAt(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// FilterRunIndex keeps entries of stage, or all entries when stage is empty,
// up to limit (no limit when limit <= 0).
func FilterRunIndex(entries []RunIndexEntry, stage string, limit int) []RunIndexEntry {
	out := make([]RunIndexEntry, 0, len(entries))
	for _, e := range entries {
		if stage != "" && e.Stage != stage {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// WriteSwarmArtifacts writes config.json, candidates.json and best.json into
// dir/<run id> and returns that directory.
func WriteSwarmArtifacts(dir string, artifacts SwarmArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(dir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	candidates := artifacts.Candidates
	if candidates == nil {
		candidates = []model.CandidateRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, candidatesFile), candidates); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, bestFile), artifacts.Best); err != nil {
		return "", err
	}
	return runDir, nil
}

// ReadSwarmArtifacts loads what WriteSwarmArtifacts wrote. ok is false when
// the run directory does not exist.
func ReadSwarmArtifacts(dir, runID string) (SwarmArtifacts, bool, error) {
	runDir := filepath.Join(dir, runID)
	var out SwarmArtifacts
	if ok, err := readJSON(filepath.Join(runDir, configFile), &out.Config); err != nil || !ok {
		return SwarmArtifacts{}, ok, err
	}
	if _, err := readJSON(filepath.Join(runDir, candidatesFile), &out.Candidates); err != nil {
		return SwarmArtifacts{}, false, err
	}
	if _, err := readJSON(filepath.Join(runDir, bestFile), &out.Best); err != nil {
		return SwarmArtifacts{}, false, err
	}
	return out, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
