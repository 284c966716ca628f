package model

import "time"

const (
	StageSwarm = "swarm"
	StageTrain = "train"
	StageTest  = "test"
)

// RunRecord summarizes one stage invocation.
type RunRecord struct {
	VersionedRecord
	ID         string             `json:"id"`
	Stage      string             `json:"stage"`
	InputPath  string             `json:"input_path,omitempty"`
	OutputPath string             `json:"output_path,omitempty"`
	Passes     int                `json:"passes,omitempty"`
	Rows       int                `json:"rows"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	BestScore  *float64           `json:"best_score,omitempty"`
}

const (
	CandidateOriginPermutation = "permutation"
	CandidateOriginRefine      = "refine"
)

// CandidateRecord is one evaluated swarm candidate.
type CandidateRecord struct {
	VersionedRecord
	Index  int         `json:"index"`
	Origin string      `json:"origin"`
	Params ModelParams `json:"params"`
	Score  float64     `json:"score"`
}

// Checkpoint is the persisted state of a trained model.
type Checkpoint struct {
	VersionedRecord
	Params         ModelParams       `json:"params"`
	PredictedField string            `json:"predicted_field"`
	Learning       bool              `json:"learning"`
	Records        int               `json:"records"`
	History        []int             `json:"history"`
	PrevContext    string            `json:"prev_context,omitempty"`
	Transitions    []TransitionState `json:"transitions"`
	Buckets        []BucketState     `json:"buckets"`
}

type TransitionState struct {
	Context string          `json:"context"`
	Next    map[int]float64 `json:"next"`
}

type BucketState struct {
	Bucket int     `json:"bucket"`
	Mean   float64 `json:"mean"`
	Count  int     `json:"count"`
}
