package tuning

import (
	"context"

	"countwatch/internal/model"
)

// FitnessFn scores a candidate configuration; higher is better.
type FitnessFn func(ctx context.Context, params model.ModelParams) (float64, error)

// ObserveFn receives every evaluated candidate, accepted or not.
type ObserveFn func(params model.ModelParams, fitness float64)

type TuneReport struct {
	AttemptsPlanned      int     `json:"attempts_planned"`
	AttemptsExecuted     int     `json:"attempts_executed"`
	CandidateEvaluations int     `json:"candidate_evaluations"`
	AcceptedCandidates   int     `json:"accepted_candidates"`
	RejectedCandidates   int     `json:"rejected_candidates"`
	GoalReached          bool    `json:"goal_reached"`
	BestFitness          float64 `json:"best_fitness"`
}
