package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"countwatch/internal/model"
)

func baseParams() model.ModelParams {
	return model.DefaultModelParams(model.DefaultSwarmConfig())
}

func alphaDecayFitness(_ context.Context, p model.ModelParams) (float64, error) {
	return -math.Abs(p.Classifier.Alpha-0.8) - math.Abs(p.Sequence.Decay-0.5), nil
}

func TestExoselfImprovesFitness(t *testing.T) {
	params := baseParams()
	tuner := &Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 0.2}

	before, _ := alphaDecayFitness(context.Background(), params)
	tuned, err := tuner.Tune(context.Background(), params, 40, alphaDecayFitness)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	after, _ := alphaDecayFitness(context.Background(), tuned)
	if after <= before {
		t.Fatalf("expected tuned fitness > baseline: before=%f after=%f", before, after)
	}
	if err := tuned.Validate(); err != nil {
		t.Fatalf("tuned params invalid: %v", err)
	}
}

func TestExoselfInputValidation(t *testing.T) {
	params := baseParams()
	fitnessFn := func(context.Context, model.ModelParams) (float64, error) { return 0, nil }

	if _, err := (&Exoself{}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected rand validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 0, StepSize: 1}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected steps validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 0}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected step size validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1, PerturbationRange: -1}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected perturbation range validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1, AnnealingFactor: -1}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected annealing factor validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1}).Tune(context.Background(), params, 1, nil); err == nil {
		t.Fatal("expected fitness validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1, MinImprovement: -0.1}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected min improvement validation error")
	}
	if _, err := (&Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1, CandidateSelection: "unknown"}).Tune(context.Background(), params, 1, fitnessFn); err == nil {
		t.Fatal("expected candidate selection validation error")
	}
}

func TestExoselfMinImprovementBlocksSmallGains(t *testing.T) {
	params := baseParams()
	tuner := &Exoself{
		Rand:           rand.New(rand.NewSource(3)),
		Steps:          2,
		StepSize:       0.1,
		MinImprovement: 5,
	}
	tuned, err := tuner.Tune(context.Background(), params, 30, alphaDecayFitness)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if tuned.Classifier.Alpha != params.Classifier.Alpha || tuned.Sequence.Decay != params.Sequence.Decay {
		t.Fatalf("expected unchanged params when gains are below threshold: got=%+v", tuned)
	}
}

func TestExoselfAttemptsZeroReturnsClone(t *testing.T) {
	params := baseParams()
	tuner := &Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 2, StepSize: 0.5}

	out, err := tuner.Tune(context.Background(), params, 0, func(context.Context, model.ModelParams) (float64, error) {
		return math.Pi, nil
	})
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	out.Encoders[1].Resolution = 99
	if params.Encoders[1].Resolution == 99 {
		t.Fatal("returned params share encoder storage with the input")
	}
}

func TestExoselfStopsEarlyWhenGoalReached(t *testing.T) {
	calls := 0
	goal := -1.0
	tuner := &Exoself{
		Rand:        rand.New(rand.NewSource(19)),
		Steps:       4,
		StepSize:    0.2,
		GoalFitness: &goal,
	}
	fitnessFn := func(context.Context, model.ModelParams) (float64, error) {
		calls++
		return 0, nil
	}
	_, report, err := tuner.TuneWithReport(context.Background(), baseParams(), 25, fitnessFn)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if calls != 1 || !report.GoalReached {
		t.Fatalf("expected one evaluation and goal reached, got calls=%d report=%+v", calls, report)
	}
}

func TestExoselfReportAndObserver(t *testing.T) {
	var observed int
	tuner := &Exoself{
		Rand:     rand.New(rand.NewSource(5)),
		Steps:    2,
		StepSize: 0.3,
		Observe: func(p model.ModelParams, _ float64) {
			if err := p.Validate(); err != nil {
				t.Fatalf("observed invalid candidate: %v", err)
			}
			observed++
		},
	}
	_, report, err := tuner.TuneWithReport(context.Background(), baseParams(), 12, alphaDecayFitness)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if report.AttemptsExecuted != 12 || report.CandidateEvaluations != 12 || observed != 12 {
		t.Fatalf("unexpected report: %+v observed=%d", report, observed)
	}
	if report.AcceptedCandidates+report.RejectedCandidates != report.AttemptsExecuted {
		t.Fatalf("accepted+rejected should equal attempts: %+v", report)
	}
}

func TestPerturbKnobKeepsParamsValid(t *testing.T) {
	params := baseParams()
	for knob := 0; knob < knobCount; knob++ {
		for _, delta := range []float64{-50, -0.5, 0.5, 50} {
			p := params.Clone()
			perturbKnob(&p, knob, delta)
			if err := p.Validate(); err != nil {
				t.Fatalf("knob %d delta %v produced invalid params: %v", knob, delta, err)
			}
		}
	}
}

func TestExoselfSelectionModesSupported(t *testing.T) {
	modes := []string{
		CandidateSelectOriginal,
		CandidateSelectDynamicA,
		CandidateSelectDynamic,
		CandidateSelectAll,
		CandidateSelectAllRandom,
		CandidateSelectRecent,
		CandidateSelectRecentRnd,
	}
	for i, mode := range modes {
		tuner := &Exoself{
			Rand:               rand.New(rand.NewSource(int64(100 + i))),
			Steps:              3,
			StepSize:           0.15,
			CandidateSelection: mode,
		}
		if _, err := tuner.Tune(context.Background(), baseParams(), 8, alphaDecayFitness); err != nil {
			t.Fatalf("tune with mode=%s: %v", mode, err)
		}
	}
}

func TestExoselfConcurrentTuneSafe(t *testing.T) {
	tuner := &Exoself{Rand: rand.New(rand.NewSource(1)), Steps: 4, StepSize: 0.2}

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tuner.Tune(context.Background(), baseParams(), 8, alphaDecayFitness); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected tuning error: %v", err)
	}
}

func TestValidateCandidateSelection(t *testing.T) {
	for _, mode := range []string{"", CandidateSelectBestSoFar, CandidateSelectAllRandom, CandidateSelectRecent} {
		if err := ValidateCandidateSelection(mode); err != nil {
			t.Fatalf("mode %q: %v", mode, err)
		}
	}
	if err := ValidateCandidateSelection("sideways"); !errors.Is(err, ErrUnknownSelection) {
		t.Fatalf("expected ErrUnknownSelection, got %v", err)
	}
}

func TestExoselfZeroGoalIsHonored(t *testing.T) {
	goal := 0.0
	calls := 0
	tuner := &Exoself{Rand: rand.New(rand.NewSource(2)), Steps: 1, StepSize: 0.1, GoalFitness: &goal}
	_, report, err := tuner.TuneWithReport(context.Background(), baseParams(), 10, func(context.Context, model.ModelParams) (float64, error) {
		calls++
		return 0, nil
	})
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if calls != 1 || !report.GoalReached {
		t.Fatalf("expected a zero goal to stop after the baseline, calls=%d report=%+v", calls, report)
	}
}
