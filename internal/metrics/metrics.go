// Package metrics computes rolling prediction error metrics over model
// results.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"countwatch/internal/model"
)

const (
	MetricMultiStep = "multiStep"
	MetricTrivial   = "trivial"

	ErrorAAE     = "aae"
	ErrorAltMAPE = "altMAPE"

	DefaultWindow = 1000
)

var ErrInvalidSpec = errors.New("invalid metric spec")

type Params struct {
	ErrorMetric string `json:"errorMetric"`
	Window      int    `json:"window"`
	Steps       int    `json:"steps"`
}

// Spec names one metric: which inference it scores, against which field and
// with which error function.
type Spec struct {
	Field            string `json:"field"`
	Metric           string `json:"metric"`
	InferenceElement string `json:"inferenceElement"`
	Params           Params `json:"params"`
}

func (s Spec) Label() string {
	return fmt.Sprintf("%s:%s:errorMetric='%s':steps=%d:window=%d:field=%s",
		s.InferenceElement, s.Metric, s.Params.ErrorMetric, s.Params.Steps, s.Params.Window, s.Field)
}

// DefaultSpecs returns one-step aae and altMAPE for both the model's
// predictions and the trivial "same as last value" baseline.
func DefaultSpecs(field string) []Spec {
	specs := make([]Spec, 0, 4)
	for _, errMetric := range []string{ErrorAAE, ErrorAltMAPE} {
		specs = append(specs,
			Spec{
				Field:            field,
				Metric:           MetricMultiStep,
				InferenceElement: model.InferenceMultiStepBestPredictions,
				Params:           Params{ErrorMetric: errMetric, Window: DefaultWindow, Steps: 1},
			},
			Spec{
				Field:            field,
				Metric:           MetricTrivial,
				InferenceElement: model.InferencePrediction,
				Params:           Params{ErrorMetric: errMetric, Window: DefaultWindow, Steps: 1},
			},
		)
	}
	return specs
}

func (s Spec) validate(fields []model.FieldInfo) error {
	var found *model.FieldInfo
	for i := range fields {
		if fields[i].Name == s.Field {
			found = &fields[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidSpec, s.Field)
	}
	if !found.Numeric() {
		return fmt.Errorf("%w: field %q is not numeric", ErrInvalidSpec, s.Field)
	}
	if s.Field != model.FieldFileCount {
		return fmt.Errorf("%w: unsupported field %q", ErrInvalidSpec, s.Field)
	}
	switch s.Metric {
	case MetricMultiStep:
		if s.InferenceElement != model.InferenceMultiStepBestPredictions {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidSpec, s.Metric, model.InferenceMultiStepBestPredictions)
		}
	case MetricTrivial:
		if s.InferenceElement != model.InferencePrediction {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidSpec, s.Metric, model.InferencePrediction)
		}
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidSpec, s.Metric)
	}
	switch s.Params.ErrorMetric {
	case ErrorAAE, ErrorAltMAPE:
	default:
		return fmt.Errorf("%w: unknown error metric %q", ErrInvalidSpec, s.Params.ErrorMetric)
	}
	if s.Params.Window < 1 {
		return fmt.Errorf("%w: window must be >= 1", ErrInvalidSpec)
	}
	if s.Params.Steps < 1 {
		return fmt.Errorf("%w: steps must be >= 1", ErrInvalidSpec)
	}
	return nil
}

type prediction struct {
	value float64
	ok    bool
}

type tracker struct {
	spec    Spec
	label   string
	pending []prediction
	window  *window
}

// observe scores actual against the prediction made spec.Params.Steps
// records earlier, then queues the prediction this result makes.
func (t *tracker) observe(res model.Result, actual float64) {
	steps := t.spec.Params.Steps
	if len(t.pending) == steps {
		if p := t.pending[0]; p.ok {
			t.window.add(math.Abs(p.value-actual), math.Abs(actual))
		}
		t.pending = t.pending[1:]
	}

	var next prediction
	switch t.spec.Metric {
	case MetricMultiStep:
		next.value, next.ok = res.Inferences.BestPrediction(steps)
	case MetricTrivial:
		next = prediction{value: actual, ok: true}
	}
	t.pending = append(t.pending, next)
}

func (t *tracker) value() (float64, bool) {
	n := t.window.len()
	if n == 0 {
		return 0, false
	}
	errSum, actualSum := t.window.sums()
	switch t.spec.Params.ErrorMetric {
	case ErrorAltMAPE:
		if actualSum == 0 {
			if errSum == 0 {
				return 0, true
			}
			return math.Inf(1), true
		}
		return 100 * errSum / actualSum, true
	default:
		return errSum / float64(n), true
	}
}

// Manager feeds every result into a fixed set of metrics.
type Manager struct {
	inferenceType model.InferenceType
	trackers      []*tracker
}

func NewManager(specs []Spec, fields []model.FieldInfo, inferenceType model.InferenceType) (*Manager, error) {
	if !inferenceType.Valid() {
		return nil, fmt.Errorf("%w: unsupported inference type %q", ErrInvalidSpec, inferenceType)
	}
	m := &Manager{inferenceType: inferenceType}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.validate(fields); err != nil {
			return nil, err
		}
		label := spec.Label()
		if seen[label] {
			return nil, fmt.Errorf("%w: duplicate metric %s", ErrInvalidSpec, label)
		}
		seen[label] = true
		m.trackers = append(m.trackers, &tracker{
			spec:    spec,
			label:   label,
			pending: make([]prediction, 0, spec.Params.Steps),
			window:  newWindow(spec.Params.Window),
		})
	}
	return m, nil
}

// Update scores res and returns the current value of every metric that has
// at least one sample.
func (m *Manager) Update(res model.Result) map[string]float64 {
	actual := float64(res.Record.FileCount)
	for _, t := range m.trackers {
		t.observe(res, actual)
	}
	return m.Metrics()
}

func (m *Manager) Metrics() map[string]float64 {
	out := make(map[string]float64, len(m.trackers))
	for _, t := range m.trackers {
		if v, ok := t.value(); ok {
			out[t.label] = v
		}
	}
	return out
}

func (m *Manager) Labels() []string {
	out := make([]string, 0, len(m.trackers))
	for _, t := range m.trackers {
		out = append(out, t.label)
	}
	sort.Strings(out)
	return out
}
