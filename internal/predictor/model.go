// Package predictor implements a small online sequence model: it buckets the
// predicted field, learns decaying first- to n-th-order transitions between
// buckets and scores how unexpected each new bucket is.
package predictor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"countwatch/internal/model"
	"countwatch/internal/storage"
)

// Transitions weaker than this are dropped after decay.
const pruneBelow = 1e-3

type SequenceModel struct {
	params         model.ModelParams
	predictedField string
	learning       bool

	scalar scalarEncoder
	date   *dateEncoder

	transitions map[string]map[int]float64
	classifier  *classifier
	history     []int
	prevContext string
	records     int
}

// Create builds an untrained model from validated params.
func Create(params model.ModelParams) (*SequenceModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &SequenceModel{
		params:      params.Clone(),
		learning:    true,
		transitions: make(map[string]map[int]float64),
		classifier:  newClassifier(params.Classifier.Alpha),
	}
	for _, enc := range params.Encoders {
		switch enc.Type {
		case model.EncoderScalar:
			if enc.FieldName != model.FieldFileCount {
				return nil, fmt.Errorf("%w: scalar encoder for unsupported field %s", model.ErrInvalidParams, enc.FieldName)
			}
		case model.EncoderDate:
			if enc.FieldName != model.FieldTimestamp {
				return nil, fmt.Errorf("%w: date encoder for unsupported field %s", model.ErrInvalidParams, enc.FieldName)
			}
			date := newDateEncoder(enc)
			m.date = &date
		}
	}
	if err := m.EnableInference(params.PredictedField); err != nil {
		return nil, err
	}
	return m, nil
}

// Load restores a model saved with Save.
func Load(dir string) (*SequenceModel, error) {
	cp, err := storage.ReadCheckpointDir(dir)
	if err != nil {
		return nil, err
	}
	m, err := Create(cp.Params)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", dir, err)
	}
	if cp.PredictedField != "" {
		if err := m.EnableInference(cp.PredictedField); err != nil {
			return nil, err
		}
	}
	m.learning = cp.Learning
	m.records = cp.Records
	m.history = append([]int(nil), cp.History...)
	m.prevContext = cp.PrevContext
	for _, tr := range cp.Transitions {
		next := make(map[int]float64, len(tr.Next))
		for b, s := range tr.Next {
			next[b] = s
		}
		m.transitions[tr.Context] = next
	}
	m.classifier.restore(cp.Buckets)
	return m, nil
}

// EnableInference selects the field whose next value the model predicts.
func (m *SequenceModel) EnableInference(predictedField string) error {
	enc, ok := m.params.Encoder(predictedField)
	if !ok || enc.Type != model.EncoderScalar {
		return fmt.Errorf("cannot predict %q: no scalar encoder", predictedField)
	}
	m.predictedField = predictedField
	m.scalar = newScalarEncoder(enc)
	return nil
}

func (m *SequenceModel) EnableLearning()  { m.learning = true }
func (m *SequenceModel) DisableLearning() { m.learning = false }

func (m *SequenceModel) InferenceType() model.InferenceType {
	return m.params.InferenceType
}

func (m *SequenceModel) Params() model.ModelParams {
	return m.params.Clone()
}

// Records reports how many records the model has seen over its lifetime.
func (m *SequenceModel) Records() int {
	return m.records
}

func (m *SequenceModel) FieldInfo() []model.FieldInfo {
	out := make([]model.FieldInfo, 0, len(m.params.Encoders))
	for _, enc := range m.params.Encoders {
		switch enc.Type {
		case model.EncoderDate:
			out = append(out, model.FieldInfo{Name: enc.FieldName, Type: model.FieldTypeDatetime})
		case model.EncoderScalar:
			minValue, maxValue := enc.MinValue, enc.MaxValue
			out = append(out, model.FieldInfo{
				Name:     enc.FieldName,
				Type:     model.FieldTypeInt,
				MinValue: &minValue,
				MaxValue: &maxValue,
			})
		}
	}
	return out
}

// Run feeds one record through the model. The anomaly score compares the
// record against what the model predicted one step earlier; predictions are
// for the records that follow.
func (m *SequenceModel) Run(rec model.Record) (model.Result, error) {
	value := float64(rec.FileCount)
	bucket := m.scalar.bucket(value)
	anomaly := m.anomalyScore(bucket)

	if m.learning {
		if m.records > 0 {
			m.reinforce(m.prevContext, bucket)
		}
		m.classifier.learn(bucket, value)
	}

	m.history = appendHistory(m.history, bucket, m.params.Sequence.Order)
	dateCtx := ""
	if m.date != nil {
		dateCtx = m.date.context(rec.Timestamp)
	}
	predictions := m.predict(dateCtx)
	m.prevContext = contextKey(dateCtx, m.history)

	res := model.Result{
		Index:  m.records,
		Record: rec,
		Inferences: model.Inferences{
			MultiStepBestPredictions: predictions,
			AnomalyScore:             anomaly,
		},
	}
	m.records++
	return res, nil
}

func (m *SequenceModel) Save(dir string) error {
	return storage.WriteCheckpointDir(dir, m.checkpoint())
}

func (m *SequenceModel) checkpoint() model.Checkpoint {
	contexts := make([]string, 0, len(m.transitions))
	for ctx := range m.transitions {
		contexts = append(contexts, ctx)
	}
	sort.Strings(contexts)

	transitions := make([]model.TransitionState, 0, len(contexts))
	for _, ctx := range contexts {
		next := make(map[int]float64, len(m.transitions[ctx]))
		for b, s := range m.transitions[ctx] {
			next[b] = s
		}
		transitions = append(transitions, model.TransitionState{Context: ctx, Next: next})
	}
	return model.Checkpoint{
		Params:         m.params.Clone(),
		PredictedField: m.predictedField,
		Learning:       m.learning,
		Records:        m.records,
		History:        append([]int(nil), m.history...),
		PrevContext:    m.prevContext,
		Transitions:    transitions,
		Buckets:        m.classifier.snapshot(),
	}
}

func (m *SequenceModel) anomalyScore(bucket int) float64 {
	if m.records == 0 {
		return 0
	}
	next := m.transitions[m.prevContext]
	total, best := 0.0, 0.0
	for _, b := range sortedBuckets(next) {
		s := next[b]
		total += s
		if s > best {
			best = s
		}
	}
	if total <= 0 || best <= 0 {
		return 1
	}
	strength := next[bucket]
	if strength/total < m.params.Sequence.ActivationThreshold {
		return 1
	}
	return clamp01(1 - strength/best)
}

func (m *SequenceModel) reinforce(ctx string, bucket int) {
	next, ok := m.transitions[ctx]
	if !ok {
		next = make(map[int]float64)
		m.transitions[ctx] = next
	}
	keep := 1 - m.params.Sequence.Decay
	for b, s := range next {
		s *= keep
		if s < pruneBelow {
			delete(next, b)
			continue
		}
		next[b] = s
	}
	next[bucket]++
}

func (m *SequenceModel) predict(dateCtx string) map[int]float64 {
	maxStep := 0
	for _, step := range m.params.Classifier.Steps {
		if step > maxStep {
			maxStep = step
		}
	}

	reached := make(map[int]int, maxStep)
	history := append([]int(nil), m.history...)
	for k := 1; k <= maxStep; k++ {
		b, ok := strongest(m.transitions[contextKey(dateCtx, history)])
		if !ok {
			break
		}
		reached[k] = b
		history = appendHistory(history, b, m.params.Sequence.Order)
	}

	out := make(map[int]float64, len(m.params.Classifier.Steps))
	for _, step := range m.params.Classifier.Steps {
		b, ok := reached[step]
		if !ok {
			continue
		}
		v, ok := m.classifier.value(b)
		if !ok {
			v = m.scalar.center(b)
		}
		out[step] = v
	}
	return out
}

// strongest returns the bucket with the largest strength; ties go to the
// lower bucket.
func strongest(next map[int]float64) (int, bool) {
	best, bestStrength, found := 0, 0.0, false
	for _, b := range sortedBuckets(next) {
		if s := next[b]; !found || s > bestStrength {
			best, bestStrength, found = b, s, true
		}
	}
	return best, found
}

func sortedBuckets(next map[int]float64) []int {
	out := make([]int, 0, len(next))
	for b := range next {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

func appendHistory(history []int, bucket, order int) []int {
	history = append(history, bucket)
	if len(history) > order {
		history = append([]int(nil), history[len(history)-order:]...)
	}
	return history
}

func contextKey(dateCtx string, history []int) string {
	var sb strings.Builder
	sb.WriteString(dateCtx)
	sb.WriteString("|")
	for i, b := range history {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(b))
	}
	return sb.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

