package model

import (
	"errors"
	"fmt"
)

const (
	ModelKindSequence = "sequence"

	EncoderScalar = "scalar"
	EncoderDate   = "date"
)

var ErrInvalidParams = errors.New("invalid model params")

// ModelParams is the model configuration a swarm run selects and the train
// stage builds a model from.
type ModelParams struct {
	VersionedRecord `yaml:",inline"`
	Model           string           `json:"model" yaml:"model"`
	InferenceType   InferenceType    `json:"inferenceType" yaml:"inferenceType"`
	PredictedField  string           `json:"predictedField" yaml:"predictedField"`
	Encoders        []EncoderParams  `json:"encoders" yaml:"encoders"`
	Sequence        SequenceParams   `json:"sequence" yaml:"sequence"`
	Classifier      ClassifierParams `json:"classifier" yaml:"classifier"`
}

type EncoderParams struct {
	FieldName  string  `json:"fieldName" yaml:"fieldName"`
	Type       string  `json:"type" yaml:"type"`
	MinValue   float64 `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue   float64 `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
	Resolution float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	TimeOfDay  bool    `json:"timeOfDay,omitempty" yaml:"timeOfDay,omitempty"`
	DayOfWeek  bool    `json:"dayOfWeek,omitempty" yaml:"dayOfWeek,omitempty"`
}

type SequenceParams struct {
	Order               int     `json:"order" yaml:"order"`
	Decay               float64 `json:"decay" yaml:"decay"`
	ActivationThreshold float64 `json:"activationThreshold" yaml:"activationThreshold"`
}

type ClassifierParams struct {
	Steps []int   `json:"steps" yaml:"steps"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
}

// DefaultModelParams derives the base candidate for a swarm configuration.
func DefaultModelParams(cfg SwarmConfig) ModelParams {
	params := ModelParams{
		VersionedRecord: CurrentVersion(),
		Model:           ModelKindSequence,
		InferenceType:   cfg.InferenceType,
		PredictedField:  cfg.InferenceArgs.PredictedField,
		Sequence: SequenceParams{
			Order:               1,
			Decay:               0.1,
			ActivationThreshold: 0.1,
		},
		Classifier: ClassifierParams{
			Steps: append([]int(nil), cfg.InferenceArgs.PredictionSteps...),
			Alpha: 0.3,
		},
	}
	if len(params.Classifier.Steps) == 0 {
		params.Classifier.Steps = []int{1}
	}
	for _, field := range cfg.IncludedFields {
		switch {
		case field.Type == FieldTypeDatetime:
			params.Encoders = append(params.Encoders, EncoderParams{
				FieldName: field.Name,
				Type:      EncoderDate,
				TimeOfDay: true,
			})
		case field.Numeric():
			enc := EncoderParams{
				FieldName: field.Name,
				Type:      EncoderScalar,
				MinValue:  0,
				MaxValue:  100,
			}
			if field.MinValue != nil {
				enc.MinValue = *field.MinValue
			}
			if field.MaxValue != nil {
				enc.MaxValue = *field.MaxValue
			}
			enc.Resolution = (enc.MaxValue - enc.MinValue) / 50
			if enc.Resolution <= 0 {
				enc.Resolution = 1
			}
			params.Encoders = append(params.Encoders, enc)
		}
	}
	return params
}

// Encoder returns the encoder configured for a field.
func (p ModelParams) Encoder(field string) (EncoderParams, bool) {
	for _, enc := range p.Encoders {
		if enc.FieldName == field {
			return enc, true
		}
	}
	return EncoderParams{}, false
}

func (p ModelParams) Clone() ModelParams {
	out := p
	out.Encoders = append([]EncoderParams(nil), p.Encoders...)
	out.Classifier.Steps = append([]int(nil), p.Classifier.Steps...)
	return out
}

// Validate checks a loaded configuration before a model is built from it.
func (p ModelParams) Validate() error {
	if p.Model != ModelKindSequence {
		return fmt.Errorf("%w: unsupported model %q", ErrInvalidParams, p.Model)
	}
	if !p.InferenceType.Valid() {
		return fmt.Errorf("%w: unsupported inference type %q", ErrInvalidParams, p.InferenceType)
	}
	if p.PredictedField == "" {
		return fmt.Errorf("%w: predicted field is required", ErrInvalidParams)
	}
	predicted, ok := p.Encoder(p.PredictedField)
	if !ok {
		return fmt.Errorf("%w: no encoder for predicted field %s", ErrInvalidParams, p.PredictedField)
	}
	if predicted.Type != EncoderScalar {
		return fmt.Errorf("%w: predicted field %s must use a scalar encoder", ErrInvalidParams, p.PredictedField)
	}
	seen := make(map[string]bool, len(p.Encoders))
	for _, enc := range p.Encoders {
		if enc.FieldName == "" {
			return fmt.Errorf("%w: encoder field name is required", ErrInvalidParams)
		}
		if seen[enc.FieldName] {
			return fmt.Errorf("%w: duplicate encoder for %s", ErrInvalidParams, enc.FieldName)
		}
		seen[enc.FieldName] = true
		switch enc.Type {
		case EncoderScalar:
			if enc.MaxValue <= enc.MinValue {
				return fmt.Errorf("%w: encoder %s max must exceed min", ErrInvalidParams, enc.FieldName)
			}
			if enc.Resolution <= 0 {
				return fmt.Errorf("%w: encoder %s resolution must be > 0", ErrInvalidParams, enc.FieldName)
			}
		case EncoderDate:
		default:
			return fmt.Errorf("%w: encoder %s has unknown type %q", ErrInvalidParams, enc.FieldName, enc.Type)
		}
	}
	if p.Sequence.Order < 1 {
		return fmt.Errorf("%w: sequence order must be >= 1", ErrInvalidParams)
	}
	if p.Sequence.Decay < 0 || p.Sequence.Decay >= 1 {
		return fmt.Errorf("%w: sequence decay must be in [0,1)", ErrInvalidParams)
	}
	if p.Sequence.ActivationThreshold < 0 || p.Sequence.ActivationThreshold > 1 {
		return fmt.Errorf("%w: activation threshold must be in [0,1]", ErrInvalidParams)
	}
	if len(p.Classifier.Steps) == 0 {
		return fmt.Errorf("%w: at least one prediction step is required", ErrInvalidParams)
	}
	for _, step := range p.Classifier.Steps {
		if step < 1 {
			return fmt.Errorf("%w: prediction steps must be >= 1", ErrInvalidParams)
		}
	}
	if p.Classifier.Alpha <= 0 || p.Classifier.Alpha > 1 {
		return fmt.Errorf("%w: classifier alpha must be in (0,1]", ErrInvalidParams)
	}
	return nil
}
