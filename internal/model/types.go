package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`
	CodecVersion  int `json:"codec_version" yaml:"codec_version"`
}

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// CurrentVersion is the header stamped on records created by this build.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

const (
	FieldTimestamp = "timestamp"
	FieldFileCount = "fileCount"
)

// Record is one data row: a timestamp and the observed file count.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	FileCount int       `json:"file_count"`
}

type InferenceType string

const (
	InferenceTemporalAnomaly   InferenceType = "TemporalAnomaly"
	InferenceTemporalMultiStep InferenceType = "TemporalMultiStep"
)

func (t InferenceType) Valid() bool {
	switch t {
	case InferenceTemporalAnomaly, InferenceTemporalMultiStep:
		return true
	default:
		return false
	}
}

const (
	InferenceMultiStepBestPredictions = "multiStepBestPredictions"
	InferencePrediction               = "prediction"
	InferenceAnomalyScore             = "anomalyScore"
)

type FieldType string

const (
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "float"
)

// FieldInfo describes one input field of the model.
type FieldInfo struct {
	Name     string    `json:"fieldName" yaml:"fieldName"`
	Type     FieldType `json:"fieldType" yaml:"fieldType"`
	MinValue *float64  `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue *float64  `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
}

func (f FieldInfo) Numeric() bool {
	return f.Type == FieldTypeInt || f.Type == FieldTypeFloat
}

// Inferences holds the keyed outputs of one model step. A step is missing from
// MultiStepBestPredictions while the model has nothing to predict yet.
type Inferences struct {
	MultiStepBestPredictions map[int]float64 `json:"multiStepBestPredictions"`
	AnomalyScore             float64         `json:"anomalyScore"`
}

// BestPrediction returns the prediction for the given step, if any.
func (i Inferences) BestPrediction(step int) (float64, bool) {
	v, ok := i.MultiStepBestPredictions[step]
	return v, ok
}

type Result struct {
	Index      int                `json:"index"`
	Record     Record             `json:"record"`
	Inferences Inferences         `json:"inferences"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}
