package model

const (
	SwarmSizeSmall  = "small"
	SwarmSizeMedium = "medium"
	SwarmSizeLarge  = "large"
)

// SwarmConfig describes the dataset and the search a swarm run explores.
type SwarmConfig struct {
	IncludedFields []FieldInfo   `json:"includedFields"`
	StreamDef      StreamDef     `json:"streamDef"`
	InferenceType  InferenceType `json:"inferenceType"`
	InferenceArgs  InferenceArgs `json:"inferenceArgs"`
	IterationCount int           `json:"iterationCount"`
	SwarmSize      string        `json:"swarmSize"`
}

type StreamDef struct {
	Info    string         `json:"info"`
	Version int            `json:"version"`
	Streams []StreamSource `json:"streams"`
}

type StreamSource struct {
	Info    string   `json:"info"`
	Source  string   `json:"source"`
	Columns []string `json:"columns"`
}

type InferenceArgs struct {
	PredictionSteps []int  `json:"predictionSteps"`
	PredictedField  string `json:"predictedField"`
}

// DefaultSwarmConfig returns the fixed file-count search description.
func DefaultSwarmConfig() SwarmConfig {
	minValue, maxValue := 0.0, 100.0
	return SwarmConfig{
		IncludedFields: []FieldInfo{
			{Name: FieldTimestamp, Type: FieldTypeDatetime},
			{Name: FieldFileCount, Type: FieldTypeInt, MinValue: &minValue, MaxValue: &maxValue},
		},
		StreamDef: StreamDef{
			Info:    FieldFileCount,
			Version: 1,
			Streams: []StreamSource{{
				Info:    "fileData.csv",
				Source:  "file://fileData.csv",
				Columns: []string{"*"},
			}},
		},
		InferenceType: InferenceTemporalAnomaly,
		InferenceArgs: InferenceArgs{
			PredictionSteps: []int{1},
			PredictedField:  FieldFileCount,
		},
		IterationCount: -1,
		SwarmSize:      SwarmSizeLarge,
	}
}

// Field returns the included field with the given name.
func (c SwarmConfig) Field(name string) (FieldInfo, bool) {
	for _, f := range c.IncludedFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}
