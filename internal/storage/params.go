package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"countwatch/internal/model"
)

var ErrNoModelParams = errors.New("no model params found")

const modelParamsHeader = "# model params selected by the swarm stage\n"

// WriteModelParams writes params as a YAML document. Params must carry the
// current record version so that ReadModelParams returns them unchanged.
func WriteModelParams(path string, params model.ModelParams) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("model params path is required")
	}
	if err := checkVersion(params.VersionedRecord); err != nil {
		return fmt.Errorf("model params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(modelParamsHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(params); err != nil {
		return fmt.Errorf("encode model params: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode model params: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadModelParams loads and validates a params document. Unknown keys are
// rejected.
func ReadModelParams(path string) (model.ModelParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.ModelParams{}, fmt.Errorf("%w: %s", ErrNoModelParams, path)
		}
		return model.ModelParams{}, err
	}

	var params model.ModelParams
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&params); err != nil {
		return model.ModelParams{}, fmt.Errorf("decode model params %s: %w", path, err)
	}
	if err := checkVersion(params.VersionedRecord); err != nil {
		return model.ModelParams{}, fmt.Errorf("model params %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return model.ModelParams{}, fmt.Errorf("model params %s: %w", path, err)
	}
	return params, nil
}
