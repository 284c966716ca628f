package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"countwatch/internal/model"
)

const CheckpointFile = "checkpoint.json"

var ErrNoSavedModel = errors.New("no saved model found")

// WriteCheckpointDir writes cp into dir, replacing any previous checkpoint.
func WriteCheckpointDir(dir string, cp model.Checkpoint) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("model directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	cp.VersionedRecord = Versioned()
	data, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := filepath.Join(dir, CheckpointFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, CheckpointFile))
}

func ReadCheckpointDir(dir string) (model.Checkpoint, error) {
	path := filepath.Join(dir, CheckpointFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Checkpoint{}, fmt.Errorf("%w: %s", ErrNoSavedModel, dir)
		}
		return model.Checkpoint{}, err
	}
	cp, err := DecodeCheckpoint(data)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}
