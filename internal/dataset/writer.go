package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"countwatch/internal/model"
)

var (
	TrainHeader = []string{"timestamp", "fileCount", "predictedFileCount"}
	TestHeader  = []string{"timestamp", "fileCount", "nextPredictedFileCount", "currentAnomaly"}
)

// ResultWriter writes one CSV row per model result.
type ResultWriter struct {
	file *os.File
	csv  *csv.Writer
	rows int
}

// Create truncates path and writes header as its first row.
func Create(path string, header []string) (*ResultWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &ResultWriter{file: file, csv: csv.NewWriter(file)}
	if err := w.csv.Write(header); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// Write appends the row for res, using the prediction for step.
func (w *ResultWriter) Write(res model.Result, step int) error {
	if err := w.csv.Write(Cells(res, step)); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows reports the number of data rows written so far.
func (w *ResultWriter) Rows() int {
	return w.rows
}

func (w *ResultWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// Cells renders res as timestamp, fileCount, " NP:<prediction>", " A:<anomaly>".
func Cells(res model.Result, step int) []string {
	return []string{
		FormatTimestamp(res.Record.Timestamp),
		strconv.Itoa(res.Record.FileCount),
		" NP:" + FormatPrediction(res.Inferences, step),
		" A:" + FormatFloat(res.Inferences.AnomalyScore),
	}
}

// Line renders res the way the test stage prints it.
func Line(res model.Result, step int) string {
	return fmt.Sprintf("%s %d NP:%s A:%s",
		FormatTimestamp(res.Record.Timestamp),
		res.Record.FileCount,
		FormatPrediction(res.Inferences, step),
		FormatFloat(res.Inferences.AnomalyScore),
	)
}

// FormatTimestamp prints microseconds only when they are non-zero.
func FormatTimestamp(t time.Time) string {
	out := t.Format("2006-01-02 15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		out += fmt.Sprintf(".%06d", us)
	}
	return out
}

// FormatPrediction renders the prediction for step, or None when absent.
func FormatPrediction(inf model.Inferences, step int) string {
	v, ok := inf.BestPrediction(step)
	if !ok {
		return "None"
	}
	return FormatFloat(v)
}

// FormatFloat renders v in shortest round-trip form and always keeps a
// decimal point or exponent, so 12 prints as "12.0".
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(out, '.') {
		out += ".0"
	}
	return out
}
