// Package dataset reads file-count CSV streams and writes per-row model
// results in the layout downstream tooling expects.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"countwatch/internal/model"
)

// HeaderRows is the number of leading rows every input file carries: the
// column names followed by two metadata rows.
const HeaderRows = 3

// TimestampLayout matches "YYYY-MM-DD HH:MM:SS.ffffff". The fractional part
// may be omitted.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// Reader replays the data rows of one CSV file. Rewind positions it at the
// first data row again so the same file can be fed through a model many times.
type Reader struct {
	path string
	file *os.File
	csv  *csv.Reader
	line int
}

// Open opens path and positions the reader at the first data row.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{path: path, file: file}
	if err := r.Rewind(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) Path() string {
	return r.path
}

// Rewind seeks back to the start of the file and skips the header rows.
func (r *Reader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", r.path, err)
	}
	r.csv = csv.NewReader(r.file)
	r.csv.FieldsPerRecord = -1
	r.line = 0
	for i := 0; i < HeaderRows; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("read %s: expected %d header rows, found %d", r.path, HeaderRows, i)
			}
			return fmt.Errorf("read %s header row %d: %w", r.path, i+1, err)
		}
		r.line++
	}
	return nil
}

// Next returns the next data record, or io.EOF after the last row.
func (r *Reader) Next() (model.Record, error) {
	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Record{}, io.EOF
		}
		return model.Record{}, fmt.Errorf("read %s line %d: %w", r.path, r.line+1, err)
	}
	r.line++
	rec, err := ParseRecord(fields)
	if err != nil {
		return model.Record{}, fmt.Errorf("%s line %d: %w", r.path, r.line, err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// ParseRecord converts one CSV row into a record.
func ParseRecord(fields []string) (model.Record, error) {
	if len(fields) < 2 {
		return model.Record{}, fmt.Errorf("expected at least 2 columns, got %d", len(fields))
	}
	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(fields[0]))
	if err != nil {
		return model.Record{}, fmt.Errorf("parse timestamp %q: %w", fields[0], err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return model.Record{}, fmt.Errorf("parse %s %q: %w", model.FieldFileCount, fields[1], err)
	}
	return model.Record{Timestamp: ts, FileCount: count}, nil
}

// ReadAll loads up to limit data records from path; limit < 0 reads them all.
func ReadAll(path string, limit int) ([]model.Record, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	records := make([]model.Record, 0, 1024)
	for limit < 0 || len(records) < limit {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
