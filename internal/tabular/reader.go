// Package tabular reads and writes the CSV files exchanged with the importer
// and exporter.
package tabular

// reader.go wraps a byte stream for CSV decoding without loading the whole
// file into memory:
//
//   - a byte order mark is removed (UTF-16 files marked with one are decoded)
//   - invalid UTF-8 sequences are replaced with U+FFFD
//   - bytes read are counted for progress reporting

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Reader yields CSV records one at a time. It satisfies core.RowReader.
type Reader struct {
	csv     *csv.Reader
	counter *CountingReader
}

// NewReader returns a Reader over r. size is the total byte count if known,
// or 0, and is only used by Progress.
func NewReader(r io.Reader, size int64) *Reader {
	counter := NewCountingReader(r, size)
	decoded := transform.NewReader(counter, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	return &Reader{csv: cr, counter: counter}
}

// Read returns the next record, or io.EOF after the last one.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// BytesRead returns the number of raw bytes consumed so far.
func (r *Reader) BytesRead() int64 { return r.counter.BytesRead }

// Progress returns the read progress as a percentage (0-100).
func (r *Reader) Progress() int { return r.counter.Progress() }

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}
