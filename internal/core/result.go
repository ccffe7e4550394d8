package core

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// RowKey pairs a source row number with its unique tuple.
type RowKey struct {
	Row int
	Key []string
}

// MarshalJSON encodes the entry as {"<row>": [...]}.
func (r RowKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]string{strconv.Itoa(r.Row): r.Key})
}

// RowErrors holds the field messages of one rejected row.
type RowErrors struct {
	Row    int
	Fields map[string][]string
}

// MarshalJSON encodes the entry as {"<row>": {"field": [...]}}.
func (r RowErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string][]string{strconv.Itoa(r.Row): r.Fields})
}

// Result reports what an import did. Row numbers count from the header,
// which is row 0.
type Result struct {
	RunID      string        `json:"run_id,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Inserted   []RowKey      `json:"inserted"`
	Updated    []RowKey      `json:"updated"`
	Duplicates []RowKey      `json:"duplicates"`
	Errors     []RowErrors   `json:"errors"`
	Duration   time.Duration `json:"-"`
}

func newResult(runID string) *Result {
	return &Result{
		RunID:      runID,
		Inserted:   []RowKey{},
		Updated:    []RowKey{},
		Duplicates: []RowKey{},
		Errors:     []RowErrors{},
	}
}

// Rows returns the number of data rows seen.
func (r *Result) Rows() int {
	return len(r.Inserted) + len(r.Updated) + len(r.Errors)
}

// duplicateTracker counts unique tuples in first-seen order.
type duplicateTracker struct {
	order []string
	rows  map[string][]RowKey
}

func newDuplicateTracker() *duplicateTracker {
	return &duplicateTracker{rows: make(map[string][]RowKey)}
}

func (d *duplicateTracker) add(sig string, rk RowKey) {
	if _, ok := d.rows[sig]; !ok {
		d.order = append(d.order, sig)
	}
	d.rows[sig] = append(d.rows[sig], rk)
}

// duplicates returns every occurrence after the first, by row number.
func (d *duplicateTracker) duplicates() []RowKey {
	out := []RowKey{}
	for _, sig := range d.order {
		if rows := d.rows[sig]; len(rows) > 1 {
			out = append(out, rows[1:]...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}
