package core

import (
	"log/slog"
	"time"
)

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseAwaitingHeader ImportPhase = "awaiting_header"
	PhaseProcessingRows ImportPhase = "processing_rows"
	PhaseFinalizing     ImportPhase = "finalizing"
	PhaseComplete       ImportPhase = "complete"
	PhaseFailed         ImportPhase = "failed"
	PhaseCancelled      ImportPhase = "cancelled"
)

// Progress represents the current state of an import.
type Progress struct {
	RunID      string      `json:"run_id"`
	Entity     string      `json:"entity"`
	Phase      ImportPhase `json:"phase"`
	CurrentRow int         `json:"current_row"`
	Inserted   int         `json:"inserted"`
	Updated    int         `json:"updated"`
	Failed     int         `json:"failed"`
	Error      string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Processed returns the number of rows handled so far.
func (p Progress) Processed() int {
	return p.Inserted + p.Updated + p.Failed
}

// ContextCheckInterval is how often, in rows, cancellation is checked.
var ContextCheckInterval = 100

// ProgressInterval is how often, in rows, the progress callback runs.
var ProgressInterval = 100

// Options tunes an import.
type Options struct {
	// CommitEvery commits after this many rows. Zero runs the whole import
	// in one transaction.
	CommitEvery int

	// Progress is called as rows are processed and when the phase changes.
	Progress func(Progress)

	// RunID labels the run in logs and results. Generated when empty.
	RunID string

	// Logger overrides the context logger.
	Logger *slog.Logger

	// DryRun runs the whole import in one transaction and rolls it back,
	// so the result previews what a real run would do. CommitEvery is
	// ignored.
	DryRun bool
}

// ExportOptions tunes an export.
type ExportOptions struct {
	// Inner uses inner joins, dropping rows with missing associations.
	Inner bool
}

// EntityInfo describes an importable entity for listings.
type EntityInfo struct {
	Name        string   `json:"name"`
	Table       string   `json:"table"`
	Columns     []string `json:"columns"`
	Uniques     []string `json:"uniques"`
	HasTemplate bool     `json:"has_template"`
}

// ImportSummary is the logged and returned outline of a finished run.
type ImportSummary struct {
	RunID      string        `json:"run_id"`
	Entity     string        `json:"entity"`
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Duplicates int           `json:"duplicates"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// Summary outlines r.
func (r *Result) Summary(entity string) ImportSummary {
	return ImportSummary{
		RunID:      r.RunID,
		Entity:     entity,
		Inserted:   len(r.Inserted),
		Updated:    len(r.Updated),
		Duplicates: len(r.Duplicates),
		Errors:     len(r.Errors),
		Duration:   r.Duration,
	}
}
