// Package batch imports a directory of CSV files, one entity per file, and
// writes the rejected rows of each file next to it for correction.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

// RejectSuffix names the file that receives the rejected rows of <name>.csv.
const RejectSuffix = ".rejected.csv"

// Importer runs one import. *core.Service satisfies it.
type Importer interface {
	Import(ctx context.Context, name string, src core.RowReader) (*core.Result, error)
}

// Options tunes ImportDir.
type Options struct {
	// Order lists entities imported before all others, in this order.
	// Reference data belongs here so later files can look it up.
	Order []string

	// EntityFor maps a file name without extension to an entity name.
	// Defaults to EntityName.
	EntityFor func(base string) string

	// RemoveImported deletes each file that imported without row errors.
	RemoveImported bool
}

// FileResult is the outcome of one file.
type FileResult struct {
	File     string
	Entity   string
	Result   *core.Result
	Rejected string // path of the rejected rows file, if any
	Err      error
}

// EntityName derives an entity from a file name: "ingredient_recipes"
// and "IngredientRecipe" both give "IngredientRecipe".
func EntityName(base string) string {
	return schema.Camel(schema.Singular(schema.Snake(base)))
}

// ImportDir imports every .csv file in dir. A failing file is recorded in
// its FileResult and the remaining files still run; only a cancelled
// context or an unreadable directory stops the batch.
func ImportDir(ctx context.Context, imp Importer, dir string, opts Options) ([]FileResult, error) {
	entityFor := opts.EntityFor
	if entityFor == nil {
		entityFor = EntityName
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var files []FileResult
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") || strings.HasSuffix(name, RejectSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		files = append(files, FileResult{File: filepath.Join(dir, name), Entity: entityFor(base)})
	}

	rank := func(entity string) int {
		if i := slices.Index(opts.Order, entity); i >= 0 {
			return i
		}
		return len(opts.Order)
	}
	sort.SliceStable(files, func(i, j int) bool {
		ri, rj := rank(files[i].Entity), rank(files[j].Entity)
		if ri != rj {
			return ri < rj
		}
		return files[i].File < files[j].File
	})

	logger := logging.FromContext(ctx)
	for i := range files {
		if err := ctx.Err(); err != nil {
			return files[:i], fmt.Errorf("operation cancelled: %w", err)
		}

		fr := &files[i]
		fr.Result, fr.Rejected, fr.Err = importFile(ctx, imp, fr.File, fr.Entity)
		if fr.Err != nil {
			logger.Warn("batch file failed", "file", fr.File, "entity", fr.Entity, "error", fr.Err)
			continue
		}
		logger.Info("batch file imported",
			"file", fr.File,
			"entity", fr.Entity,
			"inserted", len(fr.Result.Inserted),
			"updated", len(fr.Result.Updated),
			"errors", len(fr.Result.Errors),
		)

		if opts.RemoveImported && len(fr.Result.Errors) == 0 {
			if err := os.Remove(fr.File); err != nil && !os.IsNotExist(err) {
				return files[:i+1], fmt.Errorf("failed to remove imported file %s: %w", filepath.Base(fr.File), err)
			}
		}
	}
	return files, nil
}

// importFile imports one file. Rows are read up front so that rejected
// rows can be copied out verbatim afterwards.
func importFile(ctx context.Context, imp Importer, path, entity string) (*core.Result, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	rows, err := tabular.NewReader(f, size).ReadAll()
	if err != nil {
		return nil, "", fmt.Errorf("error reading csv %s: %w", filepath.Base(path), err)
	}

	result, err := imp.Import(ctx, entity, core.NewRows(rows))
	if err != nil {
		return nil, "", err
	}

	rejected := strings.TrimSuffix(path, filepath.Ext(path)) + RejectSuffix
	if len(result.Errors) == 0 {
		if err := os.Remove(rejected); err != nil && !os.IsNotExist(err) {
			return result, "", err
		}
		return result, "", nil
	}
	if err := writeRejected(rejected, rows, result.Errors); err != nil {
		return result, "", fmt.Errorf("writing rejected rows: %w", err)
	}
	return result, rejected, nil
}

// writeRejected writes the header and every rejected row with a leading
// Status column describing what was wrong with it.
func writeRejected(path string, rows [][]string, errs []core.RowErrors) error {
	out := [][]string{append([]string{"Status"}, rows[0]...)}
	for _, re := range errs {
		if re.Row <= 0 || re.Row >= len(rows) {
			continue
		}
		out = append(out, append([]string{status(re)}, rows[re.Row]...))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tabular.Write(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// status renders row errors as "field: message; field: message".
func status(re core.RowErrors) string {
	fields := make([]string, 0, len(re.Fields))
	for field := range re.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var parts []string
	for _, field := range fields {
		for _, msg := range re.Fields[field] {
			if field == "" {
				parts = append(parts, msg)
			} else {
				parts = append(parts, field+": "+msg)
			}
		}
	}
	return strings.Join(parts, "; ")
}
