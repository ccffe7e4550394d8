package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowgraph/internal/batch"
	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

var (
	commitEvery  int
	importJSON   bool
	importDryRun bool
	batchOrder   []string
	batchRemove  bool
)

var importCmd = &cobra.Command{
	Use:   "import <entity> <file.csv|->",
	Short: "Import a CSV file into an entity and its associations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]
		if cmd.Flags().Changed("commit-every") {
			if err := os.Setenv("IMPORT_COMMIT_EVERY", fmt.Sprint(commitEvery)); err != nil {
				return err
			}
		}

		var (
			in   io.Reader = cmd.InOrStdin()
			size int64
		)
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if info, err := f.Stat(); err == nil {
				size = info.Size()
			}
			in = f
		}

		return withApp(cmd, func(a *app) error {
			importFn := a.service.Import
			if importDryRun {
				importFn = a.service.Preview
			}
			result, err := importFn(cmd.Context(), name, tabular.NewReader(in, size))
			if err != nil {
				return userError(err)
			}
			return printResult(cmd.OutOrStdout(), name, result)
		})
	},
}

var importDirCmd = &cobra.Command{
	Use:   "import-dir <dir>",
	Short: "Import every CSV file of a directory, one entity per file",
	Long: `Import every CSV file of a directory. The entity is taken from the file
name: cities.csv imports City. Rows that fail are written to
<name>` + batch.RejectSuffix + ` with a leading Status column.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			results, err := batch.ImportDir(cmd.Context(), a.service, args[0], batch.Options{
				Order:          batchOrder,
				RemoveImported: batchRemove,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, fr := range results {
				switch {
				case fr.Err != nil:
					failed++
					fmt.Fprintf(out, "%s (%s): %v\n", fr.File, fr.Entity, userError(fr.Err))
				case fr.Rejected != "":
					s := fr.Result.Summary(fr.Entity)
					fmt.Fprintf(out, "%s (%s): %d inserted, %d updated, %d rejected -> %s\n",
						fr.File, fr.Entity, s.Inserted, s.Updated, s.Errors, fr.Rejected)
				default:
					s := fr.Result.Summary(fr.Entity)
					fmt.Fprintf(out, "%s (%s): %d inserted, %d updated\n", fr.File, fr.Entity, s.Inserted, s.Updated)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	importCmd.Flags().IntVar(&commitEvery, "commit-every", 0, "Commit after this many rows (IMPORT_COMMIT_EVERY)")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Print the full result as JSON")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Roll the import back and only report what it would do")
	importDirCmd.Flags().StringSliceVar(&batchOrder, "order", nil, "Entities to import first, in order")
	importDirCmd.Flags().BoolVar(&batchRemove, "remove", false, "Delete files that import without errors")

	rootCmd.AddCommand(importCmd, importDirCmd)
}

func printResult(w io.Writer, name string, result *core.Result) error {
	if importJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary core.ImportSummary `json:"summary"`
			Result  *core.Result       `json:"result"`
		}{result.Summary(name), result})
	}

	s := result.Summary(name)
	if result.DryRun {
		fmt.Fprint(w, "dry run, nothing saved\n")
	}
	fmt.Fprintf(w, "%s: %d inserted, %d updated, %d duplicates, %d errors in %s\n",
		name, s.Inserted, s.Updated, s.Duplicates, s.Errors, s.Duration.Round(time.Millisecond))
	for _, re := range result.Errors {
		fields := make([]string, 0, len(re.Fields))
		for field := range re.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(w, "  row %d: %s %s\n", re.Row, field, strings.Join(re.Fields[field], ", "))
		}
	}
	return nil
}
