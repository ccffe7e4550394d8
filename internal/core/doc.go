// Package core provides the import and export engine of rowgraph.
//
// This package is the heart of the importer, containing all domain logic
// independent of any UI or transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Templates: ordered column lists with nested association templates,
//     unique key declarations, required columns and header aliases.
//   - Resolution: [Resolve] turns a template into flat [Column]s and a
//     [schema.JoinPlan]. [ResolutionCache] memoises it per run.
//   - Importer: matches a header against the columns and then creates or
//     updates records and their associations row by row.
//   - Exporter: flattens records back into rows using the same template.
//   - Service: the entry point for all operations (import, export, suggest).
//
// # Templates
//
// Templates are usually loaded from YAML, one file per entity:
//
//	uniques:
//	  - [firstname, lastname]
//	required: [firstname]
//	all:
//	  - firstname
//	  - lastname
//	  - children:
//	      - firstname
//	      - dob
//
// A null entry below the root brings in the registered template of the
// entity reached by the enclosing association. Entities without a
// registered template use [Suggest].
//
// # Import
//
// The flow of [Importer.Import] is:
//
//  1. The header is normalised and matched one-to-one against column titles
//  2. A unique key is chosen from the declared uniques present in the header
//  3. Each row runs inside a savepoint; failed rows are rolled back and
//     reported in [Result.Errors]
//  4. Rows are committed in chunks of [Options.CommitEvery]
//
// [Options.DryRun] rolls everything back, which is how [Service.Preview]
// reports what an import would do. [Service.Match] ranks entities by how
// well their templates fit a header row.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each message has a code (for example IMP001) that support staff can
// look up in error_messages.go.
package core
