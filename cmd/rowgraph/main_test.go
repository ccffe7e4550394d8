package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliSchema = `
entities:
  - name: Parent
    fields:
      - {name: firstname}
      - {name: lastname}
    associations:
      - {name: children, kind: has_many, target: Child}
  - name: Child
    table: children
    fields:
      - {name: firstname}
    associations:
      - {name: parent, kind: belongs_to}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI(t *testing.T) {
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaFile, []byte(cliSchema), 0o644))
	csvFile := filepath.Join(dir, "parents.csv")
	require.NoError(t, os.WriteFile(csvFile, []byte("Firstname,Lastname\nHomer,Simpson\nMarge,Simpson\n"), 0o644))

	t.Setenv("DATABASE_URL", filepath.Join(dir, "cli.db"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("IMPORT_SCHEMA_PATH", schemaFile)
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "migrate", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "parents")
	assert.Contains(t, out, "children")

	_, err = run(t, "migrate", "--print=false")
	require.NoError(t, err)

	out, err = run(t, "import", "Parent", csvFile, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run, nothing saved")

	out, err = run(t, "import", "Parent", csvFile, "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Parent: 2 inserted, 0 updated, 0 duplicates, 0 errors")

	out, err = run(t, "export", "Parent")
	require.NoError(t, err)
	assert.Equal(t, "Firstname,Lastname\nHomer,Simpson\nMarge,Simpson\n", out)

	out, err = run(t, "suggest", "Child", "--hops", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "parent")

	out, err = run(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, out, "Parent")
	assert.Contains(t, out, "suggested")

	out, err = run(t, "match", csvFile)
	require.NoError(t, err)
	assert.Equal(t, "Parent\t100%\n", out)

	_, err = run(t, "import", "Spaceship", csvFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[TPL004]")
}
