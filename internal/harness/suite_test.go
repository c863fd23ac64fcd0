package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios_FiltersBySuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.md", "c.yaml.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	paths, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)
}

func TestRunDir_ShippedScenarios(t *testing.T) {
	res, err := RunDir(context.Background(), "testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, 7, res.TotalScenarios)
	assert.Equal(t, 7, res.Passed)
	assert.Empty(t, res.Failures)
	assert.True(t, res.OK())
}

func TestRunDir_CountsBrokenScenarios(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", `
name: good
description: "Saves one song"
flow:
  - do: save
    args: { collection: songs, fields: { title: Fine } }
assertions:
  - type: record_count
    collection: songs
    count: 1
`)
	writeFile(t, dir, "wrong.yaml", `
name: wrong
description: "Expects a record that was never saved"
flow:
  - do: sync
assertions:
  - type: record_count
    collection: songs
    count: 1
`)
	writeFile(t, dir, "broken.yaml", "name: [")

	res, err := RunDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalScenarios)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 2, res.Failed)
	assert.False(t, res.OK())

	byPath := map[string]ScenarioFailure{}
	for _, f := range res.Failures {
		byPath[filepath.Base(f.Path)] = f
	}
	assert.Contains(t, byPath["broken.yaml"].Error, "failed to parse YAML")
	assert.Equal(t, "wrong", byPath["wrong.yaml"].Scenario)
	assert.Contains(t, byPath["wrong.yaml"].Error, "1 records in songs")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
