package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/config"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
)

// testEnv is a config file pointing at a fresh data directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := "data_dir: " + dir + `
writer_id: test-device
storage:
  budget_bytes: 1073741824
log:
  level: error
`
	path := filepath.Join(dir, "setkeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return testEnv{dir: dir, config: path}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

// runJSON runs with --format json and decodes the payload into data.
func (e testEnv) runJSON(t *testing.T, data any, args ...string) CLIResponse {
	t.Helper()
	out, err := e.run(t, append([]string{"--format", "json"}, args...)...)
	require.NoError(t, err, out)

	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status}
}

func (e testEnv) writeLibrary(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInit_CreatesStoreAtCurrentSchema(t *testing.T) {
	env := newTestEnv(t)

	var res InitResult
	resp := env.runJSON(t, &res, "init")
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, library.SchemaVersion, res.SchemaVersion)
	assert.Equal(t, filepath.Join(env.dir, "setkeep.db"), res.Database)
	assert.Subset(t, res.ObjectStores, []string{"songs", "arrangements", "setlists", "sync_queue", "dead_letters"})

	out, err := env.run(t, "init")
	require.NoError(t, err, "init is idempotent")
	assert.Contains(t, out, "Store ready at")
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	env := newTestEnv(t)
	target := filepath.Join(env.dir, "conf", "written.yaml")

	out, err := env.run(t, "init", "--write-config", target)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote configuration to")

	cfg, err := config.Load(target)
	require.NoError(t, err)
	assert.Equal(t, env.dir, cfg.DataDir)
	assert.Equal(t, "test-device", cfg.WriterID)
	assert.Equal(t, config.Default().Sync.BaseDelay, cfg.Sync.BaseDelay)

	_, err = env.run(t, "init", "--write-config", target)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "init", "--write-config", target, "--force")
	require.NoError(t, err)
}

func TestImport_SavesAndQueuesEveryRecord(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLibrary(t, sampleLibrary)

	var imp ImportResult
	env.runJSON(t, &imp, "import", path)
	assert.Equal(t, map[ir.Collection]int{
		ir.CollectionSongs:        2,
		ir.CollectionArrangements: 1,
		ir.CollectionSetlists:     1,
	}, imp.Imported)
	assert.Equal(t, []string{"grace", "vision", "grace-g", "sunday"}, imp.IDs)

	var stats StatsResult
	env.runJSON(t, &stats, "stats")
	assert.Equal(t, 2, stats.Library.Records[ir.CollectionSongs])
	assert.Equal(t, 2, stats.Library.Exempt, "favorite song and pinned setlist")
	assert.Equal(t, 0, stats.Library.Orphans)
	assert.Equal(t, 4, stats.Queue.Total)
	assert.Equal(t, 4, stats.Queue.ByOperation[string(ir.OpCreate)])

	out, err := env.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "songs")
	assert.Contains(t, out, "Queue total: 4")
}

func TestImport_DryRunLeavesNoStore(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLibrary(t, sampleLibrary)

	var imp ImportResult
	env.runJSON(t, &imp, "import", "--dry-run", path)
	assert.True(t, imp.DryRun)
	assert.Equal(t, 2, imp.Imported[ir.CollectionSongs])
	assert.Empty(t, imp.IDs)

	_, err := os.Stat(filepath.Join(env.dir, "setkeep.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestImport_InvalidFileSavesNothing(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLibrary(t, `
songs:
  - id: ok
    title: Fine
  - id: bad
    title: ""
`)

	out, err := env.run(t, "import", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")
	assert.Contains(t, out, "songs[1]")

	var stats StatsResult
	env.runJSON(t, &stats, "stats")
	assert.Equal(t, 0, stats.Library.Records[ir.CollectionSongs])
	assert.Equal(t, 0, stats.Queue.Total)
}

func TestVerify_FreshStoreHasNoDrift(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "✓")

	var res VerifyResult
	env.runJSON(t, &res, "verify")
	assert.True(t, res.OK)
	assert.Equal(t, library.SchemaVersion, res.ClaimedVersion)
}

func TestReport_HealthyStore(t *testing.T) {
	env := newTestEnv(t)

	var res ReportResult
	env.runJSON(t, &res, "report")
	assert.Equal(t, "healthy", res.Status)
	assert.True(t, res.Supported)
	assert.Equal(t, int64(1073741824), res.Capacity)
	assert.Equal(t, res.Capacity-res.Usage, res.Available)
	assert.InDelta(t, 0.80, res.WarningThreshold, 1e-9)
	assert.NotNil(t, res.Recommendations)

	out, err := env.run(t, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")
}

func TestCleanup_HealthyStoreIsLeftAlone(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Storage is healthy")
}

func TestCleanup_ForcedLevelRunsPolicy(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLibrary(t, sampleLibrary)
	_, err := env.run(t, "import", path)
	require.NoError(t, err)

	var res CleanupResult
	env.runJSON(t, &res, "cleanup", "--level", "critical")
	assert.Equal(t, "forced", res.Mode)
	assert.Equal(t, "critical", res.Status)
	assert.Zero(t, res.Result.Records(), "fresh records are below the keep minimum")

	var stats StatsResult
	env.runJSON(t, &stats, "stats")
	assert.Equal(t, 2, stats.Library.Records[ir.CollectionSongs])
}

func TestCleanup_RejectsBadFlags(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "cleanup", "--level", "severe")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "cleanup", "--level", "warning", "--emergency")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueueCommands_EmptyStore(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "retry")
	require.NoError(t, err)
	assert.Contains(t, out, "Requeued 0")

	out, err = env.run(t, "dead-letters")
	require.NoError(t, err)
	assert.Contains(t, out, "No dead letters.")

	var dls []ir.DeadLetter
	env.runJSON(t, &dls, "dead-letters")
	assert.Empty(t, dls)
}

func TestConflicts_ListAndResolveMissing(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "conflicts")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending conflicts.")

	out, err = env.run(t, "conflicts", "resolve", "setlists", "sunday", "--keep", "remote")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]")

	_, err = env.run(t, "conflicts", "resolve", "setlists", "sunday", "--keep", "both")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "conflicts", "resolve", "albums", "x", "--keep", "local")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("storage:\n  warning_threshold: 2\n"), 0o644))

	out, err := env.run(t, "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}
