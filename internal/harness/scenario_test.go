package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/config"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
config:
  sync:
    max_retries: 5
setup:
  - do: save
    args: { collection: songs, id: s1, fields: { title: Grace } }
flow:
  - do: sync
    expect:
      result: { succeeded: 1 }
assertions:
  - type: queue_state
    expect: { total: 0 }
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, StepSave, scenario.Setup[0].Do)
	assert.Equal(t, "s1", scenario.Setup[0].Args["id"])
	require.Len(t, scenario.Flow, 1)
	require.NotNil(t, scenario.Flow[0].Expect)
	assert.Equal(t, 1, scenario.Flow[0].Expect.Result["succeeded"])

	cfg, err := scenario.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, config.Default().Sync.RetryCeiling, cfg.Sync.RetryCeiling)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestEngineConfig_DefaultsWithoutSection(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: n
description: d
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`))
	require.NoError(t, err)
	cfg, err := scenario.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Cleanup, cfg.Cleanup)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "unknown top-level field",
			content: `
name: n
description: d
assertion: []
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "failed to parse YAML",
		},
		{
			name: "missing name",
			content: `
description: d
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "description is required",
		},
		{
			name: "empty flow",
			content: `
name: n
description: d
flow: []
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "flow list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
flow: [{do: sync}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown step",
			content: `
name: n
description: d
flow: [{do: teleport}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: `flow[0]: unknown step "teleport"`,
		},
		{
			name: "expect in setup",
			content: `
name: n
description: d
setup: [{do: sync, expect: {case: ok}}]
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "setup steps cannot carry expect",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
flow: [{do: sync}]
assertions: [{type: eventually}]
`,
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name: "final_state without id",
			content: `
name: n
description: d
flow: [{do: sync}]
assertions: [{type: final_state, collection: songs, expect: {exists: true}}]
`,
			wantErr: "collection and id are required",
		},
		{
			name: "trace_order without actions",
			content: `
name: n
description: d
flow: [{do: sync}]
assertions: [{type: trace_order}]
`,
			wantErr: "actions list is required",
		},
		{
			name: "invalid config section",
			content: `
name: n
description: d
config:
  storage:
    warning_threshold: 2
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "config:",
		},
		{
			name: "unknown config key",
			content: `
name: n
description: d
config:
  sync:
    retries: 2
flow: [{do: sync}]
assertions: [{type: queue_state, expect: {total: 0}}]
`,
			wantErr: "config:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_ShippedScenariosParse(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	names := map[string]bool{}
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.False(t, names[scenario.Name], "duplicate scenario name %s", scenario.Name)
		names[scenario.Name] = true
	}
}
