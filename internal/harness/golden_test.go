package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/ir"
)

func TestGolden_Scenarios(t *testing.T) {
	for _, file := range []string{
		"a_create_and_sync.yaml",
		"c_dead_letter_then_retry.yaml",
		"d_last_write_wins.yaml",
	} {
		t.Run(file, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "tiny",
		Trace: []TraceEvent{
			{Seq: 1, Type: TypeStep, Action: "remote", Case: CaseOK},
			{
				Seq:    2,
				Type:   TypeEvent,
				Action: "item-dead-lettered",
				Args:   ir.IRObject{"entity_id": ir.IRString("x"), "collection": ir.IRString("songs")},
			},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"tiny","trace":[`+
			`{"action":"remote","case":"ok","seq":1,"type":"step"},`+
			`{"action":"item-dead-lettered","args":{"collection":"songs","entity_id":"x"},"seq":2,"type":"event"}]}`,
		string(data))
}
