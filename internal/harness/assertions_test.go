package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/ir"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: TypeStep, Action: "save", Case: CaseOK,
			Args: ir.IRObject{"collection": ir.IRString("songs"), "id": ir.IRString("a")}},
		{Seq: 2, Type: TypeStep, Action: "sync", Case: CaseOK},
		{Seq: 3, Type: TypeEvent, Action: "sync-conflict",
			Args: ir.IRObject{"entity_id": ir.IRString("a"), "strategy": ir.IRString("last-write-wins")}},
		{Seq: 4, Type: TypeStep, Action: "sync", Case: CaseOK},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceContains(trace, Assertion{
		Type:   AssertTraceContains,
		Action: "sync-conflict",
		Args:   map[string]any{"entity_id": "a"},
	}))
	require.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: "sync"}))

	err := assertTraceContains(trace, Assertion{
		Type:   AssertTraceContains,
		Action: "sync-conflict",
		Args:   map[string]any{"entity_id": "b"},
	})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "not found in trace", ae.Actual)
	assert.Len(t, ae.Trace, 4)
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"save", "sync", "sync-conflict"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"sync-conflict", "save"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync-conflict (pos 3) should be before save (pos 1)")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"save", "delete"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: delete")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceCount(trace, Assertion{Action: "sync", Count: 2}))
	require.NoError(t, assertTraceCount(trace, Assertion{Action: "delete", Count: 0}))

	err := assertTraceCount(trace, Assertion{Type: AssertTraceCount, Action: "sync", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 1 occurrences of sync")
	assert.Contains(t, err.Error(), "Actual: 2 occurrences")
}

func TestSubsetEqual(t *testing.T) {
	actual := ir.IRObject{
		"version": ir.IRInt(2),
		"fields": ir.IRObject{
			"title": ir.IRString("Song"),
			"tags":  ir.IRArray{ir.IRString("live")},
		},
	}

	tests := []struct {
		name     string
		expected ir.IRValue
		want     bool
	}{
		{"empty object matches anything", ir.IRObject{}, true},
		{"nested subset", ir.IRObject{"fields": ir.IRObject{"title": ir.IRString("Song")}}, true},
		{"float equals int", ir.IRObject{"version": ir.IRFloat(2)}, true},
		{"arrays compare whole", ir.IRObject{"fields": ir.IRObject{"tags": ir.IRArray{ir.IRString("live")}}}, true},
		{"missing key", ir.IRObject{"sync_status": ir.IRString("synced")}, false},
		{"different value", ir.IRObject{"version": ir.IRInt(3)}, false},
		{"object against scalar", ir.IRObject{"version": ir.IRObject{"n": ir.IRInt(2)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, subsetEqual(actual, tt.expected))
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "x",
		Actual:   "y",
		Trace:    sampleTrace()[:1],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_contains")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, `[1] step save {"collection":"songs","id":"a"}`)
}

func TestEvaluateAssertions_StoreAssertionsNeedEngine(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertRecordCount, Collection: "songs"},
		{Type: AssertTraceCount, Action: "save", Count: 0},
	}, nil)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "record_count requires an engine")
}
