package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/setkeep/internal/engine"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	// Trace is included for context when the assertion concerns it.
	Trace []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Type, event.Action, describe(event.Args))
		}
	}
	return buf.String()
}

// assertTraceContains checks for a step or event with the action whose
// args contain the expected ones.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	expected, err := argsObject(assertion.Args)
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}
	for _, event := range trace {
		if event.Action == assertion.Action && subsetEqual(event.Args, expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %s", assertion.Action, describe(expected)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the actions
// appear in order. Other entries may sit in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the action appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads a record and matches its view. A missing record
// has the view {exists: false}.
func assertFinalState(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	expected, err := argsObject(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	c := ir.Collection(assertion.Collection)
	rec, err := eng.Repository().Get(ctx, c, assertion.ID)
	var actual ir.IRObject
	switch {
	case errors.Is(err, store.ErrNotFound):
		actual = ir.IRObject{"exists": ir.IRBool(false)}
	case err != nil:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read %s/%s", c, assertion.ID),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	default:
		actual = recordView(rec)
	}

	if !subsetEqual(actual, expected) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s matching %s", c, assertion.ID, describe(expected)),
			Actual:   describe(actual),
		}
	}
	return nil
}

func assertRecordCount(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	c := ir.Collection(assertion.Collection)
	n, err := eng.Repository().Count(ctx, c)
	if err != nil {
		return fmt.Errorf("record_count %s: %w", c, err)
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records in %s", assertion.Count, c),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

// assertQueueState matches queue totals: total, one key per item status,
// and dead_letters.
func assertQueueState(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	expected, err := argsObject(assertion.Expect)
	if err != nil {
		return fmt.Errorf("queue_state expect: %w", err)
	}
	stats, err := eng.QueueStats(ctx)
	if err != nil {
		return fmt.Errorf("queue_state: %w", err)
	}

	actual := ir.IRObject{
		"total":        ir.IRInt(stats.Total),
		"dead_letters": ir.IRInt(stats.DeadLetters),
	}
	for _, status := range []ir.QueueStatus{ir.QueuePending, ir.QueueProcessing, ir.QueueFailed} {
		actual[string(status)] = ir.IRInt(stats.ByStatus[string(status)])
	}

	if !subsetEqual(actual, expected) {
		return &AssertionError{
			Type:     AssertQueueState,
			Expected: describe(expected),
			Actual:   describe(actual),
		}
	}
	return nil
}

// subsetEqual reports whether actual contains expected: objects match key
// by key, recursively, extra keys in actual being ignored; everything else
// must be equal.
func subsetEqual(actual, expected ir.IRValue) bool {
	exp, ok := expected.(ir.IRObject)
	if !ok {
		return ir.Equal(actual, expected)
	}
	if len(exp) == 0 {
		return true
	}
	act, ok := actual.(ir.IRObject)
	if !ok {
		return false
	}
	for k, v := range exp {
		w, present := act[k]
		if !present || !subsetEqual(w, v) {
			return false
		}
	}
	return true
}

// describe renders a value as canonical JSON for messages.
func describe(v ir.IRValue) string {
	if obj, ok := v.(ir.IRObject); ok && obj == nil {
		return "{}"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// AssertionContext gives assertions access to the engine after the flow.
type AssertionContext struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertRecordCount, AssertQueueState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires an engine", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx.Ctx, actx.Engine, assertion)
			case AssertRecordCount:
				err = assertRecordCount(actx.Ctx, actx.Engine, assertion)
			default:
				err = assertQueueState(actx.Ctx, actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
