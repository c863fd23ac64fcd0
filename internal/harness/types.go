package harness

import "github.com/roach88/setkeep/internal/ir"

// Trace entry types.
const (
	TypeStep  = "step"
	TypeEvent = "event"
)

// TraceEvent is one executed step or one event the engine emitted.
type TraceEvent struct {
	Seq    int64       `json:"seq"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Args   ir.IRObject `json:"args,omitempty"`
	// Case is the step outcome; events have none.
	Case   string      `json:"case,omitempty"`
	Result ir.IRObject `json:"result,omitempty"`
}

// Canonical renders the entry for canonical encoding, leaving out empty
// parts.
func (e TraceEvent) Canonical() ir.IRObject {
	obj := ir.IRObject{
		"seq":    ir.IRInt(e.Seq),
		"type":   ir.IRString(e.Type),
		"action": ir.IRString(e.Action),
	}
	if len(e.Args) > 0 {
		obj["args"] = e.Args
	}
	if e.Case != "" {
		obj["case"] = ir.IRString(e.Case)
	}
	if len(e.Result) > 0 {
		obj["result"] = e.Result
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends an executed step.
func (r *Result) AddStepTrace(action string, args ir.IRObject, outcome string, result ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    r.nextSeq(),
		Type:   TypeStep,
		Action: action,
		Args:   args,
		Case:   outcome,
		Result: result,
	})
}

// AddEventTrace appends an engine event.
func (r *Result) AddEventTrace(kind string, args ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    r.nextSeq(),
		Type:   TypeEvent,
		Action: kind,
		Args:   args,
	})
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace) + 1)
}
