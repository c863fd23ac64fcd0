package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/setkeep/internal/config"
)

// Scenario is a scripted run against a fresh engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config is decoded over the defaults, the way a config file is.
	Config yaml.Node `yaml:"config,omitempty"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are checked against their expect clauses.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation against the engine.
type Step struct {
	// Do names the operation, e.g. "save" or "sync".
	Do string `yaml:"do"`

	Args map[string]any `yaml:"args,omitempty"`

	// Expect is checked for flow steps. Nil expects case "ok".
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies a step's expected outcome.
type ExpectClause struct {
	// Case is "ok" or an error case such as "quota_exceeded". Empty means
	// "ok".
	Case string `yaml:"case,omitempty"`

	// Result is a subset match against the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final store.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is a step or event name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args is a subset match against the trace entry (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	Count int `yaml:"count,omitempty"`

	Actions []string `yaml:"actions,omitempty"`

	// Collection and ID locate a record (final_state, record_count).
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Expect is a subset match (final_state, queue_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRecordCount   = "record_count"
	AssertQueueState    = "queue_state"
)

// Step names.
const (
	StepSave      = "save"
	StepUpdate    = "update"
	StepDelete    = "delete"
	StepGet       = "get"
	StepSeed      = "seed"
	StepRemote    = "remote"
	StepConflict  = "conflict"
	StepSync      = "sync"
	StepRetry     = "retry"
	StepStorage   = "storage"
	StepAdvance   = "advance"
	StepCleanup   = "cleanup"
	StepConflicts = "conflicts"
	StepResolve   = "resolve"
)

var knownSteps = []string{
	StepSave, StepUpdate, StepDelete, StepGet, StepSeed,
	StepRemote, StepConflict, StepSync, StepRetry,
	StepStorage, StepAdvance, StepCleanup, StepConflicts, StepResolve,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario over in-memory data.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// EngineConfig returns the defaults overlaid with the scenario's config
// section.
func (s *Scenario) EngineConfig() (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("encode config section: %w", err)
	}
	return config.Parse(data)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := s.EngineConfig(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Do == "" {
		return fmt.Errorf("do is required")
	}
	if !slices.Contains(knownSteps, step.Do) {
		return fmt.Errorf("unknown step %q", step.Do)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRecordCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for record_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertQueueState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for queue_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
