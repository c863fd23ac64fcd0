package schema

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/setkeep/internal/store"
)

// StoreDef declares an object store and the indexes it must carry.
type StoreDef struct {
	Name    string
	Indexes []store.IndexSpec
}

// Step is one entry of the migration table.
type Step struct {
	Version int
	Name    string
	Stores  []StoreDef

	// Transform rewrites existing documents after Stores are in place.
	// It must be idempotent.
	Transform func(tx *store.UpgradeTx) error
}

// Report summarizes one upgrade.
type Report struct {
	From    int
	To      int
	Applied []int
	Missing []int
	Errors  []*StepError
}

// OK reports whether every step in range ran without error.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Errors) == 0
}

// Runner applies migration steps.
type Runner struct {
	target int
	steps  []Step
	logger *slog.Logger

	mu   sync.Mutex
	last Report
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for migration progress and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner builds a runner that migrates stores up to target.
// Step versions must be positive, unique and not above target.
func NewRunner(target int, steps []Step, opts ...Option) (*Runner, error) {
	sorted := slices.Clone(steps)
	slices.SortFunc(sorted, func(a, b Step) int { return a.Version - b.Version })
	for i, s := range sorted {
		if s.Version <= 0 || s.Version > target {
			return nil, fmt.Errorf("step %q: version %d outside 1..%d", s.Name, s.Version, target)
		}
		if i > 0 && sorted[i-1].Version == s.Version {
			return nil, fmt.Errorf("duplicate step for version %d", s.Version)
		}
	}

	r := &Runner{target: target, steps: sorted, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Target returns the version the runner migrates to.
func (r *Runner) Target() int {
	return r.target
}

// LastReport returns the report of the most recent Upgrade.
func (r *Runner) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) step(version int) (Step, bool) {
	i, found := slices.BinarySearchFunc(r.steps, version, func(s Step, v int) int { return s.Version - v })
	if !found {
		return Step{}, false
	}
	return r.steps[i], true
}

// Upgrade applies every step with oldVersion < version <= newVersion in
// ascending order. It has the signature of store.UpgradeFunc.
//
// Failures are collected per object store into the report rather than
// returned, so one failing collection does not keep the others behind.
func (r *Runner) Upgrade(tx *store.UpgradeTx, oldVersion, newVersion int) error {
	rep := Report{From: oldVersion, To: newVersion}

	for v := oldVersion + 1; v <= newVersion; v++ {
		s, ok := r.step(v)
		if !ok {
			r.logger.Warn("migration step missing, skipping",
				"version", v,
				"error", &MissingStepError{Version: v})
			rep.Missing = append(rep.Missing, v)
			continue
		}

		failed := r.apply(tx, s, &rep)
		if failed == 0 {
			rep.Applied = append(rep.Applied, v)
			r.logger.Debug("migration step applied", "version", v, "name", s.Name)
		}
	}

	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()

	if len(rep.Errors) > 0 {
		r.logger.Warn("migration completed with errors",
			"from", oldVersion,
			"to", newVersion,
			"errors", len(rep.Errors))
	}
	return nil
}

// apply runs one step and returns how many of its parts failed.
func (r *Runner) apply(tx *store.UpgradeTx, s Step, rep *Report) int {
	failed := 0
	for _, def := range s.Stores {
		if err := ensureStore(tx, def); err != nil {
			r.logger.Warn("migration store failed",
				"version", s.Version,
				"store", def.Name,
				"error", err)
			rep.Errors = append(rep.Errors, &StepError{Version: s.Version, Store: def.Name, Err: err})
			failed++
		}
	}
	if s.Transform != nil {
		if err := s.Transform(tx); err != nil {
			rep.Errors = append(rep.Errors, &StepError{Version: s.Version, Store: s.Name, Err: err})
			failed++
		}
	}
	return failed
}

func ensureStore(tx *store.UpgradeTx, def StoreDef) error {
	exists, err := tx.HasObjectStore(def.Name)
	if err != nil {
		return err
	}
	if !exists {
		if err := tx.CreateObjectStore(def.Name); err != nil {
			return err
		}
	}
	for _, idx := range def.Indexes {
		has, err := tx.HasIndex(def.Name, idx.Name)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if err := tx.CreateIndex(def.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

// Expected returns the object stores and indexes the declared steps imply
// for version.
func (r *Runner) Expected(version int) map[string][]store.IndexSpec {
	out := make(map[string][]store.IndexSpec)
	for _, s := range r.steps {
		if s.Version > version {
			break
		}
		for _, def := range s.Stores {
			if _, ok := out[def.Name]; !ok {
				out[def.Name] = nil
			}
			for _, idx := range def.Indexes {
				if !slices.ContainsFunc(out[def.Name], func(x store.IndexSpec) bool { return x.Name == idx.Name }) {
					out[def.Name] = append(out[def.Name], idx)
				}
			}
		}
	}
	return out
}
