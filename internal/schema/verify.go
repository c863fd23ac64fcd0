package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/setkeep/internal/store"
)

// Drift lists differences between the schema a store claims and the one
// it has.
type Drift struct {
	ClaimedVersion int
	MissingSteps   []int
	MissingStores  []string
	MissingIndexes []string
}

// OK reports whether the store's schema matches its claimed version.
func (d Drift) OK() bool {
	return len(d.MissingSteps) == 0 && len(d.MissingStores) == 0 && len(d.MissingIndexes) == 0
}

func (d Drift) String() string {
	if d.OK() {
		return fmt.Sprintf("schema v%d: ok", d.ClaimedVersion)
	}
	var parts []string
	if len(d.MissingSteps) > 0 {
		parts = append(parts, fmt.Sprintf("undeclared steps %v", d.MissingSteps))
	}
	if len(d.MissingStores) > 0 {
		parts = append(parts, "missing stores "+strings.Join(d.MissingStores, ","))
	}
	if len(d.MissingIndexes) > 0 {
		parts = append(parts, "missing indexes "+strings.Join(d.MissingIndexes, ","))
	}
	return fmt.Sprintf("schema v%d drift: %s", d.ClaimedVersion, strings.Join(parts, "; "))
}

// Verify checks that st actually has every object store and index the
// declared steps imply for the version st claims.
func (r *Runner) Verify(ctx context.Context, st *store.Store) (Drift, error) {
	d := Drift{ClaimedVersion: st.Version()}

	for v := 1; v <= d.ClaimedVersion; v++ {
		if _, ok := r.step(v); !ok {
			d.MissingSteps = append(d.MissingSteps, v)
		}
	}

	expected := r.Expected(d.ClaimedVersion)
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ok, err := st.HasObjectStore(ctx, name)
		if err != nil {
			return d, fmt.Errorf("verify: %w", err)
		}
		if !ok {
			d.MissingStores = append(d.MissingStores, name)
			continue
		}
		for _, idx := range expected[name] {
			ok, err := st.HasIndex(ctx, name, idx.Name)
			if err != nil {
				return d, fmt.Errorf("verify: %w", err)
			}
			if !ok {
				d.MissingIndexes = append(d.MissingIndexes, name+"."+idx.Name)
			}
		}
	}
	return d, nil
}
