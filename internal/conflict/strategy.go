// Package conflict reconciles a local and a remote version of a record.
//
// Every function here is pure: the same inputs always produce a record
// whose canonical encoding is byte-identical.
package conflict

import (
	"fmt"

	"github.com/roach88/setkeep/internal/ir"
)

// Strategy selects how a conflict is resolved.
type Strategy int

const (
	LastWriteWins Strategy = iota + 1
	ThreeWayMerge
	FieldSpecific
	UserChoice
)

func (s Strategy) String() string {
	switch s {
	case LastWriteWins:
		return "last-write-wins"
	case ThreeWayMerge:
		return "three-way-merge"
	case FieldSpecific:
		return "field-specific"
	case UserChoice:
		return "user-choice"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a configured name onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range []Strategy{LastWriteWins, ThreeWayMerge, FieldSpecific, UserChoice} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown conflict strategy %q", name)
}

// RecommendedStrategy returns the default strategy for a collection.
// Setlists are co-edited most often, songs have a single owner and
// arrangements are edited collaboratively.
func RecommendedStrategy(c ir.Collection) Strategy {
	switch c {
	case ir.CollectionSetlists:
		return FieldSpecific
	case ir.CollectionSongs:
		return LastWriteWins
	case ir.CollectionArrangements:
		return ThreeWayMerge
	}
	return LastWriteWins
}
