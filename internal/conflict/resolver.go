package conflict

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/setkeep/internal/ir"
)

// ErrMismatch is returned when local and remote describe different records.
var ErrMismatch = errors.New("local and remote records differ in identity")

// Winner names which side an outcome came from.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// Outcome is the result of resolving one conflict.
type Outcome struct {
	Record   ir.Record
	Strategy Strategy
	Winner   Winner

	// Pending is set by UserChoice: the pair to offer for a manual pick.
	// DetectedAt is left for the caller to stamp.
	Pending *ir.PendingConflict

	// FellBack reports that the requested strategy could not run as asked,
	// e.g. a three-way merge with no common ancestor.
	FellBack bool
}

// Resolver applies strategies using per-collection field rules.
type Resolver struct {
	rules    map[ir.Collection]Rules
	fallback Rule
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultRule overrides the rule for fields no Rules entry names.
func WithDefaultRule(r Rule) Option {
	return func(res *Resolver) {
		res.fallback = r
	}
}

// NewResolver creates a resolver with the given field rules.
func NewResolver(rules map[ir.Collection]Rules, opts ...Option) *Resolver {
	r := &Resolver{rules: rules, fallback: DefaultRule}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reconciles local and remote under strategy s. base is the last
// snapshot both sides agreed on; only ThreeWayMerge reads it.
func (r *Resolver) Resolve(s Strategy, local, remote ir.Record, base *ir.Record) (Outcome, error) {
	if local.ID != remote.ID || local.Collection != remote.Collection {
		return Outcome{}, fmt.Errorf("%w: %s/%s vs %s/%s", ErrMismatch,
			local.Collection, local.ID, remote.Collection, remote.ID)
	}

	switch s {
	case LastWriteWins:
		return r.lastWriteWins(local, remote), nil
	case ThreeWayMerge:
		if base == nil {
			out := r.fieldSpecific(local, remote)
			out.Strategy = ThreeWayMerge
			out.FellBack = true
			return out, nil
		}
		return r.threeWay(local, remote, *base), nil
	case FieldSpecific:
		return r.fieldSpecific(local, remote), nil
	case UserChoice:
		out := r.lastWriteWins(local, remote)
		out.Strategy = UserChoice
		out.Pending = &ir.PendingConflict{
			EntityID:   local.ID,
			Collection: local.Collection,
			Local:      local.Clone(),
			Remote:     remote.Clone(),
		}
		return out, nil
	}
	return Outcome{}, fmt.Errorf("unknown conflict strategy %v", s)
}

// Choose resolves a parked conflict in favour of one side.
func Choose(p ir.PendingConflict, w Winner) (ir.Record, error) {
	switch w {
	case WinnerLocal:
		return settle(p.Local, p.Local, p.Remote), nil
	case WinnerRemote:
		return settle(p.Remote, p.Local, p.Remote), nil
	}
	return ir.Record{}, fmt.Errorf("cannot choose %q for a pending conflict", w)
}

func (r *Resolver) lastWriteWins(local, remote ir.Record) Outcome {
	if remoteWins(local, remote) {
		return Outcome{Record: settle(remote, local, remote), Strategy: LastWriteWins, Winner: WinnerRemote}
	}
	return Outcome{Record: settle(local, local, remote), Strategy: LastWriteWins, Winner: WinnerLocal}
}

// remoteWins orders by updated_at, then writer identity, then content hash
// so that a tie always resolves the same way.
func remoteWins(local, remote ir.Record) bool {
	if c := remote.UpdatedAt.Compare(local.UpdatedAt); c != 0 {
		return c > 0
	}
	if remote.ModifiedBy != local.ModifiedBy {
		return remote.ModifiedBy > local.ModifiedBy
	}
	lh, lerr := ir.FieldsHash(local.Fields)
	rh, rerr := ir.FieldsHash(remote.Fields)
	if lerr != nil || rerr != nil {
		return false
	}
	return rh > lh
}

func (r *Resolver) fieldSpecific(local, remote ir.Record) Outcome {
	rules := r.rules[local.Collection]
	fields := ir.IRObject{}
	for _, key := range unionKeys(local.Fields, remote.Fields) {
		lv, lok := local.Fields[key]
		rv, rok := remote.Fields[key]
		if lok == rok && ir.Equal(lv, rv) {
			if lok {
				fields[key] = ir.CloneValue(lv)
			}
			continue
		}
		if v, keep := apply(rules.For(key, r.fallback), lv, lok, rv, rok); keep {
			fields[key] = ir.CloneValue(v)
		}
	}
	return r.merged(local, remote, fields, FieldSpecific)
}

func (r *Resolver) threeWay(local, remote, base ir.Record) Outcome {
	rules := r.rules[local.Collection]
	fields := ir.IRObject{}
	for _, key := range unionKeys(local.Fields, remote.Fields) {
		lv, lok := local.Fields[key]
		rv, rok := remote.Fields[key]
		bv, bok := base.Fields[key]

		var (
			v    ir.IRValue
			keep bool
		)
		localChanged := !same(lv, lok, bv, bok)
		remoteChanged := !same(rv, rok, bv, bok)
		switch {
		case same(lv, lok, rv, rok):
			v, keep = lv, lok
		case localChanged && !remoteChanged:
			v, keep = lv, lok
		case remoteChanged && !localChanged:
			v, keep = rv, rok
		default:
			v, keep = apply(rules.For(key, r.fallback), lv, lok, rv, rok)
		}
		if keep {
			fields[key] = ir.CloneValue(v)
		}
	}
	return r.merged(local, remote, fields, ThreeWayMerge)
}

// merged wraps merged fields in local's envelope, naming a side as winner
// when the merge reproduced it exactly.
func (r *Resolver) merged(local, remote ir.Record, fields ir.IRObject, s Strategy) Outcome {
	winner := WinnerMerged
	base := local
	switch {
	case ir.ContentEqual(fields, local.Fields):
		winner = WinnerLocal
	case ir.ContentEqual(fields, remote.Fields):
		winner = WinnerRemote
	}
	base.Fields = fields
	return Outcome{Record: settle(base, local, remote), Strategy: s, Winner: winner}
}

// settle stamps the resolved envelope: the version moves past both sides
// and the record is marked synced.
func settle(winner, local, remote ir.Record) ir.Record {
	out := winner.Clone()
	out.Version = max(local.Version, remote.Version) + 1
	out.SyncStatus = ir.SyncSynced
	if remote.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt
	}
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}
	out.LastAccessedAt = max(local.LastAccessedAt, remote.LastAccessedAt)
	out.CreatedAt = earliest(local.CreatedAt, remote.CreatedAt)
	out.IsFavorite = local.IsFavorite
	out.IsPinned = local.IsPinned
	return out
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}

func same(a ir.IRValue, aok bool, b ir.IRValue, bok bool) bool {
	if aok != bok {
		return false
	}
	return !aok || ir.Equal(a, b)
}

func unionKeys(a, b ir.IRObject) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
