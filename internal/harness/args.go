package harness

import (
	"math"
	"time"

	"github.com/roach88/setkeep/internal/cleanup"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
)

// stepArgs reads typed arguments out of a YAML-decoded step.
type stepArgs struct {
	step string
	args map[string]any
}

func (a stepArgs) str(key string) (string, error) {
	s, ok, err := a.optStr(key)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", badStep(a.step, "%s is required", key)
	}
	return s, nil
}

func (a stepArgs) optStr(key string) (string, bool, error) {
	v, ok := a.args[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, badStep(a.step, "%s must be a string, got %T", key, v)
	}
	return s, true, nil
}

func (a stepArgs) optBool(key string) (bool, bool, error) {
	v, ok := a.args[key]
	if !ok {
		return false, false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, false, badStep(a.step, "%s must be a boolean, got %T", key, v)
	}
	return b, true, nil
}

func (a stepArgs) integer(key string) (int64, error) {
	n, ok, err := a.optInteger(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, badStep(a.step, "%s is required", key)
	}
	return n, nil
}

func (a stepArgs) optInteger(key string) (int64, bool, error) {
	v, ok := a.args[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true, nil
		}
	}
	return 0, false, badStep(a.step, "%s must be an integer, got %v", key, v)
}

func (a stepArgs) duration(key string) (time.Duration, error) {
	d, ok, err := a.optDuration(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, badStep(a.step, "%s is required", key)
	}
	return d, nil
}

func (a stepArgs) optDuration(key string) (time.Duration, bool, error) {
	s, ok, err := a.optStr(key)
	if err != nil || !ok {
		return 0, false, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, badStep(a.step, "%s: %v", key, err)
	}
	return d, true, nil
}

// object reads a nested mapping as record fields. A missing key is an
// empty object.
func (a stepArgs) object(key string) (ir.IRObject, error) {
	v, ok := a.args[key]
	if !ok {
		return ir.IRObject{}, nil
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, badStep(a.step, "%s must be a mapping, got %T", key, v)
	}
	obj, err := argsObject(m)
	if err != nil {
		return nil, badStep(a.step, "%s: %v", key, err)
	}
	return obj, nil
}

func (a stepArgs) collection() (ir.Collection, error) {
	name, err := a.str("collection")
	if err != nil {
		return "", err
	}
	c := ir.Collection(name)
	if _, err := library.Lookup(c); err != nil {
		return "", badStep(a.step, "%v", err)
	}
	return c, nil
}

func (a stepArgs) key() (ir.Collection, string, error) {
	c, err := a.collection()
	if err != nil {
		return "", "", err
	}
	id, err := a.str("id")
	if err != nil {
		return "", "", err
	}
	return c, id, nil
}

// record builds an unsaved record from collection, id, fields and the
// retention flags.
func (a stepArgs) record() (ir.Record, error) {
	c, err := a.collection()
	if err != nil {
		return ir.Record{}, err
	}
	id, _, err := a.optStr("id")
	if err != nil {
		return ir.Record{}, err
	}
	fields, err := a.object("fields")
	if err != nil {
		return ir.Record{}, err
	}
	fav, _, err := a.optBool("is_favorite")
	if err != nil {
		return ir.Record{}, err
	}
	pinned, _, err := a.optBool("is_pinned")
	if err != nil {
		return ir.Record{}, err
	}
	return ir.Record{
		ID:         id,
		Collection: c,
		Fields:     fields,
		IsFavorite: fav,
		IsPinned:   pinned,
	}, nil
}

// argsObject converts YAML-decoded values to IR values.
func argsObject(args map[string]any) (ir.IRObject, error) {
	if args == nil {
		return nil, nil
	}
	v, err := ir.FromAny(args)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}

func mergeFields(base, overrides ir.IRObject) ir.IRObject {
	out := base.Clone()
	if out == nil {
		out = ir.IRObject{}
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

type cleanupResult cleanup.Result

func (r cleanupResult) view() ir.IRObject {
	out := ir.IRObject{
		"queue_items": ir.IRInt(r.QueueItems),
		"evicted":     ir.IRInt(cleanup.Result(r).Records()),
		"orphans":     ir.IRInt(r.Orphans),
		"repaired":    ir.IRInt(r.Repaired),
	}
	if r.Skipped {
		out["skipped"] = ir.IRBool(true)
	}
	return out
}
