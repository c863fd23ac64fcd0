package conflict

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/setkeep/internal/ir"
)

// Rule merges one field when both sides changed it.
type Rule int

const (
	// PreferLocal keeps the local value, the side currently being edited.
	PreferLocal Rule = iota
	// LongerText keeps the longer string, counted in NFC runes.
	LongerText
	// Union concatenates two arrays, local order first, without duplicates.
	Union
	// Max keeps the larger number.
	Max
	// Average keeps the mean of two numbers.
	Average
	// KeyedList merges arrays of objects by their "id" member.
	KeyedList
)

func (r Rule) String() string {
	switch r {
	case PreferLocal:
		return "prefer-local"
	case LongerText:
		return "longer-text"
	case Union:
		return "union"
	case Max:
		return "max"
	case Average:
		return "average"
	case KeyedList:
		return "keyed-list"
	}
	return "unknown"
}

// DefaultRule applies to fields no Rules entry names.
const DefaultRule = PreferLocal

// Rules maps field names to their merge rule.
type Rules map[string]Rule

// For returns the rule for field, or fallback.
func (r Rules) For(field string, fallback Rule) Rule {
	if rule, ok := r[field]; ok {
		return rule
	}
	return fallback
}

const (
	keyMember   = "id"
	orderMember = "order"
)

// apply merges a changed field. A missing side is reported by ok=false;
// the result is absent when keep is false.
func apply(rule Rule, local ir.IRValue, localOK bool, remote ir.IRValue, remoteOK bool) (v ir.IRValue, keep bool) {
	if rule == PreferLocal {
		return local, localOK
	}
	// Every other rule needs both values; otherwise keep whichever exists.
	switch {
	case !localOK && !remoteOK:
		return nil, false
	case !localOK:
		return remote, true
	case !remoteOK:
		return local, true
	}

	switch rule {
	case LongerText:
		return longerText(local, remote), true
	case Union:
		return union(local, remote), true
	case Max:
		return maxNumber(local, remote), true
	case Average:
		return average(local, remote), true
	case KeyedList:
		return keyedList(local, remote), true
	}
	return local, true
}

func longerText(local, remote ir.IRValue) ir.IRValue {
	l, lok := local.(ir.IRString)
	r, rok := remote.(ir.IRString)
	if !lok || !rok {
		return local
	}
	if nfcLen(r) > nfcLen(l) {
		return r
	}
	return l
}

func nfcLen(s ir.IRString) int {
	return utf8.RuneCountInString(norm.NFC.String(string(s)))
}

func union(local, remote ir.IRValue) ir.IRValue {
	l, lok := local.(ir.IRArray)
	r, rok := remote.(ir.IRArray)
	if !lok || !rok {
		return local
	}
	out := make(ir.IRArray, 0, len(l)+len(r))
	for _, v := range slices.Concat(l, r) {
		if !slices.ContainsFunc(out, func(x ir.IRValue) bool { return ir.Equal(x, v) }) {
			out = append(out, ir.CloneValue(v))
		}
	}
	return out
}

func maxNumber(local, remote ir.IRValue) ir.IRValue {
	l, lok := ir.Number(local)
	r, rok := ir.Number(remote)
	if !lok || !rok {
		return local
	}
	if r > l {
		return remote
	}
	return local
}

func average(local, remote ir.IRValue) ir.IRValue {
	l, lok := ir.Number(local)
	r, rok := ir.Number(remote)
	if !lok || !rok {
		return local
	}
	return ir.IRFloat((l + r) / 2)
}

// keyedList merges ordered sub-items. Items present on both sides keep the
// local content with the higher of the two order values. The result is
// sorted by order, then key. Lists with an item lacking a string key fall
// back to the local value.
func keyedList(local, remote ir.IRValue) ir.IRValue {
	l, lok := itemsByKey(local)
	r, rok := itemsByKey(remote)
	if !lok || !rok {
		return local
	}

	merged := make(map[string]ir.IRObject, len(l)+len(r))
	for key, item := range r {
		merged[key] = item.Clone()
	}
	for key, item := range l {
		out := item.Clone()
		if other, ok := r[key]; ok {
			lo, lhas := ir.Number(item[orderMember])
			ro, rhas := ir.Number(other[orderMember])
			if rhas && (!lhas || ro > lo) {
				out[orderMember] = other[orderMember]
			}
		}
		merged[key] = out
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ao, _ := ir.Number(merged[a][orderMember])
		bo, _ := ir.Number(merged[b][orderMember])
		if c := cmp.Compare(ao, bo); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	out := make(ir.IRArray, len(keys))
	for i, k := range keys {
		out[i] = merged[k]
	}
	return out
}

func itemsByKey(v ir.IRValue) (map[string]ir.IRObject, bool) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, false
	}
	out := make(map[string]ir.IRObject, len(arr))
	for _, elem := range arr {
		obj, ok := elem.(ir.IRObject)
		if !ok {
			return nil, false
		}
		key, ok := obj[keyMember].(ir.IRString)
		if !ok || key == "" {
			return nil, false
		}
		out[string(key)] = obj
	}
	return out, true
}
