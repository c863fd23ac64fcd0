package ir

// MetadataFields names the record envelope keys that never take part in
// content comparison.
var MetadataFields = map[string]bool{
	"id":               true,
	"collection":       true,
	"version":          true,
	"created_at":       true,
	"updated_at":       true,
	"last_accessed_at": true,
	"sync_status":      true,
	"modified_by":      true,
}

// Equal reports deep structural equality. Arrays compare element-wise and
// order-sensitive; objects compare key sets and per-key values. IRInt and
// IRFloat holding the same number are equal.
func Equal(a, b IRValue) bool {
	switch av := a.(type) {
	case nil, IRNull:
		switch b.(type) {
		case nil, IRNull:
			return true
		}
		return false
	case IRString:
		bv, ok := b.(IRString)
		return ok && av == bv
	case IRBool:
		bv, ok := b.(IRBool)
		return ok && av == bv
	case IRInt, IRFloat:
		an, _ := Number(a)
		bn, ok := Number(b)
		return ok && an == bn
	case IRArray:
		bv, ok := b.(IRArray)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IRObject:
		bv, ok := b.(IRObject)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// ContentEqual compares two field sets ignoring MetadataFields.
func ContentEqual(a, b IRObject) bool {
	return Equal(stripMetadata(a), stripMetadata(b))
}

func stripMetadata(obj IRObject) IRObject {
	out := make(IRObject, len(obj))
	for k, v := range obj {
		if !MetadataFields[k] {
			out[k] = v
		}
	}
	return out
}
