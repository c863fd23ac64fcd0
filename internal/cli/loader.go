package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
)

// LoadMode controls how errors are handled while loading a library file.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LibraryFile is the on-disk import format. JSON is accepted as well,
// being a subset of YAML.
//
//	songs:
//	  - id: amazing-grace
//	    title: Amazing Grace
//	    is_favorite: true
//	arrangements:
//	  - song_id: amazing-grace
//	    name: G major
type LibraryFile struct {
	Songs        []map[string]any `yaml:"songs"`
	Arrangements []map[string]any `yaml:"arrangements"`
	Setlists     []map[string]any `yaml:"setlists"`
}

// LoadError locates a problem in a library file.
type LoadError struct {
	Code       string
	Message    string
	Collection ir.Collection
	Index      int
}

func (e *LoadError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s[%d]: %s: %s", e.Collection, e.Index, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// envelope keys lifted out of an entry; everything else becomes a field.
const (
	keyID       = "id"
	keyFavorite = "is_favorite"
	keyPinned   = "is_pinned"
)

// LoadLibrary reads path and converts its entries into unsaved records,
// songs first, then arrangements, then setlists, in file order. With a
// validator, each record's fields are checked against its collection.
func LoadLibrary(path string, v *library.Validator, mode LoadMode) ([]ir.Record, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := ErrCodeGeneric
		if errors.Is(err, os.ErrNotExist) {
			code = ErrCodeNotFound
		}
		return nil, []error{&LoadError{Code: code, Message: err.Error()}}
	}
	return ParseLibrary(data, v, mode)
}

// ParseLibrary is LoadLibrary over in-memory data.
func ParseLibrary(data []byte, v *library.Validator, mode LoadMode) ([]ir.Record, []error) {
	var file LibraryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeInvalidRecord, Message: fmt.Sprintf("parse library: %v", err)}}
	}

	groups := []struct {
		c       ir.Collection
		entries []map[string]any
	}{
		{ir.CollectionSongs, file.Songs},
		{ir.CollectionArrangements, file.Arrangements},
		{ir.CollectionSetlists, file.Setlists},
	}

	var (
		recs []ir.Record
		errs []error
	)
	for _, g := range groups {
		for i, entry := range g.entries {
			rec, err := entryRecord(g.c, entry)
			if err == nil && v != nil {
				err = v.Validate(rec)
			}
			if err != nil {
				errs = append(errs, &LoadError{
					Code:       ErrCodeInvalidRecord,
					Message:    err.Error(),
					Collection: g.c,
					Index:      i,
				})
				if mode == LoadModeFailFast {
					return nil, errs
				}
				continue
			}
			recs = append(recs, rec)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return recs, nil
}

func entryRecord(c ir.Collection, entry map[string]any) (ir.Record, error) {
	rec := ir.Record{Collection: c}
	rest := make(map[string]any, len(entry))
	for k, val := range entry {
		switch k {
		case keyID:
			id, ok := val.(string)
			if !ok {
				return ir.Record{}, fmt.Errorf("%s must be a string", keyID)
			}
			rec.ID = id
		case keyFavorite, keyPinned:
			b, ok := val.(bool)
			if !ok {
				return ir.Record{}, fmt.Errorf("%s must be a boolean", k)
			}
			if k == keyFavorite {
				rec.IsFavorite = b
			} else {
				rec.IsPinned = b
			}
		default:
			rest[k] = plain(val)
		}
	}

	data, err := json.Marshal(rest)
	if err != nil {
		return ir.Record{}, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Fields); err != nil {
		return ir.Record{}, fmt.Errorf("decode fields: %w", err)
	}
	return rec, nil
}

// plain turns values YAML decodes as timestamps back into strings, a bare
// date staying a date.
func plain(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.Equal(x.Truncate(24*time.Hour)) && x.Location() == time.UTC {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case map[string]any:
		for k, e := range x {
			x[k] = plain(e)
		}
	case []any:
		for i, e := range x {
			x[i] = plain(e)
		}
	}
	return v
}
