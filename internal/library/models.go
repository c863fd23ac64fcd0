package library

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/setkeep/internal/ir"
)

// Song is the typed view of a songs record's fields.
type Song struct {
	Title     string   `json:"title"`
	Artist    string   `json:"artist,omitempty"`
	Key       string   `json:"key,omitempty"`
	Tempo     float64  `json:"tempo,omitempty"`
	Lyrics    string   `json:"lyrics,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	PlayCount int64    `json:"play_count,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
}

// Section is one ordered part of an arrangement.
type Section struct {
	ID      string `json:"id"`
	Order   int64  `json:"order"`
	Label   string `json:"label,omitempty"`
	Content string `json:"content,omitempty"`
}

// Arrangement is the typed view of an arrangements record's fields.
type Arrangement struct {
	SongID     string    `json:"song_id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"`
	ChordChart string    `json:"chord_chart,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Sections   []Section `json:"sections,omitempty"`
	PlayCount  int64     `json:"play_count,omitempty"`
	Rating     float64   `json:"rating,omitempty"`
}

// Setlist is the typed view of a setlists record's fields.
type Setlist struct {
	Name           string   `json:"name"`
	Notes          string   `json:"notes,omitempty"`
	Date           string   `json:"date,omitempty"`
	ArrangementIDs []string `json:"arrangement_ids,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Model is implemented by the typed field views.
type Model interface {
	Song | Arrangement | Setlist
}

// CollectionOf returns the collection a model belongs to.
func CollectionOf[T Model]() ir.Collection {
	var zero T
	switch any(zero).(type) {
	case Song:
		return ir.CollectionSongs
	case Arrangement:
		return ir.CollectionArrangements
	default:
		return ir.CollectionSetlists
	}
}

// Encode converts a typed model into record fields.
func Encode[T Model](m T) (ir.IRObject, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", CollectionOf[T](), err)
	}
	var fields ir.IRObject
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", CollectionOf[T](), err)
	}
	return fields, nil
}

// Decode converts record fields into a typed model. Unknown fields are
// ignored.
func Decode[T Model](fields ir.IRObject) (T, error) {
	var m T
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return m, fmt.Errorf("decode %s: %w", CollectionOf[T](), err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", CollectionOf[T](), err)
	}
	return m, nil
}

// NewRecord wraps a typed model in an unsaved record. The repository
// stamps the envelope on save.
func NewRecord[T Model](id string, m T) (ir.Record, error) {
	fields, err := Encode(m)
	if err != nil {
		return ir.Record{}, err
	}
	return ir.Record{ID: id, Collection: CollectionOf[T](), Fields: fields}, nil
}
