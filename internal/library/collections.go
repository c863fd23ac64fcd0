// Package library describes the setkeep content library: its record
// collections, their typed models, payload schemas and the migration
// table that creates their object stores.
package library

import (
	"fmt"

	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/store"
)

// Object stores outside the record collections.
const (
	StoreSyncQueue   = "sync_queue"
	StoreDeadLetters = "dead_letters"
	StoreConflicts   = "conflicts"
	StoreSyncBase    = "sync_base"
)

// Index names shared by every record collection.
const (
	IndexSyncStatus   = "by_sync_status"
	IndexLastAccessed = "by_last_accessed"
)

// Queue and dead-letter index names.
const (
	IndexQueueStatus    = "by_status"
	IndexQueueTimestamp = "by_timestamp"
	IndexQueueEntity    = "by_entity"
	IndexQueueType      = "by_type"
	IndexDeadOriginal   = "by_original"
	IndexDeadFailedAt   = "by_failed_at"
	IndexConflictKind   = "by_collection"
)

// Reference is a field holding ids of records in another collection.
type Reference struct {
	Field  string
	Target ir.Collection
	// Many is true for id lists, false for a single parent id.
	Many bool
}

// Descriptor describes one record collection.
type Descriptor struct {
	Collection ir.Collection
	Indexes    []store.IndexSpec

	// Parent is a single-id reference whose target must exist; records
	// whose parent is missing are orphans and get deleted.
	Parent *Reference
	// Children is an id-list reference; missing ids are dropped from the
	// list and the record is kept.
	Children *Reference

	Rules conflict.Rules
}

func recordIndexes(extra ...store.IndexSpec) []store.IndexSpec {
	return append(extra,
		store.IndexSpec{Name: IndexSyncStatus, KeyPath: "sync_status"},
		store.IndexSpec{Name: IndexLastAccessed, KeyPath: "last_accessed_at"},
	)
}

var descriptors = []Descriptor{
	{
		Collection: ir.CollectionSongs,
		Indexes: recordIndexes(
			store.IndexSpec{Name: "by_title", KeyPath: "fields.title"},
			store.IndexSpec{Name: "by_artist", KeyPath: "fields.artist"},
		),
		Rules: conflict.Rules{
			"title":      conflict.LongerText,
			"artist":     conflict.LongerText,
			"lyrics":     conflict.LongerText,
			"notes":      conflict.LongerText,
			"tags":       conflict.Union,
			"play_count": conflict.Max,
			"rating":     conflict.Average,
		},
	},
	{
		Collection: ir.CollectionArrangements,
		Indexes: recordIndexes(
			store.IndexSpec{Name: "by_song", KeyPath: "fields.song_id"},
			store.IndexSpec{Name: "by_name", KeyPath: "fields.name"},
		),
		Parent: &Reference{Field: "song_id", Target: ir.CollectionSongs},
		Rules: conflict.Rules{
			"name":        conflict.LongerText,
			"chord_chart": conflict.LongerText,
			"notes":       conflict.LongerText,
			"tags":        conflict.Union,
			"sections":    conflict.KeyedList,
			"play_count":  conflict.Max,
			"rating":      conflict.Average,
		},
	},
	{
		Collection: ir.CollectionSetlists,
		Indexes: recordIndexes(
			store.IndexSpec{Name: "by_name", KeyPath: "fields.name"},
			store.IndexSpec{Name: "by_date", KeyPath: "fields.date"},
		),
		Children: &Reference{Field: "arrangement_ids", Target: ir.CollectionArrangements, Many: true},
		Rules: conflict.Rules{
			"name":            conflict.LongerText,
			"notes":           conflict.LongerText,
			"tags":            conflict.Union,
			"arrangement_ids": conflict.Union,
		},
	},
}

// Descriptors returns every collection descriptor, parents first.
func Descriptors() []Descriptor {
	return descriptors
}

// Lookup returns the descriptor for c.
func Lookup(c ir.Collection) (Descriptor, error) {
	for _, d := range descriptors {
		if d.Collection == c {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown collection %q", c)
}

// ConflictRules returns the field rules of every collection, keyed for
// conflict.NewResolver.
func ConflictRules() map[ir.Collection]conflict.Rules {
	out := make(map[ir.Collection]conflict.Rules, len(descriptors))
	for _, d := range descriptors {
		out[d.Collection] = d.Rules
	}
	return out
}
