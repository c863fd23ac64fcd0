package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/store"
)

func openAt(t *testing.T, path string, version int) *store.Store {
	t.Helper()
	runner, err := NewRunner(nil)
	require.NoError(t, err)
	st, err := store.Open(context.Background(), path, store.Options{
		Version: version,
		Upgrade: runner.Upgrade,
	})
	require.NoError(t, err)
	return st
}

func TestMigrations_CreateEveryStore(t *testing.T) {
	ctx := context.Background()
	st := openAt(t, filepath.Join(t.TempDir(), "lib.db"), SchemaVersion)
	defer st.Close()

	stores, err := st.ObjectStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"arrangements", "conflicts", "dead_letters", "setlists",
		"songs", "sync_base", "sync_queue",
	}, stores)

	runner, err := NewRunner(nil)
	require.NoError(t, err)
	drift, err := runner.Verify(ctx, st)
	require.NoError(t, err)
	assert.True(t, drift.OK(), drift.String())
}

func TestMigrations_RerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lib.db")
	st := openAt(t, path, SchemaVersion)
	before, err := st.Indexes(ctx, "songs")
	require.NoError(t, err)

	_, err = st.DB().ExecContext(ctx, "PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	runner, err := NewRunner(nil)
	require.NoError(t, err)
	st, err = store.Open(ctx, path, store.Options{Version: SchemaVersion, Upgrade: runner.Upgrade})
	require.NoError(t, err)
	defer st.Close()

	rep := runner.LastReport()
	assert.True(t, rep.OK(), "%+v", rep)
	assert.Equal(t, []int{1, 2, 3, 4}, rep.Applied)

	after, err := st.Indexes(ctx, "songs")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMigrations_BackfillsLastAccessed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lib.db")
	updated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	st := openAt(t, path, 3)
	err := st.Update(ctx, func(tx *store.Tx) error {
		if err := store.PutJSON(tx, "songs", "old", ir.Record{
			ID: "old", Collection: ir.CollectionSongs, Version: 1, UpdatedAt: updated,
		}); err != nil {
			return err
		}
		return store.PutJSON(tx, "songs", "touched", ir.Record{
			ID: "touched", Collection: ir.CollectionSongs, Version: 1, UpdatedAt: updated, LastAccessedAt: 42,
		})
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st = openAt(t, path, SchemaVersion)
	defer st.Close()

	err = st.View(ctx, func(tx *store.Tx) error {
		old, err := store.GetJSON[ir.Record](tx, "songs", "old")
		require.NoError(t, err)
		assert.Equal(t, updated.UnixMilli(), old.LastAccessedAt)

		touched, err := store.GetJSON[ir.Record](tx, "songs", "touched")
		require.NoError(t, err)
		assert.Equal(t, int64(42), touched.LastAccessedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestDescriptors(t *testing.T) {
	var got []ir.Collection
	for _, d := range Descriptors() {
		got = append(got, d.Collection)
	}
	assert.Equal(t, ir.Collections, got)

	arr, err := Lookup(ir.CollectionArrangements)
	require.NoError(t, err)
	require.NotNil(t, arr.Parent)
	assert.Equal(t, ir.CollectionSongs, arr.Parent.Target)

	_, err = Lookup("albums")
	assert.Error(t, err)

	rules := ConflictRules()
	assert.Equal(t, conflict.KeyedList, rules[ir.CollectionArrangements]["sections"])
	assert.Equal(t, conflict.Union, rules[ir.CollectionSetlists]["arrangement_ids"])
}

func TestModels_RoundTrip(t *testing.T) {
	arr := Arrangement{
		SongID:   "song-1",
		Name:     "Acoustic",
		Tags:     []string{"slow"},
		Sections: []Section{{ID: "v1", Order: 1, Label: "Verse", Content: "G C"}},
		Rating:   4.5,
	}
	rec, err := NewRecord("arr-1", arr)
	require.NoError(t, err)
	assert.Equal(t, ir.CollectionArrangements, rec.Collection)
	assert.Equal(t, ir.IRString("song-1"), rec.Fields["song_id"])
	assert.Equal(t, ir.IRFloat(4.5), rec.Fields["rating"])
	assert.NotContains(t, rec.Fields, "chord_chart")

	back, err := Decode[Arrangement](rec.Fields)
	require.NoError(t, err)
	assert.Equal(t, arr, back)
}

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	song, err := NewRecord("s1", Song{Title: "Amazing Grace", PlayCount: 3})
	require.NoError(t, err)
	assert.NoError(t, v.Validate(song))

	tests := []struct {
		name string
		rec  ir.Record
	}{
		{"song without title", ir.Record{Collection: ir.CollectionSongs, Fields: ir.Obj(ir.O("artist", ir.IRString("x")))}},
		{"negative plays", ir.Record{Collection: ir.CollectionSongs, Fields: ir.Obj(
			ir.O("title", ir.IRString("x")), ir.O("play_count", ir.IRInt(-1)))}},
		{"arrangement without song", ir.Record{Collection: ir.CollectionArrangements, Fields: ir.Obj(ir.O("name", ir.IRString("x")))}},
		{"section without id", ir.Record{Collection: ir.CollectionArrangements, Fields: ir.Obj(
			ir.O("song_id", ir.IRString("s")),
			ir.O("name", ir.IRString("x")),
			ir.O("sections", ir.IRArray{ir.Obj(ir.O("order", ir.IRInt(1)))}))}},
		{"setlist bad date", ir.Record{Collection: ir.CollectionSetlists, Fields: ir.Obj(
			ir.O("name", ir.IRString("x")), ir.O("date", ir.IRString("March 3")))}},
		{"nil fields", ir.Record{Collection: ir.CollectionSetlists}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.rec)
			require.Error(t, err)
			assert.True(t, IsInvalidFields(err))
		})
	}

	assert.Error(t, v.Validate(ir.Record{Collection: "albums"}))
}
