package conflict

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/ir"
)

var testRules = map[ir.Collection]Rules{
	ir.CollectionSongs: {
		"title": LongerText, "lyrics": LongerText,
		"tags": Union, "play_count": Max, "rating": Average,
	},
	ir.CollectionArrangements: {
		"chord_chart": LongerText, "notes": LongerText,
		"tags": Union, "sections": KeyedList,
		"play_count": Max, "rating": Average,
	},
	ir.CollectionSetlists: {
		"name": LongerText, "notes": LongerText,
		"tags": Union, "arrangement_ids": Union,
	},
}

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
)

func record(c ir.Collection, id string, version int64, updated time.Time, by string, fields ir.IRObject) ir.Record {
	return ir.Record{
		ID:         id,
		Collection: c,
		Fields:     fields,
		Version:    version,
		CreatedAt:  t0,
		UpdatedAt:  updated,
		SyncStatus: ir.SyncPending,
		ModifiedBy: by,
	}
}

func section(id string, order int64, label, content string) ir.IRObject {
	return ir.Obj(
		ir.O("id", ir.IRString(id)),
		ir.O("order", ir.IRInt(order)),
		ir.O("label", ir.IRString(label)),
		ir.O("content", ir.IRString(content)),
	)
}

func arrangementTriple() (local, remote, base ir.Record) {
	base = record(ir.CollectionArrangements, "arr-1", 2, t0, "alice", ir.Obj(
		ir.O("song_id", ir.IRString("song-1")),
		ir.O("name", ir.IRString("Acoustic")),
		ir.O("key", ir.IRString("G")),
		ir.O("chord_chart", ir.IRString("G C D")),
		ir.O("notes", ir.IRString("")),
		ir.O("tags", ir.Strings("acoustic")),
		ir.O("sections", ir.IRArray{section("v1", 1, "Verse", "G C"), section("c1", 2, "Chorus", "D C G")}),
		ir.O("rating", ir.IRInt(4)),
		ir.O("play_count", ir.IRInt(10)),
	))

	local = base.Clone()
	local.Version = 3
	local.UpdatedAt = t1
	local.LastAccessedAt = t1.UnixMilli()
	local.Fields["key"] = ir.IRString("A")
	local.Fields["chord_chart"] = ir.IRString("G C D Em")
	local.Fields["tags"] = ir.Strings("acoustic", "slow")
	local.Fields["sections"] = ir.IRArray{
		section("v1", 1, "Verse", "G C Em"),
		section("c1", 2, "Chorus", "D C G"),
		section("b1", 3, "Bridge", "Em D"),
	}
	local.Fields["play_count"] = ir.IRInt(12)

	remote = base.Clone()
	remote.Version = 4
	remote.UpdatedAt = t2
	remote.ModifiedBy = "bob"
	remote.Fields["notes"] = ir.IRString("Capo 2")
	remote.Fields["chord_chart"] = ir.IRString("G C D Em7 Am")
	remote.Fields["tags"] = ir.Strings("acoustic", "live")
	remote.Fields["sections"] = ir.IRArray{
		section("v1", 1, "Verse", "G C"),
		section("c1", 5, "Chorus", "D C G"),
	}
	remote.Fields["rating"] = ir.IRInt(5)
	remote.Fields["play_count"] = ir.IRInt(15)
	return local, remote, base
}

func TestLastWriteWins_RemoteNewer(t *testing.T) {
	r := NewResolver(testRules)
	local := record(ir.CollectionArrangements, "d", 2, t1, "alice", ir.Obj(ir.O("name", ir.IRString("Local"))))
	remote := record(ir.CollectionArrangements, "d", 3, t2, "bob", ir.Obj(ir.O("name", ir.IRString("Remote"))))

	out, err := r.Resolve(LastWriteWins, local, remote, nil)
	require.NoError(t, err)

	assert.Equal(t, WinnerRemote, out.Winner)
	assert.Equal(t, remote.Fields, out.Record.Fields)
	assert.Equal(t, "bob", out.Record.ModifiedBy)
	assert.Equal(t, ir.SyncSynced, out.Record.SyncStatus)
	assert.Equal(t, int64(4), out.Record.Version)
	assert.Equal(t, t2, out.Record.UpdatedAt)
}

func TestLastWriteWins_TieBreaksOnWriter(t *testing.T) {
	r := NewResolver(testRules)
	local := record(ir.CollectionSongs, "s", 1, t1, "zed", ir.Obj(ir.O("title", ir.IRString("Local"))))
	remote := record(ir.CollectionSongs, "s", 1, t1, "amy", ir.Obj(ir.O("title", ir.IRString("Remote"))))

	out, err := r.Resolve(LastWriteWins, local, remote, nil)
	require.NoError(t, err)
	assert.Equal(t, WinnerLocal, out.Winner)

	// Swapping sides must not change which content wins.
	swapped, err := r.Resolve(LastWriteWins, remote, local, nil)
	require.NoError(t, err)
	assert.Equal(t, WinnerRemote, swapped.Winner)
	assert.Equal(t, out.Record.Fields, swapped.Record.Fields)
}

func TestLastWriteWins_TieBreaksOnContent(t *testing.T) {
	r := NewResolver(testRules)
	a := record(ir.CollectionSongs, "s", 1, t1, "amy", ir.Obj(ir.O("title", ir.IRString("A"))))
	b := record(ir.CollectionSongs, "s", 1, t1, "amy", ir.Obj(ir.O("title", ir.IRString("B"))))

	ab, err := r.Resolve(LastWriteWins, a, b, nil)
	require.NoError(t, err)
	ba, err := r.Resolve(LastWriteWins, b, a, nil)
	require.NoError(t, err)
	assert.Equal(t, ab.Record.Fields, ba.Record.Fields)
}

func TestFieldSpecific_Setlist(t *testing.T) {
	r := NewResolver(testRules)
	local := record(ir.CollectionSetlists, "e", 2, t2, "alice", ir.Obj(
		ir.O("name", ir.IRString("Sunday AM")),
		ir.O("date", ir.IRString("2024-03-03")),
		ir.O("arrangement_ids", ir.Strings("x", "y")),
		ir.O("tags", ir.Strings("worship")),
	))
	remote := record(ir.CollectionSetlists, "e", 2, t1, "bob", ir.Obj(
		ir.O("name", ir.IRString("Sunday Morning")),
		ir.O("date", ir.IRString("2024-03-10")),
		ir.O("arrangement_ids", ir.Strings("y", "z")),
		ir.O("tags", ir.Strings("worship", "easter")),
	))

	out, err := r.Resolve(FieldSpecific, local, remote, nil)
	require.NoError(t, err)

	assert.Equal(t, WinnerMerged, out.Winner)
	assert.Equal(t, ir.IRString("Sunday Morning"), out.Record.Fields["name"])
	assert.Equal(t, ir.IRString("2024-03-03"), out.Record.Fields["date"], "unruled fields prefer local")
	assert.Equal(t, ir.Strings("x", "y", "z"), out.Record.Fields["arrangement_ids"])
	assert.Equal(t, ir.Strings("worship", "easter"), out.Record.Fields["tags"])
	assert.Equal(t, int64(3), out.Record.Version)
	assert.Equal(t, ir.SyncSynced, out.Record.SyncStatus)
}

func TestFieldSpecific_NumericRules(t *testing.T) {
	r := NewResolver(testRules)
	local := record(ir.CollectionSongs, "s", 5, t1, "alice", ir.Obj(
		ir.O("play_count", ir.IRInt(7)),
		ir.O("rating", ir.IRInt(3)),
	))
	remote := record(ir.CollectionSongs, "s", 9, t2, "bob", ir.Obj(
		ir.O("play_count", ir.IRInt(4)),
		ir.O("rating", ir.IRInt(4)),
	))

	out, err := r.Resolve(FieldSpecific, local, remote, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(7), out.Record.Fields["play_count"])
	assert.Equal(t, ir.IRFloat(3.5), out.Record.Fields["rating"])
	assert.Equal(t, int64(10), out.Record.Version)
}

func TestFieldSpecific_DefaultRuleOverride(t *testing.T) {
	r := NewResolver(testRules, WithDefaultRule(LongerText))
	local := record(ir.CollectionSetlists, "e", 1, t1, "a", ir.Obj(ir.O("date", ir.IRString("2024-3-3"))))
	remote := record(ir.CollectionSetlists, "e", 1, t1, "b", ir.Obj(ir.O("date", ir.IRString("2024-03-03"))))

	out, err := r.Resolve(FieldSpecific, local, remote, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("2024-03-03"), out.Record.Fields["date"])
}

func TestLongerText_CountsNormalizedRunes(t *testing.T) {
	// Decomposed "Cafe" plus a combining acute is five runes, four after NFC.
	decomposed := ir.IRString("Cafe\u0301")
	longer := ir.IRString("Cafes")
	assert.Equal(t, longer, longerText(decomposed, longer))
	assert.Equal(t, decomposed, longerText(decomposed, ir.IRString("Caf\u00e9")), "ties keep local")
}

func TestKeyedList_FallsBackWithoutKeys(t *testing.T) {
	local := ir.IRArray{ir.Obj(ir.O("label", ir.IRString("Verse")))}
	remote := ir.IRArray{section("v1", 1, "Verse", "x")}
	assert.Equal(t, local, keyedList(local, remote))
}

func TestThreeWayMerge_Golden(t *testing.T) {
	r := NewResolver(testRules)
	local, remote, base := arrangementTriple()

	out, err := r.Resolve(ThreeWayMerge, local, remote, &base)
	require.NoError(t, err)
	assert.Equal(t, WinnerMerged, out.Winner)
	assert.False(t, out.FellBack)

	data, err := ir.MarshalCanonical(out.Record.Canonical())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "arrangement_three_way", data)
}

func TestThreeWayMerge_OneSidedDeletion(t *testing.T) {
	r := NewResolver(testRules)
	base := record(ir.CollectionSongs, "s", 1, t0, "a", ir.Obj(
		ir.O("title", ir.IRString("Hymn")),
		ir.O("notes", ir.IRString("old")),
	))
	local := base.Clone()
	delete(local.Fields, "notes")
	remote := base.Clone()
	remote.Fields["title"] = ir.IRString("Hymn (Live)")

	out, err := r.Resolve(ThreeWayMerge, local, remote, &base)
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("title", ir.IRString("Hymn (Live)"))), out.Record.Fields)
}

func TestThreeWayMerge_WithoutBaseFallsBack(t *testing.T) {
	r := NewResolver(testRules)
	local, remote, _ := arrangementTriple()

	out, err := r.Resolve(ThreeWayMerge, local, remote, nil)
	require.NoError(t, err)
	assert.True(t, out.FellBack)
	assert.Equal(t, ThreeWayMerge, out.Strategy)
	// Without an ancestor, notes is a two-sided change resolved by length.
	assert.Equal(t, ir.IRString("Capo 2"), out.Record.Fields["notes"])
	// And key falls to the default rule.
	assert.Equal(t, ir.IRString("A"), out.Record.Fields["key"])
}

func TestUserChoice_ParksPairAndFallsBack(t *testing.T) {
	r := NewResolver(testRules)
	local := record(ir.CollectionSongs, "s", 1, t1, "a", ir.Obj(ir.O("title", ir.IRString("Mine"))))
	remote := record(ir.CollectionSongs, "s", 2, t2, "b", ir.Obj(ir.O("title", ir.IRString("Theirs"))))

	out, err := r.Resolve(UserChoice, local, remote, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "songs/s", out.Pending.Key())
	assert.Equal(t, remote.Fields, out.Record.Fields)

	picked, err := Choose(*out.Pending, WinnerLocal)
	require.NoError(t, err)
	assert.Equal(t, local.Fields, picked.Fields)
	assert.Equal(t, int64(3), picked.Version)
	assert.Equal(t, ir.SyncSynced, picked.SyncStatus)

	_, err = Choose(*out.Pending, WinnerMerged)
	assert.Error(t, err)
}

func TestResolve_RejectsMismatchedRecords(t *testing.T) {
	r := NewResolver(testRules)
	a := record(ir.CollectionSongs, "a", 1, t1, "x", ir.IRObject{})
	b := record(ir.CollectionSongs, "b", 1, t1, "x", ir.IRObject{})
	_, err := r.Resolve(LastWriteWins, a, b, nil)
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = r.Resolve(Strategy(99), a, a, nil)
	assert.Error(t, err)
}

func TestResolve_IsDeterministic(t *testing.T) {
	r := NewResolver(testRules)
	local, remote, base := arrangementTriple()

	for _, s := range []Strategy{LastWriteWins, ThreeWayMerge, FieldSpecific, UserChoice} {
		t.Run(s.String(), func(t *testing.T) {
			first, err := r.Resolve(s, local, remote, &base)
			require.NoError(t, err)
			want, err := ir.MarshalCanonical(first.Record.Canonical())
			require.NoError(t, err)

			for range 50 {
				again, err := r.Resolve(s, local, remote, &base)
				require.NoError(t, err)
				got, err := ir.MarshalCanonical(again.Record.Canonical())
				require.NoError(t, err)
				require.Equal(t, string(want), string(got))
			}
		})
	}
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	r := NewResolver(testRules)
	local, remote, base := arrangementTriple()
	before := local.Clone()

	out, err := r.Resolve(ThreeWayMerge, local, remote, &base)
	require.NoError(t, err)
	out.Record.Fields["sections"].(ir.IRArray)[0].(ir.IRObject)["content"] = ir.IRString("changed")

	assert.Equal(t, before, local)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{LastWriteWins, ThreeWayMerge, FieldSpecific, UserChoice} {
		got, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("coin-flip")
	assert.Error(t, err)
}

func TestRecommendedStrategy(t *testing.T) {
	assert.Equal(t, FieldSpecific, RecommendedStrategy(ir.CollectionSetlists))
	assert.Equal(t, LastWriteWins, RecommendedStrategy(ir.CollectionSongs))
	assert.Equal(t, ThreeWayMerge, RecommendedStrategy(ir.CollectionArrangements))
}
