package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueItemIDDeterminism(t *testing.T) {
	id1 := QueueItemID(CollectionSongs, OpUpdate, "song-1", 1700000000000000000)
	id2 := QueueItemID(CollectionSongs, OpUpdate, "song-1", 1700000000000000000)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestQueueItemIDChangesWithNaturalKey(t *testing.T) {
	base := QueueItemID(CollectionSongs, OpUpdate, "song-1", 1)

	assert.NotEqual(t, base, QueueItemID(CollectionSetlists, OpUpdate, "song-1", 1))
	assert.NotEqual(t, base, QueueItemID(CollectionSongs, OpCreate, "song-1", 1))
	assert.NotEqual(t, base, QueueItemID(CollectionSongs, OpUpdate, "song-2", 1))
	assert.NotEqual(t, base, QueueItemID(CollectionSongs, OpUpdate, "song-1", 2))
}

func TestNaturalKey(t *testing.T) {
	item := QueueItem{Type: CollectionArrangements, Operation: OpDelete, EntityID: "arr-9", Timestamp: 42}
	assert.Equal(t, "arrangements:delete:arr-9:42", item.NaturalKey())
}

func TestDeadLetterIDDistinctPerFailure(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.NotEqual(t, DeadLetterID("q1", t1), DeadLetterID("q1", t1.Add(time.Second)))
}

func TestRecordHashIgnoresMapOrder(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := func() Record {
		return Record{
			ID:         "s1",
			Collection: CollectionSongs,
			Fields:     Obj(O("title", IRString("x")), O("artist", IRString("y")), O("tags", Strings("a"))),
			Version:    2,
			CreatedAt:  at,
			UpdatedAt:  at,
			SyncStatus: SyncPending,
		}
	}
	h1, err := RecordHash(rec())
	require.NoError(t, err)
	assert.Equal(t, h1, MustRecordHash(rec()))

	changed := rec()
	changed.Version = 3
	assert.NotEqual(t, h1, MustRecordHash(changed))
}

func TestFieldsHashExcludesMetadata(t *testing.T) {
	a, err := FieldsHash(Obj(O("title", IRString("x")), O("version", IRInt(1))))
	require.NoError(t, err)
	b, err := FieldsHash(Obj(O("title", IRString("x"))))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecordLastTouchedFallback(t *testing.T) {
	created := time.UnixMilli(1000).UTC()
	updated := time.UnixMilli(2000).UTC()

	assert.Equal(t, int64(3000), Record{LastAccessedAt: 3000, UpdatedAt: updated}.LastTouched())
	assert.Equal(t, int64(2000), Record{UpdatedAt: updated, CreatedAt: created}.LastTouched())
	assert.Equal(t, int64(1000), Record{CreatedAt: created}.LastTouched())
}

func TestRecordExempt(t *testing.T) {
	assert.True(t, Record{IsFavorite: true, SyncStatus: SyncSynced}.Exempt())
	assert.True(t, Record{IsPinned: true, SyncStatus: SyncSynced}.Exempt())
	assert.True(t, Record{SyncStatus: SyncPending}.Exempt())
	assert.False(t, Record{SyncStatus: SyncSynced}.Exempt())
	assert.False(t, Record{SyncStatus: SyncDead}.Exempt())
}
