package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		StorageWarning:   "storage-warning",
		StorageCritical:  "storage-critical",
		SyncConflict:     "sync-conflict",
		DBBlocked:        "db-blocked",
		DBBlocking:       "db-blocking",
		ItemDeadLettered: "item-dead-lettered",
		Kind(0):          "unknown",
	}
	for k, want := range tests {
		assert.Equal(t, want, k.String())
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.Emit(Event{Kind: StorageWarning})
	c.Emit(Event{Kind: StorageCritical})

	require.Len(t, c.C, 1)
	assert.Equal(t, StorageWarning, (<-c.C).Kind)
	assert.Equal(t, 1, c.Dropped())
}

func TestMultiFansOut(t *testing.T) {
	var a, b []Kind
	m := Multi{
		Func(func(e Event) { a = append(a, e.Kind) }),
		nil,
		Func(func(e Event) { b = append(b, e.Kind) }),
	}
	m.Emit(Event{Kind: DBBlocking})

	assert.Equal(t, []Kind{DBBlocking}, a)
	assert.Equal(t, []Kind{DBBlocking}, b)
}

func TestOrDiscard(t *testing.T) {
	assert.NotPanics(t, func() { OrDiscard(nil).Emit(Event{Kind: SyncConflict}) })
}
