package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/setkeep/internal/events"
)

func TestFakeClock_DefaultStart(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), c.Now())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	c := NewFakeClock(time.Time{})
	start := c.Now()

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(100*time.Millisecond), c.Now())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(events.Event{Kind: events.StorageWarning})
	r.Emit(events.Event{Kind: events.SyncConflict, EntityID: "a1"})
	r.Emit(events.Event{Kind: events.StorageWarning})

	assert.Equal(t, []events.Kind{events.StorageWarning, events.SyncConflict, events.StorageWarning}, r.Kinds())
	assert.Len(t, r.OfKind(events.StorageWarning), 2)
	assert.Equal(t, "a1", r.OfKind(events.SyncConflict)[0].EntityID)

	r.Reset()
	assert.Empty(t, r.Events())
}
