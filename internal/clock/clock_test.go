package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type frozen struct{ t time.Time }

func (f frozen) Now() time.Time { return f.t }

func TestStamperStrictlyIncreasingOnFrozenClock(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStamper(frozen{at})

	first := s.Next()
	second := s.Next()
	third := s.Next()

	assert.Equal(t, at.UnixNano(), first)
	assert.Equal(t, first+1, second)
	assert.Equal(t, second+1, third)
	assert.Equal(t, third, s.Current())
}

func TestStamperConcurrentUnique(t *testing.T) {
	s := NewStamper(frozen{time.Unix(0, 100)})

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
