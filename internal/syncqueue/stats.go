package syncqueue

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
)

// Stats aggregates the queue for operators.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByType        map[string]int `json:"by_type"`
	ByOperation   map[string]int `json:"by_operation"`
	DeadLetters   int            `json:"dead_letters"`
	OldestPending int64          `json:"oldest_pending,omitempty"`
	Draining      bool           `json:"draining"`
}

// Stats returns queue totals by status, type and operation.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		ByStatus:    map[string]int{},
		ByType:      map[string]int{},
		ByOperation: map[string]int{},
		Draining:    q.Draining(),
	}
	err := q.st.View(ctx, func(tx *store.Tx) error {
		items, err := store.GetAllJSON[ir.QueueItem](tx, library.StoreSyncQueue)
		if err != nil {
			return err
		}
		for _, item := range items {
			s.Total++
			s.ByStatus[string(item.Status)]++
			s.ByType[string(item.Type)]++
			s.ByOperation[string(item.Operation)]++
			if item.Status == ir.QueuePending && (s.OldestPending == 0 || item.Timestamp < s.OldestPending) {
				s.OldestPending = item.Timestamp
			}
		}
		s.DeadLetters, err = tx.Count(library.StoreDeadLetters)
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

// DeadLetters returns the dead-letter sink, oldest failure first.
func (q *Queue) DeadLetters(ctx context.Context) ([]ir.DeadLetter, error) {
	var dls []ir.DeadLetter
	err := q.st.View(ctx, func(tx *store.Tx) error {
		var err error
		dls, err = store.GetAllJSON[ir.DeadLetter](tx, library.StoreDeadLetters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	slices.SortFunc(dls, func(a, b ir.DeadLetter) int {
		if c := a.FailedAt.Compare(b.FailedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return dls, nil
}

// DiscardDeadLetter removes a dead letter after manual handling.
func (q *Queue) DiscardDeadLetter(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		existed, err = tx.Delete(library.StoreDeadLetters, id)
		return err
	})
	return existed, err
}
