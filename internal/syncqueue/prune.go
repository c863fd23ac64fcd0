package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
)

// Prune deletes items enqueued before cutoff and items whose retry count
// reached the ceiling, whatever their status. An item being sent by the
// running pass is left alone. At most limit items go per call; limit <= 0
// removes every match.
func (q *Queue) Prune(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	threshold := cutoff.UnixNano()
	draining := q.Draining()

	var removed int
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		items, err := store.GetAllJSON[ir.QueueItem](tx, library.StoreSyncQueue)
		if err != nil {
			return err
		}
		for _, item := range items {
			if limit > 0 && removed >= limit {
				break
			}
			if draining && item.Status == ir.QueueProcessing {
				continue
			}
			if item.Timestamp >= threshold && item.RetryCount < q.cfg.RetryCeiling {
				continue
			}
			if _, err := tx.Delete(library.StoreSyncQueue, item.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if store.IsUnavailable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("prune queue: %w", err)
	}
	if removed > 0 {
		q.logger.Info("pruned sync queue", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
