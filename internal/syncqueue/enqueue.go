package syncqueue

import (
	"context"
	"fmt"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
)

// EnqueueTx adds an item inside tx so that it commits together with the
// write it describes. Each call creates a new item; nothing in flight is
// ever mutated. snapshot is nil for deletes.
func (q *Queue) EnqueueTx(tx *store.Tx, c ir.Collection, op ir.Operation, entityID string, version int64, snapshot *ir.Record) (ir.QueueItem, error) {
	ts := q.stamper.Next()
	item := ir.QueueItem{
		ID:            ir.QueueItemID(c, op, entityID, ts),
		Type:          c,
		Operation:     op,
		EntityID:      entityID,
		EntityVersion: version,
		Timestamp:     ts,
		MaxRetries:    q.cfg.MaxRetries,
		Status:        ir.QueuePending,
	}
	if snapshot != nil {
		snap := snapshot.Clone()
		item.Data = &snap
	}
	if err := store.PutJSON(tx, library.StoreSyncQueue, item.ID, item); err != nil {
		return ir.QueueItem{}, fmt.Errorf("enqueue %s: %w", item.NaturalKey(), err)
	}
	q.logger.Debug("enqueued sync item",
		"id", item.ID,
		"type", c,
		"operation", op,
		"entity", entityID,
		"version", version)
	return item, nil
}

// Enqueue adds an item in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, c ir.Collection, op ir.Operation, entityID string, version int64, snapshot *ir.Record) (ir.QueueItem, error) {
	var item ir.QueueItem
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		item, err = q.EnqueueTx(tx, c, op, entityID, version, snapshot)
		return err
	})
	return item, err
}
