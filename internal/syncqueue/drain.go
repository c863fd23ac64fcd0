package syncqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
)

// PassResult summarizes one drain pass.
type PassResult struct {
	// Skipped is set when another pass was already running.
	Skipped      bool `json:"skipped"`
	Processed    int  `json:"processed"`
	Succeeded    int  `json:"succeeded"`
	Conflicts    int  `json:"conflicts"`
	Retried      int  `json:"retried"`
	DeadLettered int  `json:"dead_lettered"`
	Remaining    int  `json:"remaining"`
}

// Drain runs one pass over the pending items, oldest first. Only one pass
// runs at a time; a concurrent call returns a Skipped result.
func (q *Queue) Drain(ctx context.Context) (PassResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return PassResult{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	if err := q.recoverProcessing(ctx); err != nil {
		return PassResult{}, err
	}

	items, err := q.Pending(ctx)
	if err != nil {
		return PassResult{}, err
	}
	if q.cfg.BatchSize > 0 && len(items) > q.cfg.BatchSize {
		items = items[:q.cfg.BatchSize]
	}

	var res PassResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := q.process(ctx, item, &res); err != nil {
			return res, err
		}
		res.Processed++
	}

	remaining, err := q.countStatus(ctx, ir.QueuePending)
	if err != nil {
		return res, err
	}
	res.Remaining = remaining

	q.logger.Info("sync pass finished",
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"conflicts", res.Conflicts,
		"retried", res.Retried,
		"dead_lettered", res.DeadLettered,
		"remaining", res.Remaining)
	return res, nil
}

// process sends one item and records the outcome. Only store failures are
// returned; transport failures are absorbed into the item.
func (q *Queue) process(ctx context.Context, item ir.QueueItem, res *PassResult) error {
	transport, conflicts, _ := q.collaborators()

	item.Status = ir.QueueProcessing
	if err := q.put(ctx, item); err != nil {
		return err
	}

	sendErr := q.send(ctx, transport, item)
	if sendErr == nil {
		res.Succeeded++
		return q.complete(ctx, item)
	}

	if errors.Is(sendErr, context.Canceled) && ctx.Err() != nil {
		// Torn down mid-send: the attempt does not count.
		item.Status = ir.QueuePending
		return q.put(context.WithoutCancel(ctx), item)
	}

	if ce, ok := AsConflict(sendErr); ok && conflicts != nil {
		err := conflicts.HandleConflict(ctx, item, ce.Remote)
		if err == nil {
			res.Conflicts++
			return q.remove(ctx, item)
		}
		sendErr = fmt.Errorf("resolve conflict: %w", err)
	}
	return q.fail(ctx, item, sendErr, res)
}

func (q *Queue) send(ctx context.Context, t Transport, item ir.QueueItem) (err error) {
	if t == nil {
		return &TransientError{Err: errors.New("no transport configured")}
	}
	tctx := ctx
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	err = t.Send(tctx, item)
	if err == nil {
		return nil
	}
	if _, ok := AsConflict(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return &TransientError{Err: fmt.Errorf("timed out after %s: %w", q.cfg.Timeout, err)}
	}
	if !IsTransient(err) {
		err = &TransientError{Err: err}
	}
	return err
}

// complete removes an acknowledged item, records the acknowledged
// snapshot as the merge base and marks the entity synced if no newer local
// write happened meanwhile.
func (q *Queue) complete(ctx context.Context, item ir.QueueItem) error {
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.Delete(library.StoreSyncQueue, item.ID); err != nil {
			return err
		}
		if item.Operation == ir.OpDelete {
			_, err := tx.Delete(library.StoreSyncBase, BaseKey(item.Type, item.EntityID))
			return ignoreUnavailable(err)
		}
		if item.Data == nil {
			return nil
		}
		base := item.Data.Clone()
		base.SyncStatus = ir.SyncSynced
		return ignoreUnavailable(store.PutJSON(tx, library.StoreSyncBase, BaseKey(item.Type, item.EntityID), base))
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", item.ID, err)
	}

	_, _, marker := q.collaborators()
	if marker == nil || item.Operation == ir.OpDelete {
		return nil
	}
	ok, err := marker.MarkSynced(ctx, item.Type, item.EntityID, item.EntityVersion)
	if err != nil {
		q.logger.Warn("mark synced failed", "entity", item.EntityID, "error", err)
		return nil
	}
	if !ok {
		q.logger.Debug("entity changed while syncing, left pending",
			"entity", item.EntityID,
			"synced_version", item.EntityVersion)
	}
	return nil
}

func (q *Queue) fail(ctx context.Context, item ir.QueueItem, cause error, res *PassResult) error {
	item.RetryCount++
	item.LastError = cause.Error()

	if item.RetryCount < item.MaxRetries {
		item.Status = ir.QueuePending
		res.Retried++
		q.logger.Debug("sync attempt failed, will retry",
			"id", item.ID,
			"retry_count", item.RetryCount,
			"error", cause)
		return q.put(ctx, item)
	}

	item.Status = ir.QueueFailed
	now := q.clock.Now()
	dl := ir.DeadLetter{
		ID:         ir.DeadLetterID(item.ID, now),
		OriginalID: item.ID,
		FailedAt:   now,
		Item:       item,
	}
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		if err := store.PutJSON(tx, library.StoreSyncQueue, item.ID, item); err != nil {
			return err
		}
		return store.PutJSON(tx, library.StoreDeadLetters, dl.ID, dl)
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", item.ID, err)
	}
	res.DeadLettered++

	q.logger.Warn("sync item dead-lettered",
		"id", item.ID,
		"type", item.Type,
		"entity", item.EntityID,
		"retries", item.RetryCount,
		"error", cause)
	q.sink.Emit(events.Event{
		Kind:       events.ItemDeadLettered,
		At:         now,
		Collection: item.Type,
		EntityID:   item.EntityID,
		QueueItem:  item.ID,
		Message:    item.LastError,
	})

	_, _, marker := q.collaborators()
	if marker != nil && item.Operation != ir.OpDelete {
		if err := marker.MarkStatus(ctx, item.Type, item.EntityID, ir.SyncDead); err != nil {
			q.logger.Warn("mark dead failed", "entity", item.EntityID, "error", err)
		}
	}
	return nil
}

// Process runs a pass and, while items remain and the host is online,
// schedules further passes with exponential backoff.
func (q *Queue) Process(ctx context.Context) (PassResult, error) {
	res, err := q.Drain(ctx)
	if err != nil || res.Skipped {
		return res, err
	}
	q.scheduleAfter(res)
	return res, nil
}

func (q *Queue) scheduleAfter(res PassResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if res.Remaining == 0 {
		q.pass = 0
		return
	}
	if q.closed || q.timer != nil || !q.online() {
		return
	}
	delay := q.Backoff(q.pass)
	q.pass++
	q.logger.Debug("scheduling sync pass", "delay", delay, "pass", q.pass)
	q.startLocked(delay)
}

// startLocked arms the pass timer. Caller holds q.mu.
func (q *Queue) startLocked(delay time.Duration) {
	q.wg.Add(1)
	q.timer = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		q.timer = nil
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if _, err := q.Process(q.base); err != nil && q.base.Err() == nil {
			q.logger.Warn("scheduled sync pass failed", "error", err)
		}
	})
}

// Kick schedules an immediate background pass unless one is already
// scheduled. Without a transport there is nothing to drain to.
func (q *Queue) Kick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.transport == nil {
		return
	}
	if q.timer != nil {
		if !q.timer.Stop() {
			return
		}
		q.wg.Done()
	}
	q.pass = 0
	q.startLocked(0)
}

// Backoff returns the delay before pass n (0-based): BaseDelay doubled per
// pass, capped at MaxDelay, then spread by the jitter fraction.
func (q *Queue) Backoff(n int) time.Duration {
	d := float64(q.cfg.BaseDelay) * math.Pow(2, float64(n))
	if limit := float64(q.cfg.MaxDelay); q.cfg.MaxDelay > 0 && d > limit {
		d = limit
	}
	if q.cfg.Jitter > 0 {
		d *= 1 + q.cfg.Jitter*(2*q.random()-1)
	}
	return time.Duration(d)
}

// RetryFailedItems resets failed items whose retry count is below the
// ceiling to pending and starts a background drain. It returns how many
// items were reset.
func (q *Queue) RetryFailedItems(ctx context.Context) (int, error) {
	var reset []ir.QueueItem
	err := q.st.Update(ctx, func(tx *store.Tx) error {
		failed, err := store.QueryJSON[ir.QueueItem](tx, library.StoreSyncQueue, library.IndexQueueStatus, store.Only(string(ir.QueueFailed)))
		if err != nil {
			return err
		}
		for _, item := range failed {
			if item.RetryCount >= q.cfg.RetryCeiling {
				continue
			}
			item.Status = ir.QueuePending
			if err := store.PutJSON(tx, library.StoreSyncQueue, item.ID, item); err != nil {
				return err
			}
			reset = append(reset, item)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}

	_, _, marker := q.collaborators()
	for _, item := range reset {
		if marker == nil || item.Operation == ir.OpDelete {
			continue
		}
		if err := marker.MarkStatus(ctx, item.Type, item.EntityID, ir.SyncPending); err != nil {
			q.logger.Warn("mark pending failed", "entity", item.EntityID, "error", err)
		}
	}

	q.logger.Info("reset failed sync items", "count", len(reset))
	if len(reset) > 0 {
		q.Kick()
	}
	return len(reset), nil
}

// recoverProcessing returns items left in processing by a crashed pass
// to pending.
func (q *Queue) recoverProcessing(ctx context.Context) error {
	return q.st.Update(ctx, func(tx *store.Tx) error {
		stuck, err := store.QueryJSON[ir.QueueItem](tx, library.StoreSyncQueue, library.IndexQueueStatus, store.Only(string(ir.QueueProcessing)))
		if err != nil {
			return err
		}
		for _, item := range stuck {
			item.Status = ir.QueuePending
			if err := store.PutJSON(tx, library.StoreSyncQueue, item.ID, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pending returns the pending items, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]ir.QueueItem, error) {
	items, err := q.byStatus(ctx, ir.QueuePending)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b ir.QueueItem) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

// Failed returns the items that exhausted their retries.
func (q *Queue) Failed(ctx context.Context) ([]ir.QueueItem, error) {
	return q.byStatus(ctx, ir.QueueFailed)
}

func (q *Queue) byStatus(ctx context.Context, status ir.QueueStatus) ([]ir.QueueItem, error) {
	var items []ir.QueueItem
	err := q.st.View(ctx, func(tx *store.Tx) error {
		var err error
		items, err = store.QueryJSON[ir.QueueItem](tx, library.StoreSyncQueue, library.IndexQueueStatus, store.Only(string(status)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", status, err)
	}
	return items, nil
}

func (q *Queue) countStatus(ctx context.Context, status ir.QueueStatus) (int, error) {
	items, err := q.byStatus(ctx, status)
	return len(items), err
}

func (q *Queue) put(ctx context.Context, item ir.QueueItem) error {
	return q.st.Update(ctx, func(tx *store.Tx) error {
		return store.PutJSON(tx, library.StoreSyncQueue, item.ID, item)
	})
}

func (q *Queue) remove(ctx context.Context, item ir.QueueItem) error {
	return q.st.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.Delete(library.StoreSyncQueue, item.ID)
		return err
	})
}

// BaseKey is the sync_base key of an entity.
func BaseKey(c ir.Collection, id string) string {
	return string(c) + "/" + id
}

func ignoreUnavailable(err error) error {
	if store.IsUnavailable(err) {
		return nil
	}
	return err
}
