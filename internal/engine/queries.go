package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/setkeep/internal/cleanup"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/schema"
	"github.com/roach88/setkeep/internal/syncqueue"
)

// QueueStats returns outbox totals by status, type and operation.
func (e *Engine) QueueStats(ctx context.Context) (syncqueue.Stats, error) {
	return e.queue.Stats(ctx)
}

// DeadLetters returns the items that exhausted their retries.
func (e *Engine) DeadLetters(ctx context.Context) ([]ir.DeadLetter, error) {
	return e.queue.DeadLetters(ctx)
}

// Stats gathers the aggregates storage recommendations are derived from.
func (e *Engine) Stats(ctx context.Context) (quota.Stats, error) {
	cs, err := e.cleaner.Stats(ctx)
	if err != nil {
		return quota.Stats{}, err
	}
	qs, err := e.queue.Stats(ctx)
	if err != nil {
		return quota.Stats{}, err
	}
	conflicts, err := e.PendingConflicts(ctx)
	if err != nil {
		return quota.Stats{}, err
	}
	return quota.Stats{
		Records:     cs.Records,
		Evictable:   cs.Evictable,
		Orphans:     cs.Orphans + cs.Dangling,
		Pending:     qs.ByStatus[string(ir.QueuePending)],
		Failed:      qs.ByStatus[string(ir.QueueFailed)],
		DeadLetters: qs.DeadLetters,
		Conflicts:   len(conflicts),
	}, nil
}

// StorageReport returns the usage snapshot, thresholds, persistence state
// and recommendations.
func (e *Engine) StorageReport(ctx context.Context) (quota.Report, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return quota.Report{}, fmt.Errorf("storage report: %w", err)
	}
	return e.monitor.Report(ctx, stats)
}

// CleanupRecommendations returns advisory actions, highest priority first.
// Nothing is deleted.
func (e *Engine) CleanupRecommendations(ctx context.Context) ([]quota.Recommendation, error) {
	rep, err := e.StorageReport(ctx)
	if err != nil {
		return nil, err
	}
	return rep.Recommendations, nil
}

// VerifySchema checks the store's structure against the schema version it
// claims.
func (e *Engine) VerifySchema(ctx context.Context) (schema.Drift, error) {
	return e.runner.Verify(ctx, e.st)
}

// RunCleanup measures storage and runs the cleanup policy for the current
// status. A healthy store is left alone.
func (e *Engine) RunCleanup(ctx context.Context) (cleanup.Result, quota.Snapshot, error) {
	snap, err := e.monitor.Snapshot(ctx)
	if err != nil {
		return cleanup.Result{}, quota.Snapshot{}, err
	}
	res, err := e.cleaner.Run(ctx, snap.Status)
	return res, snap, err
}

// RetryFailed requeues failed items still under the retry ceiling and
// starts a background drain.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	return e.queue.RetryFailedItems(ctx)
}

// Sync runs one drain pass in the foreground.
func (e *Engine) Sync(ctx context.Context) (syncqueue.PassResult, error) {
	return e.queue.Drain(ctx)
}

// StartSync schedules a background drain with backoff between passes.
func (e *Engine) StartSync() {
	e.queue.Kick()
}

// RequestPersistence asks the host to keep the data durable.
func (e *Engine) RequestPersistence(ctx context.Context) (bool, error) {
	return e.monitor.RequestPersistence(ctx)
}

func sortConflicts(ps []ir.PendingConflict) {
	slices.SortFunc(ps, func(a, b ir.PendingConflict) int {
		if c := a.DetectedAt.Compare(b.DetectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
}
