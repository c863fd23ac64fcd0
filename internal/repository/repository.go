// Package repository is the only write path for library records. Every
// save stamps version, timestamps and sync status, passes the storage
// quota gate and enqueues the matching remote operation.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/setkeep/internal/clock"
	"github.com/roach88/setkeep/internal/ids"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/syncqueue"
)

// Gate admits writes against the storage quota.
type Gate interface {
	CheckWrite(ctx context.Context, size int64) quota.Admission
	Observe(ctx context.Context) (quota.Snapshot, error)
}

// Reclaimer frees space when a write is refused.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// ReclaimFunc adapts a function to Reclaimer.
type ReclaimFunc func(ctx context.Context) error

// Reclaim calls f.
func (f ReclaimFunc) Reclaim(ctx context.Context) error { return f(ctx) }

// Validator checks a record's fields.
type Validator interface {
	Validate(rec ir.Record) error
}

// Repository is the versioned CRUD facade over the record collections.
type Repository struct {
	st        *store.Store
	queue     *syncqueue.Queue
	gate      Gate
	validator Validator
	clock     clock.Clock
	ids       ids.Generator
	writer    string
	logger    *slog.Logger

	mu        sync.Mutex
	reclaimer Reclaimer
}

// Option configures a Repository.
type Option func(*Repository)

// WithGate sets the quota gate. Without one every write is admitted.
func WithGate(g Gate) Option {
	return func(r *Repository) { r.gate = g }
}

// WithReclaimer sets the emergency cleanup run when the gate refuses.
func WithReclaimer(c Reclaimer) Option {
	return func(r *Repository) { r.reclaimer = c }
}

// WithValidator sets the payload validator.
func WithValidator(v Validator) Option {
	return func(r *Repository) { r.validator = v }
}

// WithClock sets the clock used for stamping.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithIDs sets the id generator for new records.
func WithIDs(g ids.Generator) Option {
	return func(r *Repository) { r.ids = g }
}

// WithWriter sets the identity recorded in modified_by.
func WithWriter(name string) Option {
	return func(r *Repository) { r.writer = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// New creates a repository over st that enqueues through q.
func New(st *store.Store, q *syncqueue.Queue, opts ...Option) *Repository {
	r := &Repository{
		st:     st,
		queue:  q,
		clock:  clock.System{},
		ids:    ids.UUIDv7{},
		writer: "local",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetReclaimer installs the emergency cleanup after construction.
func (r *Repository) SetReclaimer(c Reclaimer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimer = c
}

// Get returns a record and refreshes its access time. It returns
// store.ErrNotFound when the record, or its whole collection, is absent.
func (r *Repository) Get(ctx context.Context, c ir.Collection, id string) (ir.Record, error) {
	if err := knownCollection(c); err != nil {
		return ir.Record{}, err
	}
	var rec ir.Record
	err := r.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		rec, err = store.GetJSON[ir.Record](tx, string(c), id)
		if err != nil {
			return err
		}
		rec.LastAccessedAt = r.clock.Now().UnixMilli()
		return store.PutJSON(tx, string(c), id, rec)
	})
	if store.IsUnavailable(err) {
		return ir.Record{}, store.ErrNotFound
	}
	if err != nil {
		return ir.Record{}, err
	}
	return rec, nil
}

// GetAll returns every record of c in id order. A collection that does
// not exist yet reads as empty.
func (r *Repository) GetAll(ctx context.Context, c ir.Collection) ([]ir.Record, error) {
	if err := knownCollection(c); err != nil {
		return nil, err
	}
	var recs []ir.Record
	err := r.st.View(ctx, func(tx *store.Tx) error {
		var err error
		recs, err = store.GetAllJSON[ir.Record](tx, string(c))
		return err
	})
	if store.IsUnavailable(err) {
		r.logger.Debug("collection not available yet", "collection", c)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", c, err)
	}
	return recs, nil
}

// Count returns the number of records in c.
func (r *Repository) Count(ctx context.Context, c ir.Collection) (int, error) {
	var n int
	err := r.st.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.Count(string(c))
		return err
	})
	if store.IsUnavailable(err) {
		return 0, nil
	}
	return n, err
}

// SearchByIndex returns records of c matching q through index. A missing
// collection or index reads as no matches.
func (r *Repository) SearchByIndex(ctx context.Context, c ir.Collection, index string, q store.IndexQuery) ([]ir.Record, error) {
	if err := knownCollection(c); err != nil {
		return nil, err
	}
	var recs []ir.Record
	err := r.st.View(ctx, func(tx *store.Tx) error {
		var err error
		recs, err = store.QueryJSON[ir.Record](tx, string(c), index, q)
		return err
	})
	if store.IsUnavailable(err) {
		r.logger.Debug("index not available yet", "collection", c, "index", index)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s by %s: %w", c, index, err)
	}
	return recs, nil
}

// Save stamps and writes rec, then enqueues its sync. The fields given are
// authoritative; the envelope is always re-stamped: a new id when absent,
// created_at kept from the stored record, version one past the stored one,
// updated_at and last_accessed_at now, sync status pending.
func (r *Repository) Save(ctx context.Context, rec ir.Record) (ir.Record, error) {
	if err := knownCollection(rec.Collection); err != nil {
		return ir.Record{}, err
	}
	if rec.ID == "" {
		rec.ID = r.ids.Generate()
	}
	if err := r.validate(rec); err != nil {
		return ir.Record{}, err
	}

	now := r.clock.Now()
	sizes, err := r.stampedSizes(ctx, []ir.Record{rec}, now)
	if err != nil {
		return ir.Record{}, err
	}
	if err := r.admit(ctx, sizes[0]); err != nil {
		return ir.Record{}, err
	}

	var saved ir.Record
	err = r.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		saved, err = r.write(tx, rec, now)
		return err
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("save %s/%s: %w", rec.Collection, rec.ID, err)
	}

	r.logger.Debug("record saved",
		"collection", saved.Collection,
		"id", saved.ID,
		"version", saved.Version)
	r.observe(ctx)
	return saved, nil
}

// BulkSave writes every record in one transaction after a single quota
// check over their combined size. Nothing is written unless every record
// is valid and the whole batch is admitted; failures come back as one
// *BulkError.
func (r *Repository) BulkSave(ctx context.Context, recs []ir.Record) ([]ir.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	now := r.clock.Now()
	var (
		invalid []error
		total   int64
	)
	prepared := make([]ir.Record, len(recs))
	for i, rec := range recs {
		if err := knownCollection(rec.Collection); err != nil {
			invalid = append(invalid, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if rec.ID == "" {
			rec.ID = r.ids.Generate()
		}
		if err := r.validate(rec); err != nil {
			invalid = append(invalid, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		prepared[i] = rec
	}
	if len(invalid) > 0 {
		return nil, &BulkError{Total: len(recs), Failed: len(invalid), Err: errors.Join(invalid...)}
	}

	sizes, err := r.stampedSizes(ctx, prepared, now)
	if err != nil {
		return nil, &BulkError{Total: len(recs), Failed: len(recs), Err: err}
	}
	for _, n := range sizes {
		total += n
	}

	if err := r.admit(ctx, total); err != nil {
		return nil, &BulkError{Total: len(recs), Failed: len(recs), Err: err}
	}

	saved := make([]ir.Record, 0, len(prepared))
	err = r.st.Update(ctx, func(tx *store.Tx) error {
		for _, rec := range prepared {
			out, err := r.write(tx, rec, now)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", rec.Collection, rec.ID, err)
			}
			saved = append(saved, out)
		}
		return nil
	})
	if err != nil {
		return nil, &BulkError{Total: len(recs), Failed: len(recs), Err: err}
	}

	r.logger.Info("bulk save finished", "records", len(saved), "bytes", total)
	r.observe(ctx)
	return saved, nil
}

// Delete removes a record and enqueues a remote delete when it existed.
func (r *Repository) Delete(ctx context.Context, c ir.Collection, id string) (bool, error) {
	if err := knownCollection(c); err != nil {
		return false, err
	}
	var existed bool
	err := r.st.Update(ctx, func(tx *store.Tx) error {
		prev, err := store.GetJSON[ir.Record](tx, string(c), id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Delete(string(c), id); err != nil {
			return err
		}
		existed = true
		_, err = r.queue.EnqueueTx(tx, c, ir.OpDelete, id, prev.Version, nil)
		return err
	})
	if store.IsUnavailable(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return existed, nil
}

// Rewrite stores a shrunk copy of an existing record through the versioned
// path without quota admission. Cleanup uses it to drop dangling references
// while storage is already past the critical threshold.
func (r *Repository) Rewrite(ctx context.Context, rec ir.Record) (ir.Record, error) {
	if err := knownCollection(rec.Collection); err != nil {
		return ir.Record{}, err
	}
	if err := r.validate(rec); err != nil {
		return ir.Record{}, err
	}
	var saved ir.Record
	err := r.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		saved, err = r.write(tx, rec, r.clock.Now())
		return err
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("rewrite %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return saved, nil
}

// ApplyResolved writes a conflict outcome. The stored version never goes
// backwards. When the remote copy won, the outcome is stored synced and
// becomes the merge base. Otherwise the remote has never seen it: the
// outcome is stored pending, enqueued as an update at its resolved version
// in the same transaction, and remote stays the merge base.
func (r *Repository) ApplyResolved(ctx context.Context, rec ir.Record, remote ir.Record, push bool) (ir.Record, error) {
	if err := knownCollection(rec.Collection); err != nil {
		return ir.Record{}, err
	}
	err := r.st.Update(ctx, func(tx *store.Tx) error {
		prev, err := store.GetJSON[ir.Record](tx, string(rec.Collection), rec.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case prev.Version >= rec.Version:
			rec.Version = prev.Version + 1
		}
		base := rec
		if push {
			rec.SyncStatus = ir.SyncPending
			base = remote.Clone()
			base.SyncStatus = ir.SyncSynced
		}
		if err := store.PutJSON(tx, string(rec.Collection), rec.ID, rec); err != nil {
			return err
		}
		if push {
			if _, err := r.queue.EnqueueTx(tx, rec.Collection, ir.OpUpdate, rec.ID, rec.Version, &rec); err != nil {
				return err
			}
		}
		err = store.PutJSON(tx, library.StoreSyncBase, syncqueue.BaseKey(rec.Collection, rec.ID), base)
		if store.IsUnavailable(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("apply resolved %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return rec, nil
}

// MarkSynced marks a record synced if it is still at version. A newer
// local write keeps it pending; the report is false then.
func (r *Repository) MarkSynced(ctx context.Context, c ir.Collection, id string, version int64) (bool, error) {
	var marked bool
	err := r.st.Update(ctx, func(tx *store.Tx) error {
		rec, err := store.GetJSON[ir.Record](tx, string(c), id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Version != version {
			return nil
		}
		rec.SyncStatus = ir.SyncSynced
		marked = true
		return store.PutJSON(tx, string(c), id, rec)
	})
	return marked, err
}

// MarkStatus sets a record's sync status without touching its version.
func (r *Repository) MarkStatus(ctx context.Context, c ir.Collection, id string, status ir.SyncStatus) error {
	return r.st.Update(ctx, func(tx *store.Tx) error {
		rec, err := store.GetJSON[ir.Record](tx, string(c), id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.SyncStatus == status {
			return nil
		}
		rec.SyncStatus = status
		return store.PutJSON(tx, string(c), id, rec)
	})
}

// write stamps rec against the stored version inside tx, stores it and
// enqueues its sync.
func (r *Repository) write(tx *store.Tx, rec ir.Record, now time.Time) (ir.Record, error) {
	var prev *ir.Record
	stored, err := store.GetJSON[ir.Record](tx, string(rec.Collection), rec.ID)
	switch {
	case err == nil:
		prev = &stored
	case !errors.Is(err, store.ErrNotFound):
		return ir.Record{}, err
	}

	out := r.stamp(rec, prev, now)
	if err := store.PutJSON(tx, string(out.Collection), out.ID, out); err != nil {
		return ir.Record{}, err
	}

	op := ir.OpCreate
	if prev != nil {
		op = ir.OpUpdate
	}
	if _, err := r.queue.EnqueueTx(tx, out.Collection, op, out.ID, out.Version, &out); err != nil {
		return ir.Record{}, err
	}
	return out, nil
}

func (r *Repository) stamp(rec ir.Record, prev *ir.Record, now time.Time) ir.Record {
	out := rec.Clone()
	if out.Fields == nil {
		out.Fields = ir.IRObject{}
	}
	out.Version = 1
	out.CreatedAt = now
	if prev != nil {
		out.Version = prev.Version + 1
		out.CreatedAt = prev.CreatedAt
	}
	out.UpdatedAt = now
	out.LastAccessedAt = now.UnixMilli()
	out.SyncStatus = ir.SyncPending
	out.ModifiedBy = r.writer
	return out
}

// stampedSizes reports the stored size of each record once stamped against
// its current stored version.
func (r *Repository) stampedSizes(ctx context.Context, recs []ir.Record, now time.Time) ([]int64, error) {
	sizes := make([]int64, len(recs))
	err := r.st.View(ctx, func(tx *store.Tx) error {
		for i, rec := range recs {
			var prev *ir.Record
			stored, err := store.GetJSON[ir.Record](tx, string(rec.Collection), rec.ID)
			switch {
			case err == nil:
				prev = &stored
			case errors.Is(err, store.ErrNotFound), store.IsUnavailable(err):
			default:
				return err
			}
			sizes[i] = estimateSize(r.stamp(rec, prev, now))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("estimate size: %w", err)
	}
	return sizes, nil
}

// admit runs the quota gate, reclaiming space once when refused.
func (r *Repository) admit(ctx context.Context, size int64) error {
	if r.gate == nil {
		return nil
	}
	adm := r.gate.CheckWrite(ctx, size)
	if adm.Allowed {
		if adm.Warn {
			r.logger.Warn("write lands above storage warning threshold",
				"projected", adm.Projected,
				"bytes", size)
		}
		return nil
	}

	r.mu.Lock()
	reclaimer := r.reclaimer
	r.mu.Unlock()
	if reclaimer != nil {
		r.logger.Warn("write refused by quota, running emergency cleanup",
			"projected", adm.Projected,
			"bytes", size)
		if err := reclaimer.Reclaim(ctx); err != nil {
			r.logger.Warn("emergency cleanup failed", "error", err)
		}
		adm = r.gate.CheckWrite(ctx, size)
		if adm.Allowed {
			return nil
		}
	}
	return adm.Exceeded()
}

func (r *Repository) observe(ctx context.Context) {
	if r.gate == nil {
		return
	}
	if _, err := r.gate.Observe(ctx); err != nil {
		r.logger.Warn("storage observe failed", "error", err)
	}
}

func (r *Repository) validate(rec ir.Record) error {
	if r.validator == nil {
		return nil
	}
	return r.validator.Validate(rec)
}

// estimateSize is the serialized size of rec as stored.
func estimateSize(rec ir.Record) int64 {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// EstimateSize reports the bytes rec occupies once stamped and stored.
func EstimateSize(rec ir.Record) int64 {
	return estimateSize(rec)
}

func knownCollection(c ir.Collection) error {
	_, err := library.Lookup(c)
	return err
}
