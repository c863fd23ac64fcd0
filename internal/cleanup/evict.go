package cleanup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/syncqueue"
)

type candidate struct {
	collection ir.Collection
	id         string
	touched    int64
}

// snapshot is every record collection as currently stored.
type snapshot map[ir.Collection][]ir.Record

func (m *Manager) load(ctx context.Context) (snapshot, error) {
	snap := snapshot{}
	err := m.st.View(ctx, func(tx *store.Tx) error {
		for _, d := range library.Descriptors() {
			recs, err := store.GetAllJSON[ir.Record](tx, string(d.Collection))
			if store.IsUnavailable(err) {
				continue
			}
			if err != nil {
				return err
			}
			snap[d.Collection] = recs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return snap, nil
}

// protected returns the ids exempt records point at. Evicting them would
// orphan a record cleanup is not allowed to remove.
func (s snapshot) protected() map[ir.Collection]map[string]bool {
	out := map[ir.Collection]map[string]bool{}
	mark := func(c ir.Collection, id string) {
		if id == "" {
			return
		}
		if out[c] == nil {
			out[c] = map[string]bool{}
		}
		out[c][id] = true
	}
	for _, d := range library.Descriptors() {
		for _, rec := range s[d.Collection] {
			if !rec.Exempt() {
				continue
			}
			if d.Parent != nil {
				mark(d.Parent.Target, rec.Fields.StringField(d.Parent.Field))
			}
			if d.Children != nil {
				for _, id := range rec.Fields.StringListField(d.Children.Field) {
					mark(d.Children.Target, id)
				}
			}
		}
	}
	return out
}

// candidates lists the evictable records of every collection, least
// recently touched first. The MinItemsToKeep most recent records of each
// collection are retained whatever their flags. A non-zero cutoff keeps
// records touched at or after it.
func (m *Manager) candidates(snap snapshot, cutoff time.Time) []candidate {
	protected := snap.protected()
	var out []candidate
	for _, d := range library.Descriptors() {
		recs := slices.Clone(snap[d.Collection])
		slices.SortFunc(recs, func(a, b ir.Record) int {
			if c := cmp.Compare(b.LastTouched(), a.LastTouched()); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		if len(recs) <= m.cfg.MinItemsToKeep {
			continue
		}
		for _, rec := range recs[max(m.cfg.MinItemsToKeep, 0):] {
			if rec.Exempt() || protected[d.Collection][rec.ID] {
				continue
			}
			if !cutoff.IsZero() && rec.LastTouched() >= cutoff.UnixMilli() {
				continue
			}
			out = append(out, candidate{collection: d.Collection, id: rec.ID, touched: rec.LastTouched()})
		}
	}
	slices.SortFunc(out, func(a, b candidate) int {
		if c := cmp.Compare(a.touched, b.touched); c != 0 {
			return c
		}
		if c := cmp.Compare(a.collection, b.collection); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// PruneCollections evicts eligible records last touched more than maxAge
// ago.
func (m *Manager) PruneCollections(ctx context.Context, maxAge time.Duration) (Result, error) {
	snap, err := m.load(ctx)
	if err != nil {
		return Result{}, err
	}
	cutoff := m.clock.Now().Add(-maxAge)
	res, err := m.evict(ctx, m.candidates(snap, cutoff))
	if err != nil {
		return res, fmt.Errorf("prune collections: %w", err)
	}
	if n := res.Records(); n > 0 {
		m.logger.Info("pruned stale records", "evicted", n, "max_age", maxAge)
	}
	return res, nil
}

// EvictLRU evicts up to n eligible records, least recently touched first,
// across all collections.
func (m *Manager) EvictLRU(ctx context.Context, n int) (Result, error) {
	if n <= 0 {
		return Result{}, nil
	}
	snap, err := m.load(ctx)
	if err != nil {
		return Result{}, err
	}
	cands := m.candidates(snap, time.Time{})
	if len(cands) > n {
		cands = cands[:n]
	}
	res, err := m.evict(ctx, cands)
	if err != nil {
		return res, fmt.Errorf("evict lru: %w", err)
	}
	if k := res.Records(); k > 0 {
		m.logger.Info("evicted least recently used records", "evicted", k, "requested", n)
	}
	return res, nil
}

// evict deletes cands in BatchSize transactions. Each record is re-read
// before deletion and skipped if it became exempt in the meantime.
func (m *Manager) evict(ctx context.Context, cands []candidate) (Result, error) {
	var res Result
	for batch := range slices.Chunk(cands, m.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var done Result
		err := m.st.Update(ctx, func(tx *store.Tx) error {
			done = Result{}
			for _, c := range batch {
				ok, err := deleteRecord(tx, c.collection, c.id, true)
				if err != nil {
					return err
				}
				if ok {
					done.evicted(c.collection, 1)
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.add(done)
	}
	return res, nil
}

// deleteRecord removes a record and its merge base without enqueueing a
// remote delete. With checkExempt an exempt record is left in place.
func deleteRecord(tx *store.Tx, c ir.Collection, id string, checkExempt bool) (bool, error) {
	if checkExempt {
		rec, err := store.GetJSON[ir.Record](tx, string(c), id)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if rec.Exempt() {
			return false, nil
		}
	}
	ok, err := tx.Delete(string(c), id)
	if err != nil || !ok {
		return false, err
	}
	if _, err := tx.Delete(library.StoreSyncBase, syncqueue.BaseKey(c, id)); err != nil && !store.IsUnavailable(err) {
		return false, err
	}
	return true, nil
}
