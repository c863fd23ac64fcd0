package cleanup

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
)

type dangling struct {
	rec     ir.Record
	field   string
	keep    []string
	missing []string
}

type orphanScan struct {
	orphans  []candidate
	pinned   int
	dangling []dangling
}

func (s snapshot) ids() map[ir.Collection]map[string]bool {
	out := make(map[ir.Collection]map[string]bool, len(s))
	for c, recs := range s {
		set := make(map[string]bool, len(recs))
		for _, r := range recs {
			set[r.ID] = true
		}
		out[c] = set
	}
	return out
}

// scanOrphans finds records whose parent is gone and records listing
// children that are gone. Orphans about to be deleted count as gone when
// checking child lists.
func scanOrphans(snap snapshot) orphanScan {
	present := snap.ids()
	var scan orphanScan

	for _, d := range library.Descriptors() {
		if d.Parent == nil {
			continue
		}
		if _, ok := snap[d.Parent.Target]; !ok {
			continue
		}
		for _, rec := range snap[d.Collection] {
			parent := rec.Fields.StringField(d.Parent.Field)
			if parent == "" || present[d.Parent.Target][parent] {
				continue
			}
			if rec.Exempt() {
				scan.pinned++
				continue
			}
			scan.orphans = append(scan.orphans, candidate{collection: d.Collection, id: rec.ID, touched: rec.LastTouched()})
			delete(present[d.Collection], rec.ID)
		}
	}

	for _, d := range library.Descriptors() {
		if d.Children == nil {
			continue
		}
		if _, ok := snap[d.Children.Target]; !ok {
			continue
		}
		for _, rec := range snap[d.Collection] {
			refs := rec.Fields.StringListField(d.Children.Field)
			if len(refs) == 0 {
				continue
			}
			var keep, missing []string
			for _, id := range refs {
				if present[d.Children.Target][id] {
					keep = append(keep, id)
				} else {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				scan.dangling = append(scan.dangling, dangling{rec: rec, field: d.Children.Field, keep: keep, missing: missing})
			}
		}
	}
	return scan
}

// RepairOrphans deletes records whose parent no longer exists and rewrites
// id lists to drop entries whose target no longer exists. The rest of each
// list keeps its order. Exempt orphans are left for the remote to settle;
// lists on exempt records are still rewritten since the record itself stays.
// A failed rewrite does not stop the others.
func (m *Manager) RepairOrphans(ctx context.Context) (Result, error) {
	snap, err := m.load(ctx)
	if err != nil {
		return Result{}, err
	}
	scan := scanOrphans(snap)

	var res Result
	for batch := range slices.Chunk(scan.orphans, m.cfg.BatchSize) {
		var deleted int
		err := m.st.Update(ctx, func(tx *store.Tx) error {
			deleted = 0
			for _, c := range batch {
				ok, err := deleteRecord(tx, c.collection, c.id, true)
				if err != nil {
					return err
				}
				if ok {
					deleted++
				}
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("delete orphans: %w", err)
		}
		res.Orphans += deleted
	}
	if scan.pinned > 0 {
		m.logger.Warn("orphaned records kept because they are favorite, pinned or pending",
			"count", scan.pinned)
	}

	saver := m.currentSaver()
	if len(scan.dangling) > 0 && saver == nil {
		m.logger.Warn("dangling references found but no writer configured",
			"records", len(scan.dangling))
		return res, nil
	}
	var errs []error
	for _, dl := range scan.dangling {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		rec := dl.rec.Clone()
		rec.Fields[dl.field] = ir.Strings(dl.keep...)
		if _, err := saver.Rewrite(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("repair %s/%s: %w", rec.Collection, rec.ID, err))
			continue
		}
		m.logger.Info("dropped dangling references",
			"collection", rec.Collection,
			"id", rec.ID,
			"field", dl.field,
			"missing", dl.missing)
		res.Repaired++
	}
	return res, errors.Join(errs...)
}
