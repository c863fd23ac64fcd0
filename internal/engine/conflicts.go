package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/syncqueue"
)

// HandleConflict reconciles a stale write the remote rejected. The local
// record and the last acknowledged base are read fresh and the collection's
// strategy picks the outcome. A remote win is written back as synced; a
// local or merged outcome is written pending and enqueued so the remote
// receives it. User-choice conflicts are also parked for a manual pick.
func (e *Engine) HandleConflict(ctx context.Context, item ir.QueueItem, remote ir.Record) error {
	c := item.Type
	var (
		local   ir.Record
		base    *ir.Record
		haveLoc bool
	)
	err := e.st.View(ctx, func(tx *store.Tx) error {
		rec, err := store.GetJSON[ir.Record](tx, string(c), item.EntityID)
		switch {
		case err == nil:
			local, haveLoc = rec, true
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		b, err := store.GetJSON[ir.Record](tx, library.StoreSyncBase, syncqueue.BaseKey(c, item.EntityID))
		switch {
		case err == nil:
			base = &b
		case errors.Is(err, store.ErrNotFound), store.IsUnavailable(err):
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load conflict %s/%s: %w", c, item.EntityID, err)
	}

	if remote.Collection == "" {
		remote.Collection = c
	}
	if remote.ID == "" {
		remote.ID = item.EntityID
	}

	strategy := e.Strategy(c)
	var out conflict.Outcome
	if !haveLoc {
		// Deleted locally while the write was in flight: adopt the remote.
		rec := remote.Clone()
		rec.SyncStatus = ir.SyncSynced
		out = conflict.Outcome{Record: rec, Strategy: strategy, Winner: conflict.WinnerRemote}
	} else {
		out, err = e.resolver.Resolve(strategy, local, remote, base)
		if err != nil {
			return err
		}
	}

	push := out.Winner != conflict.WinnerRemote
	resolved, err := e.repo.ApplyResolved(ctx, out.Record, remote, push)
	if err != nil {
		return err
	}

	if out.Pending != nil {
		p := *out.Pending
		p.DetectedAt = e.clock.Now()
		err := e.st.Update(ctx, func(tx *store.Tx) error {
			return store.PutJSON(tx, library.StoreConflicts, p.Key(), p)
		})
		if err != nil {
			return fmt.Errorf("park conflict %s: %w", p.Key(), err)
		}
	}

	e.logger.Info("sync conflict resolved",
		"collection", c,
		"entity", item.EntityID,
		"strategy", out.Strategy,
		"winner", out.Winner,
		"fell_back", out.FellBack,
		"pushed", push,
		"version", resolved.Version)

	ev := events.Event{
		Kind:       events.SyncConflict,
		At:         e.clock.Now(),
		Collection: c,
		EntityID:   item.EntityID,
		Remote:     &remote,
		Resolved:   &resolved,
		Strategy:   out.Strategy.String(),
		QueueItem:  item.ID,
	}
	if haveLoc {
		ev.Local = &local
	}
	e.sink.Emit(ev)
	return nil
}

// PendingConflicts lists the conflicts parked for a manual pick, oldest
// first.
func (e *Engine) PendingConflicts(ctx context.Context) ([]ir.PendingConflict, error) {
	var out []ir.PendingConflict
	err := e.st.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = store.GetAllJSON[ir.PendingConflict](tx, library.StoreConflicts)
		return err
	})
	if store.IsUnavailable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	sortConflicts(out)
	return out, nil
}

// ResolvePending settles a parked conflict with the chosen side. The pick
// is saved as a new local version and synced like any other edit.
func (e *Engine) ResolvePending(ctx context.Context, c ir.Collection, id string, w conflict.Winner) (ir.Record, error) {
	key := ir.PendingConflict{Collection: c, EntityID: id}.Key()
	var p ir.PendingConflict
	err := e.st.View(ctx, func(tx *store.Tx) error {
		var err error
		p, err = store.GetJSON[ir.PendingConflict](tx, library.StoreConflicts, key)
		return err
	})
	if errors.Is(err, store.ErrNotFound) || store.IsUnavailable(err) {
		return ir.Record{}, &Error{
			Code:       ErrCodeNoPendingConflict,
			Message:    "nothing to resolve",
			Collection: c,
			EntityID:   id,
		}
	}
	if err != nil {
		return ir.Record{}, err
	}

	chosen, err := conflict.Choose(p, w)
	if err != nil {
		return ir.Record{}, err
	}
	saved, err := e.repo.Save(ctx, chosen)
	if err != nil {
		return ir.Record{}, err
	}

	err = e.st.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.Delete(library.StoreConflicts, key)
		return err
	})
	if err != nil {
		return saved, fmt.Errorf("clear conflict %s: %w", key, err)
	}
	e.logger.Info("pending conflict resolved",
		"collection", c,
		"entity", id,
		"winner", w,
		"version", saved.Version)
	return saved, nil
}
