package library

import (
	"fmt"
	"log/slog"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/schema"
	"github.com/roach88/setkeep/internal/store"
)

// SchemaVersion is the schema version this build migrates stores to.
const SchemaVersion = 4

func recordStore(c ir.Collection) schema.StoreDef {
	d, err := Lookup(c)
	if err != nil {
		panic(err)
	}
	return schema.StoreDef{Name: string(c), Indexes: d.Indexes}
}

// Steps returns the migration table.
func Steps() []schema.Step {
	return []schema.Step{
		{
			Version: 1,
			Name:    "songs and sync queue",
			Stores: []schema.StoreDef{
				recordStore(ir.CollectionSongs),
				{Name: StoreSyncQueue, Indexes: []store.IndexSpec{
					{Name: IndexQueueStatus, KeyPath: "status"},
					{Name: IndexQueueTimestamp, KeyPath: "timestamp"},
					{Name: IndexQueueEntity, KeyPath: "entity_id"},
					{Name: IndexQueueType, KeyPath: "type"},
				}},
			},
		},
		{
			Version: 2,
			Name:    "arrangements and dead letters",
			Stores: []schema.StoreDef{
				recordStore(ir.CollectionArrangements),
				{Name: StoreDeadLetters, Indexes: []store.IndexSpec{
					{Name: IndexDeadOriginal, KeyPath: "original_id"},
					{Name: IndexDeadFailedAt, KeyPath: "failed_at"},
				}},
			},
		},
		{
			Version: 3,
			Name:    "setlists",
			Stores:  []schema.StoreDef{recordStore(ir.CollectionSetlists)},
		},
		{
			Version: 4,
			Name:    "conflicts, sync base and access backfill",
			Stores: []schema.StoreDef{
				{Name: StoreConflicts, Indexes: []store.IndexSpec{
					{Name: IndexConflictKind, KeyPath: "collection"},
				}},
				{Name: StoreSyncBase},
			},
			Transform: backfillLastAccessed,
		},
	}
}

// NewRunner returns the migration runner for SchemaVersion.
func NewRunner(logger *slog.Logger) (*schema.Runner, error) {
	var opts []schema.Option
	if logger != nil {
		opts = append(opts, schema.WithLogger(logger))
	}
	return schema.NewRunner(SchemaVersion, Steps(), opts...)
}

// backfillLastAccessed gives records written before access tracking a
// recency key so they rank by age instead of all tying at zero. Records
// that already carry one are left alone.
func backfillLastAccessed(tx *store.UpgradeTx) error {
	for _, c := range ir.Collections {
		ok, err := tx.HasObjectStore(string(c))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		recs, err := store.GetAllJSON[ir.Record](&tx.Tx, string(c))
		if err != nil {
			return fmt.Errorf("backfill %s: %w", c, err)
		}
		for _, rec := range recs {
			if rec.LastAccessedAt != 0 {
				continue
			}
			rec.LastAccessedAt = rec.LastTouched()
			if rec.LastAccessedAt == 0 {
				continue
			}
			if err := store.PutJSON(&tx.Tx, string(c), rec.ID, rec); err != nil {
				return fmt.Errorf("backfill %s/%s: %w", c, rec.ID, err)
			}
		}
	}
	return nil
}
