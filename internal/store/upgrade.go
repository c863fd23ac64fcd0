package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// IndexSpec declares an index over a JSON key path of an object store's
// documents, e.g. {Name: "by_song", KeyPath: "fields.song_id"}.
type IndexSpec struct {
	Name    string
	KeyPath string
	Unique  bool
}

// UpgradeTx is the transaction handed to an UpgradeFunc. Besides the data
// operations of Tx it can create and inspect object stores and indexes.
type UpgradeTx struct {
	Tx
}

// CreateObjectStore creates an empty object store. Creating one that
// already exists is an error; guard with HasObjectStore.
func (u *UpgradeTx) CreateObjectStore(name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	_, err = u.tx.ExecContext(u.ctx, `CREATE TABLE `+table+` (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID`)
	if err != nil {
		return fmt.Errorf("create object store %q: %w", name, err)
	}
	return nil
}

// DeleteObjectStore drops an object store and its indexes.
func (u *UpgradeTx) DeleteObjectStore(name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if _, err := u.tx.ExecContext(u.ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("delete object store %q: %w", name, err)
	}
	if _, err := u.tx.ExecContext(u.ctx, "DELETE FROM setkeep_indexes WHERE store = ?", name); err != nil {
		return fmt.Errorf("delete object store %q: %w", name, err)
	}
	return nil
}

// CreateIndex adds an index to an existing object store and registers it
// in the catalogue. An index SQLite already has is kept and its catalogue
// entry rewritten, so a guard that saw a half-registered index can still
// complete it.
func (u *UpgradeTx) CreateIndex(storeName string, spec IndexSpec) error {
	table, err := tableName(storeName)
	if err != nil {
		return err
	}
	if !namePattern.MatchString(spec.Name) {
		return fmt.Errorf("invalid index name %q", spec.Name)
	}
	if !keyPathPattern.MatchString(spec.KeyPath) {
		return fmt.Errorf("invalid key path %q", spec.KeyPath)
	}

	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (json_extract(value, '$.%s'))`,
		unique, indexName(storeName, spec.Name), table, spec.KeyPath)
	if _, err := u.tx.ExecContext(u.ctx, stmt); err != nil {
		return fmt.Errorf("create index %s.%s: %w", storeName, spec.Name, classify(storeName, err))
	}
	_, err = u.tx.ExecContext(u.ctx,
		`INSERT INTO setkeep_indexes (store, name, key_path, is_unique) VALUES (?, ?, ?, ?)
		 ON CONFLICT (store, name) DO UPDATE SET key_path = excluded.key_path, is_unique = excluded.is_unique`,
		storeName, spec.Name, spec.KeyPath, spec.Unique)
	if err != nil {
		return fmt.Errorf("register index %s.%s: %w", storeName, spec.Name, err)
	}
	return nil
}

// HasObjectStore reports whether the object store exists.
func (u *UpgradeTx) HasObjectStore(name string) (bool, error) {
	return hasObjectStore(u.ctx, u.tx, name)
}

// HasIndex reports whether the index exists on the object store.
func (u *UpgradeTx) HasIndex(storeName, index string) (bool, error) {
	return hasIndex(u.ctx, u.tx, storeName, index)
}

func indexName(storeName, index string) string {
	return `"idx_` + storeName + `__` + index + `"`
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func hasObjectStore(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		"os_"+name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has object store %q: %w", name, err)
	}
	return n > 0, nil
}

func hasIndex(ctx context.Context, q querier, storeName, index string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?",
		"idx_"+storeName+"__"+index).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has index %s.%s: %w", storeName, index, err)
	}
	if n == 0 {
		return false, nil
	}
	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM setkeep_indexes WHERE store = ? AND name = ?",
		storeName, index).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has index %s.%s: %w", storeName, index, err)
	}
	return n > 0, nil
}

// HasObjectStore reports whether the object store exists.
func (s *Store) HasObjectStore(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		ok, err = hasObjectStore(ctx, tx.tx, name)
		return err
	})
	return ok, err
}

// HasIndex reports whether the index exists on the object store.
func (s *Store) HasIndex(ctx context.Context, storeName, index string) (bool, error) {
	var ok bool
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		ok, err = hasIndex(ctx, tx.tx, storeName, index)
		return err
	})
	return ok, err
}

// ObjectStores lists the object stores, sorted by name.
func (s *Store) ObjectStores(ctx context.Context) ([]string, error) {
	var names []string
	err := s.View(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'os\\_%' ESCAPE '\\'")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n[len("os_"):])
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list object stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Indexes lists the registered indexes of an object store, sorted by name.
// Catalogue entries whose SQLite index is missing are skipped.
func (s *Store) Indexes(ctx context.Context, storeName string) ([]IndexSpec, error) {
	var specs []IndexSpec
	err := s.View(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx,
			"SELECT name, key_path, is_unique FROM setkeep_indexes WHERE store = ? ORDER BY name",
			storeName)
		if err != nil {
			return err
		}
		var all []IndexSpec
		for rows.Next() {
			var spec IndexSpec
			if err := rows.Scan(&spec.Name, &spec.KeyPath, &spec.Unique); err != nil {
				rows.Close()
				return err
			}
			all = append(all, spec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, spec := range all {
			ok, err := hasIndex(ctx, tx.tx, storeName, spec.Name)
			if err != nil {
				return err
			}
			if ok {
				specs = append(specs, spec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list indexes of %q: %w", storeName, err)
	}
	return specs, nil
}
