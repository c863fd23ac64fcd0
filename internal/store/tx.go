package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	keyPathPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)*$`)
)

// Tx is a transaction over the object stores. It is only valid inside the
// View or Update callback that received it.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
}

// View runs fn in a read transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, nil, fn)
}

// Update runs fn in a read-write transaction. Every write made by fn
// commits together or not at all.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(tx *Tx) error) error {
	tx, err := s.begin(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, ctx: ctx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// begin starts a transaction, reconnecting once if the connection died
// underneath the handle.
func (s *Store) begin(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, opts)
	if err == nil {
		return tx, nil
	}
	if !connLost(err) {
		return nil, fmt.Errorf("begin: %w", err)
	}

	s.logger.Warn("store connection lost, reconnecting", "path", s.path, "error", err)
	s.dropIfCurrent(db)
	db, err = s.handle(ctx)
	if err != nil {
		return nil, err
	}
	tx, err = db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin after reconnect: %w", err)
	}
	return tx, nil
}

func tableName(storeName string) (string, error) {
	if !namePattern.MatchString(storeName) {
		return "", fmt.Errorf("invalid object store name %q", storeName)
	}
	return `"os_` + storeName + `"`, nil
}

// Get returns the document stored under key, or ErrNotFound.
func (t *Tx) Get(storeName, key string) ([]byte, error) {
	table, err := tableName(storeName)
	if err != nil {
		return nil, err
	}
	var value string
	err = t.tx.QueryRowContext(t.ctx, "SELECT value FROM "+table+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", storeName, key, classify(storeName, err))
	}
	return []byte(value), nil
}

// GetAll returns every document in key order.
func (t *Tx) GetAll(storeName string) ([][]byte, error) {
	table, err := tableName(storeName)
	if err != nil {
		return nil, err
	}
	return t.queryValues(storeName, "SELECT value FROM "+table+" ORDER BY key ASC")
}

// Keys returns every key in order.
func (t *Tx) Keys(storeName string) ([]string, error) {
	table, err := tableName(storeName)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(t.ctx, "SELECT key FROM "+table+" ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", storeName, classify(storeName, err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Put inserts or replaces the document under key.
func (t *Tx) Put(storeName, key string, value []byte) error {
	table, err := tableName(storeName)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO `+table+` (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", storeName, key, classify(storeName, err))
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (t *Tx) Delete(storeName, key string) (bool, error) {
	table, err := tableName(storeName)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(t.ctx, "DELETE FROM "+table+" WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", storeName, key, classify(storeName, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of documents in the object store.
func (t *Tx) Count(storeName string) (int, error) {
	table, err := tableName(storeName)
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", storeName, classify(storeName, err))
	}
	return n, nil
}

// IndexQuery selects documents through an index. Exactly one of Equals,
// Prefix or the Lower/Upper bounds is normally set; the zero value
// matches every document that has the indexed field.
type IndexQuery struct {
	Equals    any
	Prefix    string
	Lower     any
	Upper     any
	LowerOpen bool
	UpperOpen bool
	Limit     int
	Reverse   bool
}

// Only matches documents whose indexed value equals v.
func Only(v any) IndexQuery { return IndexQuery{Equals: v} }

// HasPrefix matches string values starting with prefix.
func HasPrefix(prefix string) IndexQuery { return IndexQuery{Prefix: prefix} }

// Between matches lower <= value <= upper. Either bound may be nil.
func Between(lower, upper any) IndexQuery { return IndexQuery{Lower: lower, Upper: upper} }

// Below matches value < upper.
func Below(upper any) IndexQuery { return IndexQuery{Upper: upper, UpperOpen: true} }

// Query returns documents matching q through the named index, ordered by
// the indexed value then key.
func (t *Tx) Query(storeName, index string, q IndexQuery) ([][]byte, error) {
	table, err := tableName(storeName)
	if err != nil {
		return nil, err
	}
	keyPath, err := t.indexKeyPath(storeName, index)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("json_extract(value, '$.%s')", keyPath)

	var (
		where []string
		args  []any
	)
	where = append(where, expr+" IS NOT NULL")
	switch {
	case q.Equals != nil:
		where = append(where, expr+" = ?")
		args = append(args, q.Equals)
	case q.Prefix != "":
		where = append(where, expr+" >= ?", expr+" < ?")
		args = append(args, q.Prefix, q.Prefix+string(utf8.MaxRune))
	default:
		if q.Lower != nil {
			op := " >= ?"
			if q.LowerOpen {
				op = " > ?"
			}
			where = append(where, expr+op)
			args = append(args, q.Lower)
		}
		if q.Upper != nil {
			op := " <= ?"
			if q.UpperOpen {
				op = " < ?"
			}
			where = append(where, expr+op)
			args = append(args, q.Upper)
		}
	}

	order := " ORDER BY " + expr + " ASC, key ASC"
	if q.Reverse {
		order = " ORDER BY " + expr + " DESC, key DESC"
	}
	query := "SELECT value FROM " + table + " WHERE " + strings.Join(where, " AND ") + order
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return t.queryValues(storeName, query, args...)
}

func (t *Tx) indexKeyPath(storeName, index string) (string, error) {
	var keyPath string
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT key_path FROM setkeep_indexes WHERE store = ? AND name = ?",
		storeName, index).Scan(&keyPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &UnavailableError{Store: storeName, Index: index}
	}
	if err != nil {
		return "", fmt.Errorf("lookup index %s.%s: %w", storeName, index, err)
	}
	return keyPath, nil
}

func (t *Tx) queryValues(storeName, query string, args ...any) ([][]byte, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", storeName, classify(storeName, err))
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", storeName, err)
		}
		out = append(out, []byte(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", storeName, err)
	}
	return out, nil
}
