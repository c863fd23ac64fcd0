package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/setkeep/internal/events"
)

//go:embed catalog.sql
var catalogSQL string

const (
	defaultUpgradeWait = 5 * time.Second
	lockRetryDelay     = 20 * time.Millisecond
)

// UpgradeFunc migrates the schema from oldVersion to newVersion inside the
// upgrade transaction. Returning an error rolls the whole upgrade back.
type UpgradeFunc func(tx *UpgradeTx, oldVersion, newVersion int) error

// Options configures Open.
type Options struct {
	// Version is the schema version the caller needs. Zero opens the
	// database at whatever version it has.
	Version int

	// Upgrade runs when the recorded version is below Version.
	Upgrade UpgradeFunc

	// Sink receives db-blocked and db-blocking events.
	Sink events.Sink

	// UpgradeWait bounds how long Open waits for other connections to
	// release the database. Defaults to 5s.
	UpgradeWait time.Duration

	// WatchUpgrades makes the handle release its connection when another
	// opener requests an upgrade.
	WatchUpgrades bool

	Logger *slog.Logger
}

// Store is an open handle on a setkeep database.
type Store struct {
	path   string
	opts   Options
	sink   events.Sink
	logger *slog.Logger
	lock   *flock.Flock

	mu      sync.Mutex
	db      *sql.DB
	version int
	closed  bool
	watcher *fsnotify.Watcher
}

// Open creates or opens the database at path, upgrading it to
// opts.Version when needed.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.UpgradeWait <= 0 {
		opts.UpgradeWait = defaultUpgradeWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		path:   path,
		opts:   opts,
		sink:   events.OrDiscard(opts.Sink),
		logger: opts.Logger,
		lock:   flock.New(path + ".lock"),
	}

	s.mu.Lock()
	err := s.connect(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if opts.WatchUpgrades {
		if err := s.watch(); err != nil {
			s.Close()
			return nil, fmt.Errorf("watch upgrades: %w", err)
		}
	}
	return s, nil
}

// connect opens a fresh connection and takes the shared lock.
// Caller holds s.mu.
func (s *Store) connect(ctx context.Context) error {
	s.waitForUpgradeMarker(ctx)

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, catalogSQL); err != nil {
		db.Close()
		return fmt.Errorf("failed to create catalogue: %w", err)
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		db.Close()
		return err
	}

	if s.opts.Version > version {
		if err := s.upgrade(ctx, db, version); err != nil {
			db.Close()
			return err
		}
		version = s.opts.Version
	}

	if err := s.acquireShared(ctx); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.version = version
	return nil
}

func (s *Store) acquireShared(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, s.opts.UpgradeWait)
	defer cancel()
	ok, err := s.lock.TryRLockContext(wctx, lockRetryDelay)
	if ok {
		return nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire shared lock: %w", err)
	}
	s.emitBlocked(s.version, s.opts.Version)
	return ErrUpgradeBlocked
}

// upgrade runs the Upgrade callback under the exclusive lock.
func (s *Store) upgrade(ctx context.Context, db *sql.DB, oldVersion int) error {
	marker := s.markerPath()
	if err := os.WriteFile(marker, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write upgrade marker: %w", err)
	}
	defer os.Remove(marker)

	wctx, cancel := context.WithTimeout(ctx, s.opts.UpgradeWait)
	defer cancel()
	ok, err := s.lock.TryLockContext(wctx, lockRetryDelay)
	if !ok {
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("acquire exclusive lock: %w", err)
		}
		s.emitBlocked(oldVersion, s.opts.Version)
		return ErrUpgradeBlocked
	}
	defer s.lock.Unlock()

	s.logger.Info("upgrading store",
		"path", s.path,
		"from", oldVersion,
		"to", s.opts.Version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer tx.Rollback()

	if s.opts.Upgrade != nil {
		utx := &UpgradeTx{Tx: Tx{tx: tx, ctx: ctx}}
		if err := s.opts.Upgrade(utx, oldVersion, s.opts.Version); err != nil {
			return fmt.Errorf("upgrade %d -> %d: %w", oldVersion, s.opts.Version, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.opts.Version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	return nil
}

func (s *Store) emitBlocked(oldVersion, newVersion int) {
	s.logger.Warn("store upgrade blocked", "path", s.path, "from", oldVersion, "to", newVersion)
	s.sink.Emit(events.Event{
		Kind:       events.DBBlocked,
		At:         time.Now().UTC(),
		Path:       s.path,
		OldVersion: oldVersion,
		NewVersion: newVersion,
		Message:    "another connection is holding the database open",
	})
}

// Close releases the connection and the shared lock. Safe to call more
// than once and on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
		s.watcher = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	errs = append(errs, s.lock.Unlock())
	return errors.Join(errs...)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Version returns the schema version recorded when the handle connected.
func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// DB returns the current connection. It is nil while the handle is
// released for another opener's upgrade.
// Use with caution - prefer View and Update.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Reconnect drops the current connection and opens a fresh one.
func (s *Store) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return s.connect(ctx)
}

// handle returns a live connection, connecting again if the previous one
// was released.
func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.db == nil {
		s.logger.Info("reconnecting store", "path", s.path)
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}
	return s.db, nil
}

// dropIfCurrent forgets db after it was found dead.
func (s *Store) dropIfCurrent(db *sql.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == db {
		s.db.Close()
		s.db = nil
	}
}

// UsedBytes reports the bytes occupied by live pages. Pages on the free
// list are excluded, so deletes lower the figure without a VACUUM.
func (s *Store) UsedBytes(ctx context.Context) (int64, error) {
	var pages, free, size int64
	err := s.View(ctx, func(tx *Tx) error {
		if err := tx.tx.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
			return err
		}
		if err := tx.tx.QueryRowContext(ctx, "PRAGMA freelist_count").Scan(&free); err != nil {
			return err
		}
		return tx.tx.QueryRowContext(ctx, "PRAGMA page_size").Scan(&size)
	})
	if err != nil {
		return 0, fmt.Errorf("used bytes: %w", err)
	}
	return (pages - free) * size, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db := s.DB()
	if db == nil {
		return ErrClosed
	}
	var value string
	if err := db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
