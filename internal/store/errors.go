package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a key is absent from an object store.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by operations on a store after Close.
	ErrClosed = errors.New("store: closed")

	// ErrUpgradeBlocked is returned by Open when another connection kept the
	// database locked for longer than Options.UpgradeWait.
	ErrUpgradeBlocked = errors.New("store: upgrade blocked by another connection")
)

// UnavailableError reports an object store or index that does not exist
// yet, typically because a migration has not created it. Callers treat it
// as "not yet" rather than a failure.
type UnavailableError struct {
	Store string
	Index string
}

func (e *UnavailableError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("store: index %q on %q unavailable", e.Index, e.Store)
	}
	return fmt.Sprintf("store: object store %q unavailable", e.Store)
}

// IsUnavailable reports whether err is an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// classify maps SQLite's "no such table" onto UnavailableError.
func classify(storeName string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return &UnavailableError{Store: storeName}
	}
	return err
}

// connLost reports whether err means the underlying connection went away
// and a fresh one may succeed.
func connLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}
