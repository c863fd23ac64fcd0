package syncqueue

import (
	"errors"
	"fmt"

	"github.com/roach88/setkeep/internal/ir"
)

// TransientError is a transport failure worth retrying: network trouble,
// a timeout, a 5xx. Every non-conflict transport error is treated as one.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transport error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConflictError is returned by a transport when the remote rejects a write
// because the local version is stale. Remote is the remote's current
// record.
type ConflictError struct {
	Remote ir.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote conflict on %s/%s at version %d",
		e.Remote.Collection, e.Remote.ID, e.Remote.Version)
}

// AsConflict extracts a *ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}
