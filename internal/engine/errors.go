package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/setkeep/internal/ir"
)

// Error is an engine-level failure with a machine-readable code.
type Error struct {
	Code       ErrorCode
	Message    string
	Collection ir.Collection
	EntityID   string
	Details    map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNoPendingConflict means no parked conflict exists for the entity.
	ErrCodeNoPendingConflict ErrorCode = "NO_PENDING_CONFLICT"

	// ErrCodeUnknownStrategy means the configuration names a strategy or
	// collection the engine does not know.
	ErrCodeUnknownStrategy ErrorCode = "UNKNOWN_STRATEGY"

	// ErrCodeSchemaDrift means the store's structure is behind the schema
	// version it claims.
	ErrCodeSchemaDrift ErrorCode = "SCHEMA_DRIFT"
)

func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s/%s)", e.Code, e.Message, e.Collection, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNoPendingConflict reports whether err is a missing-conflict error.
func IsNoPendingConflict(err error) bool {
	return hasCode(err, ErrCodeNoPendingConflict)
}

// IsSchemaDrift reports whether err is a schema drift error.
func IsSchemaDrift(err error) bool {
	return hasCode(err, ErrCodeSchemaDrift)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
