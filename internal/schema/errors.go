package schema

import (
	"errors"
	"fmt"
)

// MissingStepError reports a version inside the upgrade range that has no
// declared step. It is recorded, never returned from an upgrade.
type MissingStepError struct {
	Version int
}

func (e *MissingStepError) Error() string {
	return fmt.Sprintf("migration step for version %d missing", e.Version)
}

// IsMissingStep reports whether err is a *MissingStepError.
func IsMissingStep(err error) bool {
	var me *MissingStepError
	return errors.As(err, &me)
}

// StepError is a failure while migrating one object store.
type StepError struct {
	Version int
	Store   string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration v%d store %q: %v", e.Version, e.Store, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
