package repository

import "fmt"

// BulkError reports a BulkSave that wrote nothing.
type BulkError struct {
	Total  int
	Failed int
	Err    error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk save rejected (%d of %d records): %v", e.Failed, e.Total, e.Err)
}

func (e *BulkError) Unwrap() error {
	return e.Err
}
