package quota

import (
	"errors"
	"fmt"
)

// QuotaExceededError rejects a write that would cross the critical
// threshold even after emergency cleanup. Percentages are 0-100.
type QuotaExceededError struct {
	CurrentPct   float64
	ProjectedPct float64
	Required     int64
	Available    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %.1f%% used, %.1f%% projected, need %d bytes, %d available",
		e.CurrentPct, e.ProjectedPct, e.Required, e.Available)
}

// IsQuotaExceeded reports whether err is a *QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// Exceeded builds the error for a rejected admission.
func (a Admission) Exceeded() *QuotaExceededError {
	return &QuotaExceededError{
		CurrentPct:   a.Current.Percentage,
		ProjectedPct: a.Projected,
		Required:     a.Required,
		Available:    a.Available,
	}
}
