// Package quota estimates storage usage against capacity, classifies it
// and gates writes.
package quota

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by estimators that cannot measure the host.
// The monitor then fails open and admits every write.
var ErrUnsupported = errors.New("storage estimate unsupported")

// Estimate is a usage/capacity pair in bytes.
type Estimate struct {
	Usage    int64
	Capacity int64
}

// Estimator reports usage and capacity and negotiates persistent storage.
type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
	// Persist asks the host to keep the data across storage pressure and
	// reports whether it will.
	Persist(ctx context.Context) (bool, error)
}

// UsageFunc reports bytes currently used.
type UsageFunc func(ctx context.Context) (int64, error)

// BudgetEstimator measures usage against a fixed byte budget.
type BudgetEstimator struct {
	Usage  UsageFunc
	Budget int64
}

// Estimate implements Estimator.
func (b BudgetEstimator) Estimate(ctx context.Context) (Estimate, error) {
	if b.Budget <= 0 || b.Usage == nil {
		return Estimate{}, ErrUnsupported
	}
	used, err := b.Usage(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("measure usage: %w", err)
	}
	return Estimate{Usage: used, Capacity: b.Budget}, nil
}

// Persist implements Estimator. A budgeted local store is always durable.
func (BudgetEstimator) Persist(context.Context) (bool, error) {
	return true, nil
}

// DiskEstimator measures usage against what the filesystem holding Path
// can still provide: capacity is usage plus the bytes available to an
// unprivileged user.
type DiskEstimator struct {
	Path  string
	Usage UsageFunc
}

// Estimate implements Estimator.
func (d DiskEstimator) Estimate(ctx context.Context) (Estimate, error) {
	if d.Usage == nil {
		return Estimate{}, ErrUnsupported
	}
	free, err := availableBytes(d.Path)
	if err != nil {
		return Estimate{}, err
	}
	used, err := d.Usage(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("measure usage: %w", err)
	}
	return Estimate{Usage: used, Capacity: used + free}, nil
}

// Persist implements Estimator.
func (d DiskEstimator) Persist(context.Context) (bool, error) {
	if _, err := availableBytes(d.Path); err != nil {
		return false, err
	}
	return true, nil
}

// StaticEstimator reports fixed figures. It suits tests and hosts where
// capacity is known out of band.
type StaticEstimator struct {
	Current   Estimate
	Err       error
	Persisted bool
}

// Estimate implements Estimator.
func (s *StaticEstimator) Estimate(context.Context) (Estimate, error) {
	if s.Err != nil {
		return Estimate{}, s.Err
	}
	return s.Current, nil
}

// Persist implements Estimator.
func (s *StaticEstimator) Persist(context.Context) (bool, error) {
	if errors.Is(s.Err, ErrUnsupported) {
		return false, ErrUnsupported
	}
	return s.Persisted, nil
}
