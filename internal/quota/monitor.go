package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/setkeep/internal/clock"
	"github.com/roach88/setkeep/internal/events"
)

// Status classifies usage against the thresholds.
type Status int

const (
	Healthy Status = iota
	Warning
	Critical
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// Thresholds are usage ratios in (0, 1].
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds are 80% warning and 95% critical.
var DefaultThresholds = Thresholds{Warning: 0.80, Critical: 0.95}

// Classify maps a usage ratio onto a Status.
func (t Thresholds) Classify(ratio float64) Status {
	switch {
	case ratio >= t.Critical:
		return Critical
	case ratio >= t.Warning:
		return Warning
	}
	return Healthy
}

// Snapshot is one usage measurement. Percentage is 0-100.
type Snapshot struct {
	Usage      int64
	Capacity   int64
	Percentage float64
	Status     Status
	Supported  bool
}

// Available returns the bytes left before capacity.
func (s Snapshot) Available() int64 {
	return max(0, s.Capacity-s.Usage)
}

// Admission is the verdict of a pre-write check.
type Admission struct {
	Allowed bool
	// Warn is set when the write lands above the warning threshold.
	Warn       bool
	Current    Snapshot
	Projected  float64
	Required   int64
	Available  int64
	Supported  bool
	Thresholds Thresholds
}

// Cleaner runs the automatic cleanup policy for a status.
type Cleaner interface {
	AutoCleanup(ctx context.Context, status Status) error
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(ctx context.Context, status Status) error

// AutoCleanup calls f.
func (f CleanerFunc) AutoCleanup(ctx context.Context, status Status) error {
	return f(ctx, status)
}

// Monitor measures storage and gates writes.
type Monitor struct {
	est        Estimator
	thresholds Thresholds
	sink       events.Sink
	clock      clock.Clock
	logger     *slog.Logger

	mu         sync.Mutex
	cleaner    Cleaner
	lastStatus Status
	persisted  *bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) MonitorOption {
	return func(m *Monitor) { m.thresholds = t }
}

// WithSink sets where storage-warning and storage-critical go.
func WithSink(s events.Sink) MonitorOption {
	return func(m *Monitor) { m.sink = events.OrDiscard(s) }
}

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithCleaner sets the cleaner run by Observe above the warning threshold.
func WithCleaner(c Cleaner) MonitorOption {
	return func(m *Monitor) { m.cleaner = c }
}

// NewMonitor creates a monitor over est.
func NewMonitor(est Estimator, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		est:        est,
		thresholds: DefaultThresholds,
		sink:       events.Discard,
		clock:      clock.System{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCleaner installs the cleaner after construction. The cleanup manager
// depends on the repository, which depends on the monitor.
func (m *Monitor) SetCleaner(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaner = c
}

// Thresholds returns the configured thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Snapshot measures current usage. An unsupported estimator yields a
// healthy snapshot with Supported=false.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	est, err := m.est.Estimate(ctx)
	if errors.Is(err, ErrUnsupported) {
		return Snapshot{Status: Healthy}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("estimate storage: %w", err)
	}
	if est.Capacity <= 0 {
		return Snapshot{Usage: est.Usage, Status: Healthy}, nil
	}
	ratio := float64(est.Usage) / float64(est.Capacity)
	return Snapshot{
		Usage:      est.Usage,
		Capacity:   est.Capacity,
		Percentage: ratio * 100,
		Status:     m.thresholds.Classify(ratio),
		Supported:  true,
	}, nil
}

// CheckWrite reports whether writing size more bytes keeps usage below
// the critical threshold. Estimation failures admit the write.
func (m *Monitor) CheckWrite(ctx context.Context, size int64) Admission {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		m.logger.Warn("storage estimate failed, admitting write", "error", err)
		return Admission{Allowed: true, Required: size, Thresholds: m.thresholds}
	}
	adm := Admission{
		Allowed:    true,
		Current:    snap,
		Required:   size,
		Available:  snap.Available(),
		Supported:  snap.Supported,
		Thresholds: m.thresholds,
	}
	if !snap.Supported {
		return adm
	}

	ratio := float64(snap.Usage+size) / float64(snap.Capacity)
	adm.Projected = ratio * 100
	switch m.thresholds.Classify(ratio) {
	case Critical:
		adm.Allowed = false
	case Warning:
		adm.Warn = true
	}
	return adm
}

// Observe measures usage after a write. Crossing into warning or critical
// emits the matching event once per transition; any non-healthy status runs
// the automatic cleanup.
func (m *Monitor) Observe(ctx context.Context) (Snapshot, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	changed := snap.Status != m.lastStatus
	m.lastStatus = snap.Status
	cleaner := m.cleaner
	m.mu.Unlock()

	if changed && snap.Status != Healthy {
		kind := events.StorageWarning
		if snap.Status == Critical {
			kind = events.StorageCritical
		}
		m.logger.Warn("storage threshold crossed",
			"status", snap.Status,
			"usage", snap.Usage,
			"capacity", snap.Capacity,
			"percentage", snap.Percentage)
		m.sink.Emit(events.Event{
			Kind:       kind,
			At:         m.clock.Now(),
			Usage:      snap.Usage,
			Capacity:   snap.Capacity,
			Percentage: snap.Percentage,
		})
	}

	if snap.Status != Healthy && cleaner != nil {
		if err := cleaner.AutoCleanup(ctx, snap.Status); err != nil {
			m.logger.Warn("automatic cleanup failed", "status", snap.Status, "error", err)
		}
	}
	return snap, nil
}

// RequestPersistence asks the host to keep the data durable. The answer
// is cached; unsupported hosts report false without error.
func (m *Monitor) RequestPersistence(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.persisted != nil {
		ok := *m.persisted
		m.mu.Unlock()
		return ok, nil
	}
	m.mu.Unlock()

	ok, err := m.est.Persist(ctx)
	if errors.Is(err, ErrUnsupported) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("request persistence: %w", err)
	}

	m.mu.Lock()
	m.persisted = &ok
	m.mu.Unlock()
	return ok, nil
}
