// Package cleanup reclaims local storage. It prunes the sync queue, evicts
// cold records by age or recency and repairs references left dangling by
// earlier deletions.
//
// Eviction never touches favorite, pinned or pending-sync records, and
// never takes a collection below MinItemsToKeep.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/setkeep/internal/clock"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/store"
)

// Config bounds each pass.
type Config struct {
	MaxAge              time.Duration
	CriticalMaxAge      time.Duration
	MinItemsToKeep      int
	BatchSize           int
	QueueMaxAge         time.Duration
	EmergencyEvictCount int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxAge:              30 * 24 * time.Hour,
		CriticalMaxAge:      7 * 24 * time.Hour,
		MinItemsToKeep:      10,
		BatchSize:           50,
		QueueMaxAge:         7 * 24 * time.Hour,
		EmergencyEvictCount: 10,
	}
}

// QueuePruner removes stale outbox items.
type QueuePruner interface {
	Prune(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Saver writes a rewritten record back through the versioned path. A
// rewrite only ever shrinks a record, so it is not subject to quota
// admission.
type Saver interface {
	Rewrite(ctx context.Context, rec ir.Record) (ir.Record, error)
}

// Result tallies what a run removed or rewrote.
type Result struct {
	Skipped    bool                  `json:"skipped,omitempty"`
	QueueItems int                   `json:"queue_items"`
	Evicted    map[ir.Collection]int `json:"evicted"`
	Orphans    int                   `json:"orphans"`
	Repaired   int                   `json:"repaired"`
	Duration   time.Duration         `json:"duration"`
}

// Records returns the number of evicted records across collections.
func (r Result) Records() int {
	n := 0
	for _, v := range r.Evicted {
		n += v
	}
	return n
}

func (r *Result) add(o Result) {
	r.QueueItems += o.QueueItems
	r.Orphans += o.Orphans
	r.Repaired += o.Repaired
	for c, n := range o.Evicted {
		r.evicted(c, n)
	}
}

func (r *Result) evicted(c ir.Collection, n int) {
	if n == 0 {
		return
	}
	if r.Evicted == nil {
		r.Evicted = map[ir.Collection]int{}
	}
	r.Evicted[c] += n
}

// Manager runs the cleanup passes.
type Manager struct {
	st     *store.Store
	queue  QueuePruner
	saver  atomic.Pointer[Saver]
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	running atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides the pass limits.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithSaver sets the writer used to rewrite repaired records.
func WithSaver(s Saver) Option {
	return func(m *Manager) { m.SetSaver(s) }
}

// WithClock sets the clock age cutoffs are measured against.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a manager over st. q may be nil when there is no outbox.
func New(st *store.Store, q QueuePruner, opts ...Option) *Manager {
	m := &Manager{
		st:     st,
		queue:  q,
		cfg:    DefaultConfig(),
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.BatchSize <= 0 {
		m.cfg.BatchSize = DefaultConfig().BatchSize
	}
	return m
}

// SetSaver installs the record writer after construction.
func (m *Manager) SetSaver(s Saver) {
	m.saver.Store(&s)
}

// Config returns the active limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// Running reports whether an automatic or emergency run is in progress.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// AutoCleanup runs the policy for status: warning prunes the queue and
// repairs orphans; critical also prunes every collection with the shorter
// critical age. A run already in progress makes this a no-op.
func (m *Manager) AutoCleanup(ctx context.Context, status quota.Status) error {
	_, err := m.Run(ctx, status)
	return err
}

// Run is AutoCleanup returning the tally. A failing pass does not stop
// the ones after it; their errors are joined.
func (m *Manager) Run(ctx context.Context, status quota.Status) (Result, error) {
	if status == quota.Healthy {
		return Result{}, nil
	}
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("cleanup already running, skipping", "status", status)
		return Result{Skipped: true}, nil
	}
	defer m.running.Store(false)

	start := m.clock.Now()
	var (
		res  Result
		errs []error
	)

	n, err := m.PruneQueue(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.QueueItems = n

	orphans, err := m.RepairOrphans(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.add(orphans)

	if status == quota.Critical && ctx.Err() == nil {
		pruned, err := m.PruneCollections(ctx, m.cfg.CriticalMaxAge)
		if err != nil {
			errs = append(errs, err)
		}
		res.add(pruned)
	}

	res.Duration = m.clock.Now().Sub(start)
	m.logger.Info("automatic cleanup finished",
		"status", status,
		"queue_items", res.QueueItems,
		"evicted", res.Records(),
		"orphans", res.Orphans,
		"repaired", res.Repaired,
		"failed_passes", len(errs))
	return res, errors.Join(errs...)
}

// EmergencyCleanup frees space for a refused write: it prunes the queue and
// evicts a small batch of the least recently used records.
func (m *Manager) EmergencyCleanup(ctx context.Context) (Result, error) {
	if !m.running.CompareAndSwap(false, true) {
		return Result{Skipped: true}, nil
	}
	defer m.running.Store(false)

	start := m.clock.Now()
	var res Result

	n, err := m.PruneQueue(ctx)
	if err != nil {
		return res, err
	}
	res.QueueItems = n

	evicted, err := m.EvictLRU(ctx, m.cfg.EmergencyEvictCount)
	if err != nil {
		return res, err
	}
	res.add(evicted)

	res.Duration = m.clock.Now().Sub(start)
	m.logger.Warn("emergency cleanup finished",
		"queue_items", res.QueueItems,
		"evicted", res.Records())
	return res, nil
}

// Reclaim is EmergencyCleanup without the tally.
func (m *Manager) Reclaim(ctx context.Context) error {
	_, err := m.EmergencyCleanup(ctx)
	return err
}

// PruneQueue removes queue items older than QueueMaxAge or past the retry
// ceiling, one batch at a time.
func (m *Manager) PruneQueue(ctx context.Context) (int, error) {
	if m.queue == nil {
		return 0, nil
	}
	cutoff := m.clock.Now().Add(-m.cfg.QueueMaxAge)
	total := 0
	for {
		n, err := m.queue.Prune(ctx, cutoff, m.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("prune queue: %w", err)
		}
		total += n
		if n < m.cfg.BatchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (m *Manager) currentSaver() Saver {
	if p := m.saver.Load(); p != nil {
		return *p
	}
	return nil
}
