package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/roach88/setkeep/internal/cleanup"
	"github.com/roach88/setkeep/internal/clock"
	"github.com/roach88/setkeep/internal/config"
	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/ids"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/repository"
	"github.com/roach88/setkeep/internal/schema"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/syncqueue"
)

// Engine owns one open store and every component built on it.
type Engine struct {
	cfg        config.Config
	st         *store.Store
	runner     *schema.Runner
	repo       *repository.Repository
	queue      *syncqueue.Queue
	resolver   *conflict.Resolver
	monitor    *quota.Monitor
	cleaner    *cleanup.Manager
	strategies map[ir.Collection]conflict.Strategy
	sink       events.Sink
	clock      clock.Clock
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	transport     syncqueue.Transport
	estimator     quota.Estimator
	sink          events.Sink
	clock         clock.Clock
	ids           ids.Generator
	logger        *slog.Logger
	online        func() bool
	random        func() float64
	watchUpgrades bool
	upgradeWait   time.Duration
}

// Option configures Open.
type Option func(*options)

// WithTransport sets the remote transport the queue drains into. Without
// one every drain attempt fails as retryable.
func WithTransport(t syncqueue.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithEstimator replaces the storage estimator derived from the config.
func WithEstimator(e quota.Estimator) Option {
	return func(o *options) { o.estimator = e }
}

// WithSink sets the receiver of engine events.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDs sets the generator for new record ids.
func WithIDs(g ids.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOnline sets the connectivity check consulted before scheduling
// follow-up sync passes.
func WithOnline(f func() bool) Option {
	return func(o *options) { o.online = f }
}

// WithRandom sets the jitter source of the sync backoff.
func WithRandom(f func() float64) Option {
	return func(o *options) { o.random = f }
}

// WithWatchUpgrades makes the store yield its connection to another
// process upgrading the same database.
func WithWatchUpgrades(watch bool) Option {
	return func(o *options) { o.watchUpgrades = watch }
}

// WithUpgradeWait bounds how long Open waits for other connections during
// a schema upgrade.
func WithUpgradeWait(d time.Duration) Option {
	return func(o *options) { o.upgradeWait = d }
}

// Open validates cfg, opens and migrates the store and wires every
// component.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{
		sink:   events.Discard,
		clock:  clock.System{},
		ids:    ids.UUIDv7{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategies, err := strategyTable(cfg.Sync.Strategies)
	if err != nil {
		return nil, err
	}

	path := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	runner, err := library.NewRunner(o.logger)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, path, store.Options{
		Version:       library.SchemaVersion,
		Upgrade:       runner.Upgrade,
		Sink:          o.sink,
		UpgradeWait:   o.upgradeWait,
		WatchUpgrades: o.watchUpgrades,
		Logger:        o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if rep := runner.LastReport(); !rep.OK() {
		o.logger.Warn("schema upgrade finished with errors", "report", rep)
	}

	e := &Engine{
		cfg:        cfg,
		st:         st,
		runner:     runner,
		resolver:   conflict.NewResolver(library.ConflictRules()),
		strategies: strategies,
		sink:       o.sink,
		clock:      o.clock,
		logger:     o.logger,
	}

	est := o.estimator
	if est == nil {
		est = defaultEstimator(cfg, st)
	}
	e.monitor = quota.NewMonitor(est,
		quota.WithThresholds(quota.Thresholds{
			Warning:  cfg.Storage.WarningThreshold,
			Critical: cfg.Storage.CriticalThreshold,
		}),
		quota.WithSink(o.sink),
		quota.WithClock(o.clock),
		quota.WithLogger(o.logger))

	qopts := []syncqueue.Option{
		syncqueue.WithConfig(queueConfig(cfg.Sync)),
		syncqueue.WithClock(o.clock),
		syncqueue.WithSink(o.sink),
		syncqueue.WithLogger(o.logger),
	}
	if o.online != nil {
		qopts = append(qopts, syncqueue.WithOnline(o.online))
	}
	if o.random != nil {
		qopts = append(qopts, syncqueue.WithRandom(o.random))
	}
	e.queue = syncqueue.New(st, o.transport, qopts...)

	validator, err := library.NewValidator()
	if err != nil {
		e.Close()
		return nil, err
	}
	e.repo = repository.New(st, e.queue,
		repository.WithGate(e.monitor),
		repository.WithValidator(validator),
		repository.WithClock(o.clock),
		repository.WithIDs(o.ids),
		repository.WithWriter(cfg.WriterID),
		repository.WithLogger(o.logger))

	e.cleaner = cleanup.New(st, e.queue,
		cleanup.WithConfig(cleanupConfig(cfg.Cleanup)),
		cleanup.WithClock(o.clock),
		cleanup.WithLogger(o.logger),
		cleanup.WithSaver(e.repo))

	e.monitor.SetCleaner(e.cleaner)
	e.repo.SetReclaimer(e.cleaner)
	e.queue.SetMarker(e.repo)
	e.queue.SetConflictHandler(e)

	o.logger.Info("engine opened",
		"path", path,
		"schema", st.Version(),
		"writer", cfg.WriterID)
	return e, nil
}

// Close stops the sync queue and closes the store. Safe to call more than
// once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.queue != nil {
			e.queue.Close()
		}
		e.closeErr = e.st.Close()
	})
	return e.closeErr
}

// Repository returns the versioned record repository.
func (e *Engine) Repository() *repository.Repository { return e.repo }

// Queue returns the sync queue.
func (e *Engine) Queue() *syncqueue.Queue { return e.queue }

// Monitor returns the storage quota monitor.
func (e *Engine) Monitor() *quota.Monitor { return e.monitor }

// Cleaner returns the cleanup manager.
func (e *Engine) Cleaner() *cleanup.Manager { return e.cleaner }

// Store returns the underlying store handle.
func (e *Engine) Store() *store.Store { return e.st }

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() config.Config { return e.cfg }

// Strategy returns the conflict strategy used for c.
func (e *Engine) Strategy(c ir.Collection) conflict.Strategy {
	if s, ok := e.strategies[c]; ok {
		return s
	}
	return conflict.RecommendedStrategy(c)
}

// SetTransport swaps the remote transport, e.g. when connectivity returns.
func (e *Engine) SetTransport(t syncqueue.Transport) {
	e.queue.SetTransport(t)
}

// strategyTable starts from the recommended strategy per collection and
// applies configured overrides.
func strategyTable(overrides map[string]string) (map[ir.Collection]conflict.Strategy, error) {
	out := make(map[ir.Collection]conflict.Strategy, len(ir.Collections))
	for _, c := range ir.Collections {
		out[c] = conflict.RecommendedStrategy(c)
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		c := ir.Collection(name)
		if _, err := library.Lookup(c); err != nil {
			errs = append(errs, &Error{Code: ErrCodeUnknownStrategy, Message: err.Error()})
			continue
		}
		s, err := conflict.ParseStrategy(overrides[name])
		if err != nil {
			errs = append(errs, &Error{Code: ErrCodeUnknownStrategy, Message: err.Error(), Collection: c})
			continue
		}
		out[c] = s
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func defaultEstimator(cfg config.Config, st *store.Store) quota.Estimator {
	if cfg.Storage.BudgetBytes > 0 {
		return quota.BudgetEstimator{Usage: st.UsedBytes, Budget: cfg.Storage.BudgetBytes}
	}
	return quota.DiskEstimator{Path: filepath.Dir(st.Path()), Usage: st.UsedBytes}
}

func queueConfig(c config.SyncConfig) syncqueue.Config {
	return syncqueue.Config{
		MaxRetries:   c.MaxRetries,
		RetryCeiling: c.RetryCeiling,
		BaseDelay:    c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Jitter:       c.Jitter,
		Timeout:      c.TransportTimeout,
		BatchSize:    c.BatchSize,
	}
}

func cleanupConfig(c config.CleanupConfig) cleanup.Config {
	day := 24 * time.Hour
	return cleanup.Config{
		MaxAge:              time.Duration(c.MaxAgeDays) * day,
		CriticalMaxAge:      time.Duration(c.CriticalMaxAgeDays) * day,
		MinItemsToKeep:      c.MinItemsToKeep,
		BatchSize:           c.BatchSize,
		QueueMaxAge:         time.Duration(c.QueueMaxAgeDays) * day,
		EmergencyEvictCount: c.EmergencyEvictCount,
	}
}
