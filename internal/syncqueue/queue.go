// Package syncqueue is the outbox: a durable queue of remote operations
// drained oldest first with retry, backoff and dead-lettering.
package syncqueue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/setkeep/internal/clock"
	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/store"
)

// Transport performs one remote operation. It returns nil on success, a
// *ConflictError when the remote holds a newer version, and any other
// error for a retryable failure.
type Transport interface {
	Send(ctx context.Context, item ir.QueueItem) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, item ir.QueueItem) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, item ir.QueueItem) error {
	return f(ctx, item)
}

// ConflictHandler turns a remote conflict into a resolved local record.
type ConflictHandler interface {
	HandleConflict(ctx context.Context, item ir.QueueItem, remote ir.Record) error
}

// Marker updates a record's sync status after a drain outcome.
type Marker interface {
	// MarkSynced marks the record synced only while it is still at
	// version and reports whether it did.
	MarkSynced(ctx context.Context, c ir.Collection, id string, version int64) (bool, error)
	MarkStatus(ctx context.Context, c ir.Collection, id string, status ir.SyncStatus) error
}

// Config tunes the queue.
type Config struct {
	MaxRetries   int
	RetryCeiling int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Jitter       float64
	Timeout      time.Duration
	// BatchSize caps the items one pass sends. Zero sends all.
	BatchSize int
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryCeiling: 10,
		BaseDelay:    time.Second,
		MaxDelay:     5 * time.Minute,
		Jitter:       0.10,
		Timeout:      30 * time.Second,
	}
}

// Queue is the sync outbox.
type Queue struct {
	st        *store.Store
	transport Transport
	conflicts ConflictHandler
	marker    Marker
	cfg       Config
	clock     clock.Clock
	stamper   *clock.Stamper
	sink      events.Sink
	logger    *slog.Logger
	online    func() bool
	random    func() float64

	draining atomic.Bool

	mu     sync.Mutex
	timer  *time.Timer
	pass   int
	closed bool
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithConflictHandler routes remote conflicts to h.
func WithConflictHandler(h ConflictHandler) Option {
	return func(q *Queue) { q.conflicts = h }
}

// WithMarker sets who records sync outcomes on entities.
func WithMarker(m Marker) Option {
	return func(q *Queue) { q.marker = m }
}

// WithClock sets the clock for timestamps.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithSink sets where item-dead-lettered events go.
func WithSink(s events.Sink) Option {
	return func(q *Queue) { q.sink = events.OrDiscard(s) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithOnline reports connectivity. Backoff passes are only scheduled while
// it returns true.
func WithOnline(f func() bool) Option {
	return func(q *Queue) { q.online = f }
}

// WithRandom replaces the jitter source; f returns values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(q *Queue) { q.random = f }
}

// New creates a queue over st that sends through t.
func New(st *store.Store, t Transport, opts ...Option) *Queue {
	q := &Queue{
		st:        st,
		transport: t,
		cfg:       DefaultConfig(),
		clock:     clock.System{},
		sink:      events.Discard,
		logger:    slog.Default(),
		online:    func() bool { return true },
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.cfg.RetryCeiling < q.cfg.MaxRetries {
		q.cfg.RetryCeiling = q.cfg.MaxRetries
	}
	q.stamper = clock.NewStamper(q.clock)
	q.base, q.cancel = context.WithCancel(context.Background())
	return q
}

// SetTransport swaps the transport, e.g. when connectivity returns.
func (q *Queue) SetTransport(t Transport) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.transport = t
}

// SetConflictHandler installs the conflict handler after construction.
func (q *Queue) SetConflictHandler(h ConflictHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conflicts = h
}

// SetMarker installs the marker after construction.
func (q *Queue) SetMarker(m Marker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.marker = m
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Draining reports whether a pass is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Close stops scheduled passes and waits for a background pass to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.timer != nil {
		if q.timer.Stop() {
			q.wg.Done()
		}
		q.timer = nil
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) collaborators() (Transport, ConflictHandler, Marker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.transport, q.conflicts, q.marker
}
