// Package events defines the typed notifications the engine emits and the
// sinks that receive them.
//
// Delivery is fire-and-forget: emitting never blocks engine logic and a
// sink failure never fails the operation that produced the event.
package events

import (
	"sync"
	"time"

	"github.com/roach88/setkeep/internal/ir"
)

// Kind enumerates engine notifications.
type Kind int

const (
	// StorageWarning fires when usage crosses the warning threshold.
	StorageWarning Kind = iota + 1
	// StorageCritical fires when usage crosses the critical threshold.
	StorageCritical
	// SyncConflict fires when the remote rejected a write as stale and the
	// resolver produced a merged record.
	SyncConflict
	// DBBlocked fires when this process could not upgrade the store because
	// another connection kept it open.
	DBBlocked
	// DBBlocking fires when this process closed its connection so another
	// opener can upgrade the store.
	DBBlocking
	// ItemDeadLettered fires when a queue item exhausted its retries.
	ItemDeadLettered
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case StorageWarning:
		return "storage-warning"
	case StorageCritical:
		return "storage-critical"
	case SyncConflict:
		return "sync-conflict"
	case DBBlocked:
		return "db-blocked"
	case DBBlocking:
		return "db-blocking"
	case ItemDeadLettered:
		return "item-dead-lettered"
	default:
		return "unknown"
	}
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind
	At   time.Time

	// Storage events.
	Usage      int64
	Capacity   int64
	Percentage float64

	// Sync events.
	Collection ir.Collection
	EntityID   string
	Local      *ir.Record
	Remote     *ir.Record
	Resolved   *ir.Record
	Strategy   string
	QueueItem  string

	// Store lifecycle events.
	Path       string
	OldVersion int
	NewVersion int

	Message string
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// Func adapts a function to Sink.
type Func func(Event)

// Emit calls f.
func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

// Channel delivers events to a buffered channel and drops them when the
// channel is full.
type Channel struct {
	C       chan Event
	mu      sync.Mutex
	dropped int
}

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{C: make(chan Event, buffer)}
}

// Emit sends e without blocking.
func (c *Channel) Emit(e Event) {
	select {
	case c.C <- e:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Multi fans each event out to every sink in order.
type Multi []Sink

// Emit forwards e to each sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
