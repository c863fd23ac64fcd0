package quota

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/setkeep/internal/ir"
)

// Priority orders recommendations, most urgent first.
type Priority int

const (
	PriorityHigh Priority = iota + 1
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Recommendation is advisory text for an operator. Producing one never
// deletes anything.
type Recommendation struct {
	Priority Priority `json:"-"`
	Level    string   `json:"priority"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// Stats are the aggregates recommendations are derived from.
type Stats struct {
	Records     map[ir.Collection]int
	Evictable   int
	Orphans     int
	Pending     int
	Failed      int
	DeadLetters int
	Conflicts   int
}

// Report is the operator view of storage.
type Report struct {
	Snapshot        Snapshot
	Thresholds      Thresholds
	Persisted       bool
	Recommendations []Recommendation
}

// Recommendations derives prioritized suggestions from snap and stats.
func Recommendations(snap Snapshot, t Thresholds, stats Stats) []Recommendation {
	var recs []Recommendation
	add := func(p Priority, action, format string, args ...any) {
		recs = append(recs, Recommendation{
			Priority: p,
			Level:    p.String(),
			Message:  fmt.Sprintf(format, args...),
			Action:   action,
		})
	}

	switch snap.Status {
	case Critical:
		add(PriorityHigh, "cleanup",
			"Storage is %.1f%% full, above the %.0f%% critical threshold; new writes will be rejected.",
			snap.Percentage, t.Critical*100)
	case Warning:
		add(PriorityMedium, "cleanup",
			"Storage is %.1f%% full, above the %.0f%% warning threshold.",
			snap.Percentage, t.Warning*100)
	}

	if stats.DeadLetters > 0 {
		add(PriorityMedium, "dead-letters",
			"%d sync operations exhausted their retries; inspect and retry or discard them.", stats.DeadLetters)
	}
	if stats.Failed > 0 {
		add(PriorityMedium, "retry",
			"%d failed sync operations can be retried.", stats.Failed)
	}
	if stats.Conflicts > 0 {
		add(PriorityMedium, "conflicts",
			"%d conflicts are waiting for a manual choice.", stats.Conflicts)
	}
	if stats.Orphans > 0 {
		add(PriorityLow, "cleanup",
			"%d records reference missing items and can be repaired.", stats.Orphans)
	}
	if snap.Status != Healthy && stats.Evictable > 0 {
		add(PriorityLow, "cleanup",
			"%d cold records are eligible for eviction.", stats.Evictable)
	}
	if stats.Pending > 100 {
		add(PriorityLow, "sync",
			"%d changes are waiting to sync; connect to drain the queue.", stats.Pending)
	}
	if !snap.Supported {
		add(PriorityLow, "",
			"Storage usage cannot be measured on this host; writes are never blocked.")
	}

	slices.SortStableFunc(recs, func(a, b Recommendation) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return recs
}

// Report measures storage and derives recommendations from stats.
func (m *Monitor) Report(ctx context.Context, stats Stats) (Report, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	persisted, err := m.RequestPersistence(ctx)
	if err != nil {
		m.logger.Warn("persistence request failed", "error", err)
	}
	return Report{
		Snapshot:        snap,
		Thresholds:      m.thresholds,
		Persisted:       persisted,
		Recommendations: Recommendations(snap, m.thresholds, stats),
	}, nil
}
