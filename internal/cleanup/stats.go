package cleanup

import (
	"context"
	"time"

	"github.com/roach88/setkeep/internal/ir"
)

// Stats summarizes what cleanup could reclaim right now.
type Stats struct {
	Records   map[ir.Collection]int `json:"records"`
	Exempt    int                   `json:"exempt"`
	Evictable int                   `json:"evictable"`
	Stale     int                   `json:"stale"`
	Orphans   int                   `json:"orphans"`
	Dangling  int                   `json:"dangling"`
}

// Stats counts records, exempt records, LRU-evictable records, records
// past MaxAge, orphans and records with dangling references.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	snap, err := m.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Records: map[ir.Collection]int{}}
	for c, recs := range snap {
		s.Records[c] = len(recs)
		for _, r := range recs {
			if r.Exempt() {
				s.Exempt++
			}
		}
	}
	s.Evictable = len(m.candidates(snap, time.Time{}))
	s.Stale = len(m.candidates(snap, m.clock.Now().Add(-m.cfg.MaxAge)))

	scan := scanOrphans(snap)
	s.Orphans = len(scan.orphans) + scan.pinned
	s.Dangling = len(scan.dangling)
	return s, nil
}
