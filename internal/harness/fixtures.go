package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/syncqueue"
)

const defaultFailure = "503 service unavailable"

// remote is the scripted server. Items with a scripted conflict are
// rejected once with the remote record; everything else gets the current
// reply.
type remote struct {
	mu        sync.Mutex
	fail      bool
	message   string
	conflicts map[string]ir.Record
	sent      int
}

func newRemote() *remote {
	return &remote{conflicts: map[string]ir.Record{}}
}

// Send implements syncqueue.Transport.
func (r *remote) Send(_ context.Context, item ir.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	key := syncqueue.BaseKey(item.Type, item.EntityID)
	if rec, ok := r.conflicts[key]; ok {
		delete(r.conflicts, key)
		return &syncqueue.ConflictError{Remote: rec}
	}
	if r.fail {
		return errors.New(r.message)
	}
	return nil
}

func (r *remote) reply(fail bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message == "" {
		message = defaultFailure
	}
	r.fail, r.message = fail, message
}

func (r *remote) conflict(rec ir.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[syncqueue.BaseKey(rec.Collection, rec.ID)] = rec
}

// storage is an adjustable estimator: unsupported, a fixed usage, or a
// fixed charge per stored record.
type storage struct {
	mu        sync.Mutex
	st        *store.Store
	supported bool
	usage     int64
	perRecord int64
	capacity  int64
}

// Estimate implements quota.Estimator.
func (s *storage) Estimate(ctx context.Context) (quota.Estimate, error) {
	s.mu.Lock()
	st, supported, usage, per, capacity := s.st, s.supported, s.usage, s.perRecord, s.capacity
	s.mu.Unlock()

	if !supported {
		return quota.Estimate{}, quota.ErrUnsupported
	}
	if per == 0 || st == nil {
		return quota.Estimate{Usage: usage, Capacity: capacity}, nil
	}

	var n int
	err := st.View(ctx, func(tx *store.Tx) error {
		for _, c := range ir.Collections {
			k, err := tx.Count(string(c))
			if err != nil {
				return err
			}
			n += k
		}
		return nil
	})
	if err != nil {
		return quota.Estimate{}, err
	}
	return quota.Estimate{Usage: int64(n) * per, Capacity: capacity}, nil
}

// Persist implements quota.Estimator.
func (s *storage) Persist(context.Context) (bool, error) {
	return true, nil
}

func (s *storage) attach(st *store.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
}

func (s *storage) set(supported bool, usage, perRecord, capacity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supported, s.usage, s.perRecord, s.capacity = supported, usage, perRecord, capacity
}
