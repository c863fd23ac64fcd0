package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/setkeep/internal/events"
)

func (s *Store) markerPath() string {
	return s.path + ".upgrade"
}

// waitForUpgradeMarker gives an in-progress upgrade by another opener the
// chance to take the exclusive lock before this handle reconnects.
func (s *Store) waitForUpgradeMarker(ctx context.Context) {
	deadline := time.Now().Add(s.opts.UpgradeWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(s.markerPath()); os.IsNotExist(err) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(lockRetryDelay):
		}
	}
}

// watch releases the connection whenever another opener drops an upgrade
// marker next to the database.
func (s *Store) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	marker := filepath.Clean(s.markerPath())
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != marker {
					continue
				}
				if ev.Has(fsnotify.Create) {
					s.release()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("upgrade watcher error", "path", s.path, "error", err)
			}
		}
	}()
	return nil
}

// release closes the connection and the shared lock so another opener can
// upgrade. The next operation reconnects.
func (s *Store) release() {
	if _, err := os.Stat(s.markerPath()); err != nil {
		return
	}
	s.mu.Lock()
	if s.closed || s.db == nil {
		s.mu.Unlock()
		return
	}
	s.db.Close()
	s.db = nil
	s.lock.Unlock()
	version := s.version
	s.mu.Unlock()

	s.logger.Info("released store for upgrade", "path", s.path, "version", version)
	s.sink.Emit(events.Event{
		Kind:       events.DBBlocking,
		At:         time.Now().UTC(),
		Path:       s.path,
		OldVersion: version,
		Message:    "closed connection for another opener's upgrade",
	})
}
