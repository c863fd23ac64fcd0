package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh database with a "songs" object store and a
// "by_title" index at version 1.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, Options{
		Version: 1,
		Upgrade: func(tx *UpgradeTx, oldVersion, newVersion int) error {
			if err := tx.CreateObjectStore("songs"); err != nil {
				return err
			}
			if err := tx.CreateIndex("songs", IndexSpec{Name: "by_title", KeyPath: "fields.title"}); err != nil {
				return err
			}
			return tx.CreateIndex("songs", IndexSpec{Name: "by_plays", KeyPath: "fields.play_count"})
		},
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type doc struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func putDoc(t *testing.T, s *Store, id, title string, plays int) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		return PutJSON(tx, "songs", id, doc{ID: id, Fields: map[string]any{"title": title, "play_count": plays}})
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}
