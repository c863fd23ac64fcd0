package ir

import "time"

// Collection names a record family. Each collection is one object store.
type Collection string

const (
	CollectionSongs        Collection = "songs"
	CollectionArrangements Collection = "arrangements"
	CollectionSetlists     Collection = "setlists"
)

// Collections lists every record collection in dependency order
// (parents before children).
var Collections = []Collection{CollectionSongs, CollectionArrangements, CollectionSetlists}

// Operation is the kind of remote effect a queue item carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncStatus tracks a record's reconciliation state with the remote.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncDead     SyncStatus = "dead"
)

// QueueStatus is the lifecycle state of an outbox entry.
//
//	pending -> processing -> {completed | pending (retry) | failed}
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Record is a versioned library entity.
//
// Version starts at 1 and increases by one on every save; it never
// decreases. CreatedAt is set once. LastAccessedAt is epoch milliseconds
// and drives LRU eviction.
type Record struct {
	ID             string     `json:"id"`
	Collection     Collection `json:"collection"`
	Fields         IRObject   `json:"fields"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt int64      `json:"last_accessed_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
	IsFavorite     bool       `json:"is_favorite"`
	IsPinned       bool       `json:"is_pinned"`
	ModifiedBy     string     `json:"modified_by"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Canonical renders the record as an IRObject for canonical encoding.
// Timestamps are UTC RFC 3339 with nanoseconds.
func (r Record) Canonical() IRObject {
	fields := r.Fields
	if fields == nil {
		fields = IRObject{}
	}
	return IRObject{
		"id":               IRString(r.ID),
		"collection":       IRString(r.Collection),
		"fields":           fields,
		"version":          IRInt(r.Version),
		"created_at":       IRString(FormatTime(r.CreatedAt)),
		"updated_at":       IRString(FormatTime(r.UpdatedAt)),
		"last_accessed_at": IRInt(r.LastAccessedAt),
		"sync_status":      IRString(r.SyncStatus),
		"is_favorite":      IRBool(r.IsFavorite),
		"is_pinned":        IRBool(r.IsPinned),
		"modified_by":      IRString(r.ModifiedBy),
	}
}

// LastTouched returns the recency key used for LRU ordering: last access,
// falling back to update then creation time.
func (r Record) LastTouched() int64 {
	switch {
	case r.LastAccessedAt > 0:
		return r.LastAccessedAt
	case !r.UpdatedAt.IsZero():
		return r.UpdatedAt.UnixMilli()
	case !r.CreatedAt.IsZero():
		return r.CreatedAt.UnixMilli()
	}
	return 0
}

// Exempt reports whether cleanup must never evict r.
func (r Record) Exempt() bool {
	return r.IsFavorite || r.IsPinned || r.SyncStatus == SyncPending
}

// FormatTime renders t the way every stored timestamp is rendered.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// QueueItem is one pending remote operation in the outbox.
//
// EntityVersion is the record version the Data snapshot was read at. A
// remote acknowledgement is only applied locally while the record is still
// at that version.
type QueueItem struct {
	ID            string      `json:"id"`
	Type          Collection  `json:"type"`
	Operation     Operation   `json:"operation"`
	EntityID      string      `json:"entity_id"`
	EntityVersion int64       `json:"entity_version"`
	Data          *Record     `json:"data"`
	Timestamp     int64       `json:"timestamp"`
	RetryCount    int         `json:"retry_count"`
	MaxRetries    int         `json:"max_retries"`
	LastError     string      `json:"last_error,omitempty"`
	Status        QueueStatus `json:"status"`
}

// NaturalKey returns type:operation:entity_id:timestamp.
func (q QueueItem) NaturalKey() string {
	return NaturalKey(q.Type, q.Operation, q.EntityID, q.Timestamp)
}

// DeadLetter is a failed queue item retained for manual inspection.
// Dead letters are never retried automatically.
type DeadLetter struct {
	ID         string    `json:"id"`
	OriginalID string    `json:"original_id"`
	FailedAt   time.Time `json:"failed_at"`
	Item       QueueItem `json:"item"`
}

// PendingConflict is a conflicting pair parked for a manual pick.
type PendingConflict struct {
	EntityID   string     `json:"entity_id"`
	Collection Collection `json:"collection"`
	Local      Record     `json:"local"`
	Remote     Record     `json:"remote"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Key is the store key of a pending conflict.
func (p PendingConflict) Key() string {
	return string(p.Collection) + "/" + p.EntityID
}
