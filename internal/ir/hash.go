package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Domain prefixes for content-derived identifiers.
// The version suffix allows a future algorithm change.
const (
	DomainQueueItem  = "setkeep/queue-item/v1"
	DomainDeadLetter = "setkeep/dead-letter/v1"
	DomainRecord     = "setkeep/record/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueueItemID derives the id of an outbox entry from its natural key
// (type:operation:entity_id:timestamp). Timestamps come from a strictly
// increasing stamper, so two enqueues never share a key.
func QueueItemID(collection Collection, op Operation, entityID string, timestamp int64) string {
	return hashWithDomain(DomainQueueItem, []byte(NaturalKey(collection, op, entityID, timestamp)))
}

// NaturalKey renders the natural key of a queue item.
func NaturalKey(collection Collection, op Operation, entityID string, timestamp int64) string {
	return string(collection) + ":" + string(op) + ":" + entityID + ":" + strconv.FormatInt(timestamp, 10)
}

// DeadLetterID derives the id of a dead-letter entry. A queue item that is
// manually retried and fails again produces a second, distinct entry.
func DeadLetterID(originalID string, failedAt time.Time) string {
	return hashWithDomain(DomainDeadLetter, []byte(originalID+"@"+strconv.FormatInt(failedAt.UnixNano(), 10)))
}

// RecordHash is the content hash of a record's envelope and fields.
func RecordHash(rec Record) (string, error) {
	canonical, err := MarshalCanonical(rec.Canonical())
	if err != nil {
		return "", fmt.Errorf("RecordHash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// FieldsHash hashes only the user-visible fields of a record.
func FieldsHash(fields IRObject) (string, error) {
	canonical, err := MarshalCanonical(stripMetadata(fields))
	if err != nil {
		return "", fmt.Errorf("FieldsHash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// MustRecordHash is like RecordHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRecordHash(rec Record) string {
	h, err := RecordHash(rec)
	if err != nil {
		panic(err)
	}
	return h
}
