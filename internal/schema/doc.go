// Package schema runs the ordered table of schema migration steps inside
// the store's upgrade transaction and checks, after the fact, that the
// actual schema matches the version the store claims.
//
// Every step is idempotent: object stores and indexes are created only
// after an existence check, so running a step against an already migrated
// store is a no-op. A version with no declared step is logged and skipped;
// Verify exposes the resulting drift.
package schema
