// Package store provides the SQLite-backed persistent store every setkeep
// component writes through.
//
// The store exposes a small keyed-document contract:
//   - Object stores: named collections of JSON documents keyed by string
//   - Indexes: JSON key-path expression indexes over an object store,
//     queried by equality, prefix or range
//   - Transactions: View and Update run a function inside one atomic
//     SQLite transaction
//   - Versioned upgrade: Open compares PRAGMA user_version with the
//     requested version and runs the Upgrade callback inside one
//     transaction that also records the new version
//
// # Lifecycle
//
// A Store is opened and closed explicitly by its owner; there is no
// process-wide handle. While open it holds a shared lock on <db>.lock. An
// opener that needs to upgrade takes the lock exclusively and drops a
// <db>.upgrade marker; handles opened with WatchUpgrades notice the marker,
// emit events.DBBlocking and release their connection. An opener that
// cannot get the exclusive lock in time emits events.DBBlocked and fails
// with ErrUpgradeBlocked.
//
// Operations on a handle whose connection was lost (other than by Close)
// reconnect once and retry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One connection: SQLite has a single writer
package store
