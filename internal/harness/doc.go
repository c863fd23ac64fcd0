// Package harness runs scripted scenarios against a real engine.
//
// A scenario opens a fresh engine in a temporary directory with a fake
// clock, sequential record ids, a scripted remote and an adjustable storage
// estimate, then executes its steps in order. Each step and every event the
// engine emits along the way is appended to a trace that assertions and
// golden snapshots inspect.
//
// # Scenario Format
//
//	name: dead_letter_then_retry
//	description: "A failing item is dead-lettered and requeued by hand"
//	config:
//	  sync:
//	    max_retries: 3
//	setup:
//	  - do: save
//	    args: { collection: songs, id: C, fields: { title: Come Thou Fount } }
//	flow:
//	  - do: remote
//	    args: { reply: fail }
//	  - do: sync
//	    expect:
//	      result: { retried: 1, remaining: 1 }
//	assertions:
//	  - type: trace_count
//	    action: item-dead-lettered
//	    count: 1
//	  - type: final_state
//	    collection: songs
//	    id: C
//	    expect: { sync_status: dead }
//
// # Steps
//
//   - save, update, delete, get: repository writes and reads
//   - seed: saves count records with generated ids
//   - remote, conflict: script the next remote replies
//   - sync, retry: drain the queue in the foreground, requeue failures
//   - storage, advance: set the usage estimate, move the clock
//   - cleanup: run a cleanup pass at a given level
//   - conflicts, resolve: list and settle parked user-choice conflicts
//
// A step's expect clause names the outcome case ("ok" when omitted) and a
// subset of the result. Steps in setup must succeed.
//
// # Assertion Types
//
//   - trace_contains: a step or event with the action and matching args
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly count times
//   - final_state: a record's envelope and fields, or exists: false
//   - record_count: number of records in a collection
//   - queue_state: queue and dead-letter totals
//
// # Determinism
//
// Sync runs only when a step asks for it: the remote is attached for the
// duration of a sync step, so retries never start a background drain.
// Traces carry no timestamps or hashed ids and are stable across runs.
package harness
