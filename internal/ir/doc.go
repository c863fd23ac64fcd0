// Package ir provides the value model and record types shared by every
// setkeep component.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Record payloads are IRObject values, never map[string]any
//   - All JSON tags use snake_case
//   - Canonical JSON (MarshalCanonical) is the only encoding used for
//     content hashes and byte-level determinism checks
package ir
