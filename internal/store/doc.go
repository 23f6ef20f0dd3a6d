// Package store provides SQLite-backed persistence for runbooks, compiled
// plan versions, gate requests, and the append-only audit trail, plus the
// domain tables that operation handlers mutate.
//
// # Critical Patterns
//
// Write-once plan versions
//   - PRIMARY KEY (runbook_id, version) plus the persisted next_version
//     counter on runbooks; a version number is issued at most once, never
//     reused, never derived from the entry count.
//
// Optimistic version allocation
//   - AllocateVersion reads the counter and advances it with a guarded
//     UPDATE; a concurrent allocation surfaces as VersionConflictError
//     instead of a duplicate version.
//
// Logical ordering
//   - Entry order uses seq, audit order uses a per-runbook seq (logical
//     clock). Timestamps are recorded for operators, never for ordering.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for the writer lock up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Unlike a pure append-only log, execution attempts hold write transactions
// for the duration of a step, so the pool allows a few connections and
// relies on busy_timeout for writer handoff.
//
// Argument maps and write sets are stored as RFC 8785 canonical JSON via
// internal/ir, so stored bytes are stable inputs for content hashing.
package store
