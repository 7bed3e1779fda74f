// Package store provides the SQLite-backed row store for stampq.
//
// Two tables hold engine state:
//   - queue_rows: batch-variant rows, recipients kept in their text encoding
//   - document_rows: two-phase rows, one per tracked document
//
// A third table, locks, backs the lease Locker so several processes sharing
// one database file serialize their read-modify-write cycles.
//
// # Conventions
//
//   - Rows are addressed by idx and every listing is ORDER BY idx ASC
//   - Statuses are persisted as display labels ("INITIAL STAMPED")
//   - Timestamps are Unix milliseconds, 0 meaning unset
//   - ReadRow, WriteRow and DeleteRow on a missing idx return ErrRowNotFound
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
