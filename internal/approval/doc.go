// Package approval provides the core types of the approval queue engine.
//
// This package contains type definitions, the error taxonomy and input
// validation only. All other internal packages import approval; approval
// imports nothing internal.
//
// Key design constraints:
//   - Status values are totally ordered by Rank, except StatusError which has
//     no rank and is never compared for advancement
//   - Queue rows hold recipients as ordered Batches; the textual encoding lives
//     in package batch, never here
//   - Dispatched is an ordered set: insertion order is preserved so persisted
//     output is deterministic
package approval
