// Package engine reconciles persisted approval rows with the Document
// Service.
//
// A Driver pass runs in a fixed order:
//
//  1. refresh every document row from its status history
//  2. advance the first INITIAL_STAMPED document row to REQUESTING_SIGNATURE
//  3. advance the first PENDING document row into its first phase
//  4. run the sequential dispatch Policy once over every queue row
//
// Each step issues at most one stamp request per row, and steps 2 and 3 at
// most one per pass, so a busy table is worked through over successive
// passes instead of in a burst. A DispatchBudget caps the whole pass and a
// DispatchGuard refuses a second request for the same (document, recipient)
// within one pass.
//
// Failures are recorded on the row and in the RunReport, never raised: the
// next pass retries from persisted state. Nothing in memory survives a pass
// except the dispatch Sequence.
//
// Every row mutation runs as lock → read → mutate → write under a
// lock.Locker keyed by table. Long-running hosts drive passes through a
// Runner, which coalesces overlapping triggers into one single-writer loop.
package engine
