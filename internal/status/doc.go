// Package status turns Document Service status histories into a single
// canonical approval status.
//
// Two entry points:
//   - Normalize adapts any raw payload shape into []approval.StatusEvent.
//     It is the only place that knows about wire shapes and never fails.
//   - Canonicalize reduces a history to one approval.Status, either for a
//     single recipient or for the document as a whole.
//
// Both are pure. The same input always yields the same output regardless of
// event order, except where the latest label is the tiebreaker.
package status
