package engine

import (
	"errors"
	"fmt"
)

// DispatchBudget caps the number of stamp requests one run may issue.
//
// The dispatch policy allows one dispatch per queue row and the two-phase
// advance steps one per phase, so a large table can still produce a burst.
// The budget bounds that burst across the whole run. A limit of zero or less
// means unlimited.
type DispatchBudget struct {
	limit   int
	current int
}

// NewDispatchBudget creates a budget with the given limit.
func NewDispatchBudget(limit int) *DispatchBudget {
	return &DispatchBudget{limit: limit}
}

// Check reserves one dispatch. Returns *BudgetExhaustedError once the limit
// is reached; the reservation is not taken in that case.
func (b *DispatchBudget) Check(runID string) error {
	if b.limit > 0 && b.current >= b.limit {
		return &BudgetExhaustedError{RunID: runID, Limit: b.limit}
	}
	b.current++
	return nil
}

// Refund returns a reservation whose dispatch was not issued.
func (b *DispatchBudget) Refund() {
	if b.current > 0 {
		b.current--
	}
}

// Reset sets the counter back to zero.
func (b *DispatchBudget) Reset() {
	b.current = 0
}

// Current returns the number of reserved dispatches.
func (b *DispatchBudget) Current() int {
	return b.current
}

// Limit returns the configured limit.
func (b *DispatchBudget) Limit() int {
	return b.limit
}

// BudgetExhaustedError is returned when a run has used its dispatch budget.
// The remaining rows are left for the next run.
type BudgetExhaustedError struct {
	RunID string
	Limit int
}

// Error implements the error interface.
func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("run %s exhausted its dispatch budget of %d", e.RunID, e.Limit)
}

// IsBudgetExhausted reports whether err is a BudgetExhaustedError.
func IsBudgetExhausted(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}
