package harness

import (
	"fmt"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

// Principle is an operational property every pass must keep, whatever the
// scenario. Run checks each one after every pass.
type Principle struct {
	Name        string
	Description string

	// Check compares the rows before and after a pass. It returns nil when
	// the property holds.
	Check func(before, after State, pass PassTrace) error
}

// Principles are checked after every pass of every scenario.
var Principles = []Principle{
	{
		Name:        "status_never_regresses",
		Description: "A document row never moves to a less advanced status, except into or out of ERROR.",
		Check:       checkStatusNeverRegresses,
	},
	{
		Name:        "one_request_per_recipient",
		Description: "A pass sends at most one stamp request per (document, recipient).",
		Check:       checkOneRequestPerRecipient,
	},
	{
		Name:        "drained_rows_untouched",
		Description: "A drained queue row is not written again.",
		Check:       checkDrainedRowsUntouched,
	},
}

func checkStatusNeverRegresses(before, after State, _ PassTrace) error {
	prev := make(map[int64]approval.Status, len(before.Documents))
	for _, d := range before.Documents {
		prev[d.Index] = d.Status
	}
	for _, d := range after.Documents {
		was, ok := prev[d.Index]
		if !ok || was == approval.StatusError || d.Status == approval.StatusError {
			continue
		}
		if was.MoreAdvancedThan(d.Status) {
			return fmt.Errorf("document_rows/%d (%s) moved from %s to %s", d.Index, d.DocumentID, was, d.Status)
		}
	}
	return nil
}

func checkOneRequestPerRecipient(_, _ State, pass PassTrace) error {
	seen := make(map[[2]string]bool)
	for _, d := range pass.Dispatches {
		key := [2]string{d.DocumentID, d.Recipient}
		if seen[key] {
			return fmt.Errorf("%s requested twice for %s", d.Recipient, d.DocumentID)
		}
		seen[key] = true
	}
	return nil
}

func checkDrainedRowsUntouched(before, after State, _ PassTrace) error {
	drained := make(map[int64]QueueState)
	for _, q := range before.Queue {
		if q.Queue == "" && store.ParseStatusLabel(q.Status) == approval.StatusSignatureStamped {
			drained[q.Index] = q
		}
	}
	for _, q := range after.Queue {
		if was, ok := drained[q.Index]; ok && was != q {
			return fmt.Errorf("queue_rows/%d was drained but changed", q.Index)
		}
	}
	return nil
}
