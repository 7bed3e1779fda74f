package status

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Canonicalize reduces a status history to one status.
//
// With a non-empty recipient only that recipient's events are considered and
// a recipient absent from the history is PENDING. With an empty recipient the
// whole history is aggregated.
//
// Precedence:
//  1. any "SIGNATURE STAMPED" label, then any "INITIAL STAMPED" label
//  2. request labels: "request"+"initial" is REQUESTING_INITIAL, any other
//     "signature" or "request" label is REQUESTING_SIGNATURE (the higher wins)
//  3. the latest non-empty label through the label table
//  4. PENDING
func Canonicalize(events []approval.StatusEvent, recipient string) approval.Status {
	considered := filter(events, recipient)
	if len(considered) == 0 {
		return approval.StatusPending
	}

	var initialStamped bool
	for _, ev := range considered {
		switch normalizeLabel(ev.Label) {
		case approval.LabelSignatureStamped:
			return approval.StatusSignatureStamped
		case approval.LabelInitialStamped:
			initialStamped = true
		}
	}
	if initialStamped {
		return approval.StatusInitialStamped
	}

	requesting := approval.Status(0)
	for _, ev := range considered {
		if st, ok := requestStatus(ev.Label); ok {
			requesting = approval.Forward(requesting, st)
		}
	}
	if requesting.Valid() {
		return requesting
	}

	if st, ok := approval.ParseStatus(latestLabel(considered)); ok {
		return st
	}
	return approval.StatusPending
}

// Matches reports whether ev belongs to recipient: exact email, exact name,
// or equal email after NFC normalization and case folding.
func Matches(ev approval.StatusEvent, recipient string) bool {
	want := strings.TrimSpace(recipient)
	if want == "" {
		return false
	}
	email := strings.TrimSpace(ev.RecipientEmail)
	if email == want || strings.TrimSpace(ev.RecipientName) == want {
		return true
	}
	if email == "" || !strings.Contains(want, "@") {
		return false
	}
	return Fold(email) == Fold(want)
}

// Fold returns the comparison key for an email address.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

func filter(events []approval.StatusEvent, recipient string) []approval.StatusEvent {
	if strings.TrimSpace(recipient) == "" {
		return events
	}
	var out []approval.StatusEvent
	for _, ev := range events {
		if Matches(ev, recipient) {
			out = append(out, ev)
		}
	}
	return out
}

// normalizeLabel collapses whitespace and upper-cases completed labels so
// "signature  stamped" and "SIGNATURE STAMPED" compare equal.
func normalizeLabel(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), " "))
}

func requestStatus(label string) (approval.Status, bool) {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "request") && strings.Contains(lower, "initial"):
		return approval.StatusRequestingInitial, true
	case strings.Contains(lower, "signature"), strings.Contains(lower, "request"):
		return approval.StatusRequestingSignature, true
	default:
		return 0, false
	}
}

// latestLabel returns the non-empty label with the latest timestamp. Later
// positions win ties, so untimestamped histories resolve to the last entry.
func latestLabel(events []approval.StatusEvent) string {
	var (
		label string
		best  = -1
	)
	for i, ev := range events {
		if strings.TrimSpace(ev.Label) == "" {
			continue
		}
		if best < 0 || !ev.Timestamp.Before(events[best].Timestamp) {
			best = i
			label = ev.Label
		}
	}
	return label
}
