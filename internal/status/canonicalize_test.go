package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

func ev(name, email, label string) approval.StatusEvent {
	return approval.StatusEvent{RecipientName: name, RecipientEmail: email, Label: label}
}

// ============================================================================
// Aggregate mode
// ============================================================================

func TestCanonicalize_Empty(t *testing.T) {
	assert.Equal(t, approval.StatusPending, Canonicalize(nil, ""))
	assert.Equal(t, approval.StatusPending, Canonicalize(nil, "a@x.com"))
}

func TestCanonicalize_CompletedPrecedenceAnyOrder(t *testing.T) {
	history := []approval.StatusEvent{
		ev("A", "a@x.com", "Requesting signature"),
		ev("B", "b@x.com", "INITIAL STAMPED"),
		ev("C", "c@x.com", "SIGNATURE STAMPED"),
		ev("D", "d@x.com", "Pending"),
	}

	// Every rotation of the history yields the same status.
	for shift := range history {
		rotated := append(append([]approval.StatusEvent{}, history[shift:]...), history[:shift]...)
		assert.Equal(t, approval.StatusSignatureStamped, Canonicalize(rotated, ""), "shift %d", shift)
	}
}

func TestCanonicalize_InitialStampedBeatsRequests(t *testing.T) {
	history := []approval.StatusEvent{
		ev("A", "a@x.com", "Requesting signature"),
		ev("B", "b@x.com", "initial  stamped"),
	}
	assert.Equal(t, approval.StatusInitialStamped, Canonicalize(history, ""))
}

func TestCanonicalize_RequestLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   approval.Status
	}{
		{"initial request", []string{"Requesting initial"}, approval.StatusRequestingInitial},
		{"signature request", []string{"Requesting signature"}, approval.StatusRequestingSignature},
		{"bare request", []string{"REQUEST SENT"}, approval.StatusRequestingSignature},
		{"signature mention", []string{"awaiting signature"}, approval.StatusRequestingSignature},
		{"signature outranks initial", []string{"Requesting signature", "Requesting initial"}, approval.StatusRequestingSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []approval.StatusEvent
			for _, l := range tt.labels {
				history = append(history, ev("", "", l))
			}
			assert.Equal(t, tt.want, Canonicalize(history, ""))
		})
	}
}

func TestCanonicalize_LatestLabelFallback(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	history := []approval.StatusEvent{
		{Label: "Error", Timestamp: t0.Add(time.Hour)},
		{Label: "Pending", Timestamp: t0},
	}
	assert.Equal(t, approval.StatusError, Canonicalize(history, ""))

	// Without timestamps the later position wins.
	history = []approval.StatusEvent{{Label: "Error"}, {Label: "Pending"}}
	assert.Equal(t, approval.StatusPending, Canonicalize(history, ""))
}

func TestCanonicalize_UnknownLabelIsPending(t *testing.T) {
	assert.Equal(t, approval.StatusPending, Canonicalize([]approval.StatusEvent{{Label: "???"}}, ""))
	assert.Equal(t, approval.StatusPending, Canonicalize([]approval.StatusEvent{{RecipientEmail: "a@x.com"}}, ""))
}

func TestCanonicalize_Idempotent(t *testing.T) {
	history := []approval.StatusEvent{
		ev("A", "a@x.com", "Requesting initial"),
		ev("B", "b@x.com", "Pending"),
	}
	first := Canonicalize(history, "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Canonicalize(history, ""))
	}
}

// ============================================================================
// Recipient mode
// ============================================================================

func TestCanonicalize_RecipientScoped(t *testing.T) {
	history := []approval.StatusEvent{
		ev("Alice", "a@x.com", "SIGNATURE STAMPED"),
		ev("Bob", "b@x.com", "Requesting signature"),
	}

	assert.Equal(t, approval.StatusSignatureStamped, Canonicalize(history, "a@x.com"))
	assert.Equal(t, approval.StatusRequestingSignature, Canonicalize(history, "b@x.com"))
	assert.Equal(t, approval.StatusPending, Canonicalize(history, "c@x.com"))
}

func TestCanonicalize_RecipientMatching(t *testing.T) {
	history := []approval.StatusEvent{ev("Alice Reyes", "Alice.Reyes@Agency.gov", "Requesting signature")}

	assert.Equal(t, approval.StatusRequestingSignature, Canonicalize(history, "Alice.Reyes@Agency.gov"), "exact email")
	assert.Equal(t, approval.StatusRequestingSignature, Canonicalize(history, "Alice Reyes"), "exact name")
	assert.Equal(t, approval.StatusRequestingSignature, Canonicalize(history, "alice.reyes@agency.gov"), "folded email")
	assert.Equal(t, approval.StatusPending, Canonicalize(history, "alice reyes"), "names are not folded")
}

func TestCanonicalize_NFCEmailMatch(t *testing.T) {
	// Precomposed "\u00e9" versus "e" followed by a combining acute accent.
	history := []approval.StatusEvent{ev("", "jos\u00e9@x.com", "INITIAL STAMPED")}
	assert.Equal(t, approval.StatusInitialStamped, Canonicalize(history, "JOSE\u0301@x.com"))
}
