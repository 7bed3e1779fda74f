package approval

import (
	"fmt"
	"strings"
)

// Status is the canonical approval state of a document or queue row.
//
// The zero value is not a valid status; use StatusPending for "nothing has
// happened yet".
type Status int

const (
	// StatusPending means no approval request has been issued.
	StatusPending Status = iota + 1
	// StatusRequestingInitial means an initial stamp request is outstanding.
	StatusRequestingInitial
	// StatusInitialStamped means the initial stamp was applied.
	StatusInitialStamped
	// StatusRequestingSignature means a signature stamp request is outstanding.
	StatusRequestingSignature
	// StatusSignatureStamped means the signature was applied. Terminal.
	StatusSignatureStamped
	// StatusError records the most recent operation failure. It has no rank.
	StatusError
)

// Display labels as reported by the Document Service and persisted in rows.
const (
	LabelPending             = "Pending"
	LabelRequestingInitial   = "Requesting initial"
	LabelInitialStamped      = "INITIAL STAMPED"
	LabelRequestingSignature = "Requesting signature"
	LabelSignatureStamped    = "SIGNATURE STAMPED"
	LabelError               = "Error"
)

var statusNames = map[Status]string{
	StatusPending:             "PENDING",
	StatusRequestingInitial:   "REQUESTING_INITIAL",
	StatusInitialStamped:      "INITIAL_STAMPED",
	StatusRequestingSignature: "REQUESTING_SIGNATURE",
	StatusSignatureStamped:    "SIGNATURE_STAMPED",
	StatusError:               "ERROR",
}

var statusLabels = map[Status]string{
	StatusPending:             LabelPending,
	StatusRequestingInitial:   LabelRequestingInitial,
	StatusInitialStamped:      LabelInitialStamped,
	StatusRequestingSignature: LabelRequestingSignature,
	StatusSignatureStamped:    LabelSignatureStamped,
	StatusError:               LabelError,
}

// String returns the canonical upper-snake name, e.g. "INITIAL_STAMPED".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Label returns the display label used by the Document Service.
func (s Status) Label() string {
	return statusLabels[s]
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Rank returns the advancement rank of s, or -1 for StatusError and
// undeclared values.
func (s Status) Rank() int {
	if s >= StatusPending && s <= StatusSignatureStamped {
		return int(s)
	}
	return -1
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSignatureStamped
}

// MoreAdvancedThan reports whether s is strictly ahead of other.
// Always false when either side has no rank.
func (s Status) MoreAdvancedThan(other Status) bool {
	if s.Rank() < 0 || other.Rank() < 0 {
		return false
	}
	return s.Rank() > other.Rank()
}

// AtLeast reports whether s has reached target along the order.
func (s Status) AtLeast(target Status) bool {
	if s.Rank() < 0 || target.Rank() < 0 {
		return false
	}
	return s.Rank() >= target.Rank()
}

// Forward returns the more advanced of current and next. A ranked status is
// never replaced by a less advanced one; StatusError on either side yields
// next, because leaving or entering ERROR is always an explicit decision.
func Forward(current, next Status) Status {
	if current.Rank() < 0 || next.Rank() < 0 {
		return next
	}
	if next.Rank() > current.Rank() {
		return next
	}
	return current
}

// ParseStatus accepts canonical names ("REQUESTING_SIGNATURE") and display
// labels ("Requesting signature"), case-insensitively.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if key == "" {
		return 0, false
	}
	for st, name := range statusNames {
		if key == name || key == strings.ToUpper(statusLabels[st]) {
			return st, true
		}
	}
	return 0, false
}

// MarshalText encodes the canonical name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a canonical name or display label.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, ok := ParseStatus(string(text))
	if !ok {
		return fmt.Errorf("unknown status %q", string(text))
	}
	*s = parsed
	return nil
}

// Phase is one of the two approval steps.
type Phase int

const (
	// PhaseInitial is the first approval step.
	PhaseInitial Phase = iota + 1
	// PhaseSignature is the second approval step.
	PhaseSignature
)

// String returns "initial" or "signature".
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseSignature:
		return "signature"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Requesting returns the status entered when a request for p is issued.
func (p Phase) Requesting() Status {
	if p == PhaseInitial {
		return StatusRequestingInitial
	}
	return StatusRequestingSignature
}

// Completed returns the status that marks p as done.
func (p Phase) Completed() Status {
	if p == PhaseInitial {
		return StatusInitialStamped
	}
	return StatusSignatureStamped
}

// MarshalText encodes the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	if p != PhaseInitial && p != PhaseSignature {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase accepts "initial" or "signature".
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initial":
		return PhaseInitial, nil
	case "signature", "":
		return PhaseSignature, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}
