package approval

import (
	"slices"
	"time"
)

// StatusEvent is one entry of a document's status history as reported by the
// Document Service. Histories arrive unordered and may repeat recipients.
type StatusEvent struct {
	RecipientName  string    `json:"recipient_name" yaml:"name"`
	RecipientEmail string    `json:"recipient_email" yaml:"email"`
	Label          string    `json:"label" yaml:"label"`
	Timestamp      time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Batch is an ordered group of recipients bound to one document.
type Batch struct {
	Recipients []string `json:"recipients" yaml:"recipients"`
	DocumentID string   `json:"document_id" yaml:"document_id"`
}

// Active reports whether the batch still has recipients to process.
func (b Batch) Active() bool {
	return len(b.Recipients) > 0
}

// Clone returns a deep copy.
func (b Batch) Clone() Batch {
	return Batch{Recipients: slices.Clone(b.Recipients), DocumentID: b.DocumentID}
}

// QueueRow is one persisted template-submission record of the batch variant.
type QueueRow struct {
	Index         int64     `json:"index"`
	TemplateID    string    `json:"template_id"`
	Year          int       `json:"year"`
	Count         int       `json:"count"`
	ControlNumber string    `json:"control_number"`
	Fields        string    `json:"fields,omitempty"`
	Batches       []Batch   `json:"batches"`
	Dispatched    []string  `json:"dispatched"`
	Status        Status    `json:"status"`
	LastUpdated   time.Time `json:"last_updated"`
	LastError     string    `json:"last_error,omitempty"`
}

// Clone returns a deep copy so policies can mutate freely.
func (r QueueRow) Clone() QueueRow {
	out := r
	out.Batches = make([]Batch, len(r.Batches))
	for i, b := range r.Batches {
		out.Batches[i] = b.Clone()
	}
	out.Dispatched = slices.Clone(r.Dispatched)
	return out
}

// Drained reports whether every batch has completed.
func (r QueueRow) Drained() bool {
	for _, b := range r.Batches {
		if b.Active() {
			return false
		}
	}
	return true
}

// HasDispatched reports whether recipient is in the dispatched set.
func (r QueueRow) HasDispatched(recipient string) bool {
	return slices.Contains(r.Dispatched, recipient)
}

// ErrorKind classifies the failure recorded on a DocumentRow.
type ErrorKind string

const (
	// ErrorKindNone means the row carries no error.
	ErrorKindNone ErrorKind = ""
	// ErrorKindValidation is a failure that retrying cannot fix (bad id or
	// address). The row stays in ERROR until the data changes or an operator
	// retries it.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindService is a failure surfaced by the Document Service. The next
	// successful refresh moves the row forward again.
	ErrorKindService ErrorKind = "service"
)

// DocumentRow is one persisted document of the two-phase variant.
type DocumentRow struct {
	Index              int64     `json:"index"`
	DocumentID         string    `json:"document_id"`
	FileName           string    `json:"file_name"`
	Author             string    `json:"author"`
	Status             Status    `json:"status"`
	NeedsInitial       bool      `json:"needs_initial"`
	NeedsSignature     bool      `json:"needs_signature"`
	InitialRecipient   string    `json:"initial_recipient,omitempty"`
	SignatureRecipient string    `json:"signature_recipient,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
	LastError          string    `json:"last_error,omitempty"`
	ErrorKind          ErrorKind `json:"error_kind,omitempty"`
}

// Person is a directory record from the Document Service.
type Person struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Initials string `json:"initials"`
	Level    string `json:"level"`
	Division string `json:"division"`
}
