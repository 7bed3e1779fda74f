package approval

import (
	"errors"
	"fmt"
)

// DocumentProcessingError is the base error for a failed operation against
// the Document Service. It carries the associated document identifier.
type DocumentProcessingError struct {
	// DocumentID identifies the affected document.
	DocumentID string

	// Op names the failed operation, e.g. "request status".
	Op string

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *DocumentProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document %s: %s: %v", e.DocumentID, e.Op, e.Err)
	}
	return fmt.Sprintf("document %s: %s failed", e.DocumentID, e.Op)
}

// Unwrap returns the underlying cause.
func (e *DocumentProcessingError) Unwrap() error {
	return e.Err
}

// DocumentRef returns the affected document identifier.
func (e *DocumentProcessingError) DocumentRef() string {
	return e.DocumentID
}

// DocumentNotFoundError means the Document Service has no status history for
// an identifier the engine knows about.
type DocumentNotFoundError struct {
	DocumentID string
}

// Error implements the error interface.
func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %s: not found", e.DocumentID)
}

// DocumentRef returns the affected document identifier.
func (e *DocumentNotFoundError) DocumentRef() string {
	return e.DocumentID
}

// BatchCountMismatchError means the recipient and identifier encodings of a
// queue row could not be reconciled. The row must be skipped, not repaired.
type BatchCountMismatchError struct {
	Batches     int
	Identifiers int
}

// Error implements the error interface.
func (e *BatchCountMismatchError) Error() string {
	return fmt.Sprintf("batch count mismatch: %d recipient batches, %d identifier groups", e.Batches, e.Identifiers)
}

// ValidationError rejects malformed input before any external call.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// documentError is implemented by every Document Service failure type.
type documentError interface {
	error
	DocumentRef() string
}

// DocumentIDOf returns the document identifier carried by a Document Service
// failure anywhere in err's chain.
func DocumentIDOf(err error) (string, bool) {
	var de documentError
	if errors.As(err, &de) {
		return de.DocumentRef(), true
	}
	return "", false
}

// IsNotFound returns true if err is a DocumentNotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *DocumentNotFoundError
	return errors.As(err, &nf)
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsBatchCountMismatch returns true if err is a BatchCountMismatchError.
func IsBatchCountMismatch(err error) bool {
	var bm *BatchCountMismatchError
	return errors.As(err, &bm)
}

// KindOf classifies err for persistence on a DocumentRow.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case IsValidation(err):
		return ErrorKindValidation
	default:
		return ErrorKindService
	}
}
