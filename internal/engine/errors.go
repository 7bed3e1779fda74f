package engine

import (
	"errors"
	"fmt"
)

// RunError is a row-level failure recorded in a RunReport.
//
// Row failures never abort a run: the driver records them and moves to the
// next row. The row itself carries the message in its LastError column.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// RunID identifies the run that recorded the error.
	RunID string `json:"run_id,omitempty"`

	// Table is "queue_rows" or "document_rows".
	Table string `json:"table,omitempty"`

	// Row is the persisted row index, 0 for run-level errors.
	Row int64 `json:"row,omitempty"`

	// DocumentID identifies the affected document, when known.
	DocumentID string `json:"document_id,omitempty"`
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeStatusQuery indicates the Document Service status query failed.
	ErrCodeStatusQuery RunErrorCode = "STATUS_QUERY"

	// ErrCodeDispatchFailed indicates a stamp request failed.
	ErrCodeDispatchFailed RunErrorCode = "DISPATCH_FAILED"

	// ErrCodeValidation indicates a malformed document id or recipient.
	ErrCodeValidation RunErrorCode = "VALIDATION"

	// ErrCodeBatchMismatch indicates the batch encoding could not be decoded.
	ErrCodeBatchMismatch RunErrorCode = "BATCH_MISMATCH"

	// ErrCodeLockTimeout indicates the store lock could not be acquired.
	ErrCodeLockTimeout RunErrorCode = "LOCK_TIMEOUT"

	// ErrCodeStore indicates a store read or write failed.
	ErrCodeStore RunErrorCode = "STORE"

	// ErrCodeDuplicateDispatch indicates a dispatch was refused because the
	// same recipient was already asked for the same document in this run.
	ErrCodeDuplicateDispatch RunErrorCode = "DUPLICATE_DISPATCH"

	// ErrCodePanic indicates a recovered panic.
	ErrCodePanic RunErrorCode = "PANIC"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	switch {
	case e.Row != 0 && e.DocumentID != "":
		return fmt.Sprintf("%s: %s (%s row=%d, document=%s)", e.Code, e.Message, e.Table, e.Row, e.DocumentID)
	case e.Row != 0:
		return fmt.Sprintf("%s: %s (%s row=%d)", e.Code, e.Message, e.Table, e.Row)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsDuplicateDispatch reports whether err is a duplicate dispatch refusal.
func IsDuplicateDispatch(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDuplicateDispatch
	}
	return false
}

// NewDuplicateDispatchError creates a RunError for a guarded dispatch.
func NewDuplicateDispatchError(runID, documentID, recipient string) *RunError {
	return &RunError{
		Code:       ErrCodeDuplicateDispatch,
		Message:    fmt.Sprintf("%s already asked to stamp in this run", recipient),
		RunID:      runID,
		DocumentID: documentID,
	}
}
