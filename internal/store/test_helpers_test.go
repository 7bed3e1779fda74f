package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// createTestQueueRecord creates a queue record with two batches.
func createTestQueueRecord(templateID string) QueueRecord {
	return QueueRecord{
		TemplateID:    templateID,
		Year:          2025,
		Count:         2,
		ControlNumber: "25-0002",
		QueueText:     "a@x.com,b@x.com;c@x.com",
		FileIDText:    "doc1;doc2",
		Status:        approval.LabelPending,
		LastUpdated:   testTime,
	}
}

// createTestDocumentRow creates a document row needing both phases.
func createTestDocumentRow(documentID string) approval.DocumentRow {
	return approval.DocumentRow{
		DocumentID:         documentID,
		FileName:           documentID + ".docx",
		Author:             "author@x.com",
		Status:             approval.StatusPending,
		NeedsInitial:       true,
		NeedsSignature:     true,
		InitialRecipient:   "a@x.com",
		SignatureRecipient: "b@x.com",
		LastUpdated:        testTime,
	}
}
