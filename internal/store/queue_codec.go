package store

import (
	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/batch"
)

// Decode converts rec into a QueueRow, parsing its batch columns with codec.
// An undecodable batch encoding returns *approval.BatchCountMismatchError.
func (rec QueueRecord) Decode(codec batch.Codec) (approval.QueueRow, error) {
	batches, err := codec.Parse(rec.QueueText, rec.FileIDText)
	if err != nil {
		return approval.QueueRow{}, err
	}
	return approval.QueueRow{
		Index:         rec.Index,
		TemplateID:    rec.TemplateID,
		Year:          rec.Year,
		Count:         rec.Count,
		ControlNumber: rec.ControlNumber,
		Fields:        rec.Fields,
		Batches:       batches,
		Dispatched:    codec.ParseSet(rec.Dispatched),
		Status:        ParseStatusLabel(rec.Status),
		LastUpdated:   rec.LastUpdated,
		LastError:     rec.LastError,
	}, nil
}

// EncodeQueue converts row into a record. A drained row encodes to empty
// batch and dispatched columns.
func EncodeQueue(row approval.QueueRow, codec batch.Codec) QueueRecord {
	queueText, fileIDText := codec.Serialize(row.Batches)
	dispatched := codec.FormatSet(row.Dispatched)
	if row.Drained() {
		dispatched = ""
	}
	return QueueRecord{
		Index:         row.Index,
		TemplateID:    row.TemplateID,
		Year:          row.Year,
		Count:         row.Count,
		ControlNumber: row.ControlNumber,
		Fields:        row.Fields,
		QueueText:     queueText,
		FileIDText:    fileIDText,
		Dispatched:    dispatched,
		Status:        statusLabel(row.Status),
		LastUpdated:   row.LastUpdated,
		LastError:     row.LastError,
	}
}
