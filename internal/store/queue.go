package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// QueueRecord is a persisted queue row. Recipient batches stay in their text
// encoding; package batch decodes them.
type QueueRecord struct {
	Index         int64
	TemplateID    string
	Year          int
	Count         int
	ControlNumber string
	Fields        string
	QueueText     string
	FileIDText    string
	Dispatched    string
	Status        string
	LastUpdated   time.Time
	LastError     string
}

// QueueTable reads and writes queue_rows.
type QueueTable struct {
	db *sql.DB
}

const queueColumns = `idx, template_id, year, count, control_number, fields,
	queue_text, file_id_text, dispatched_text, status, last_updated_ms, last_error`

// ReadAll returns every row in index order.
// Returns an empty slice (not nil) for an empty table.
func (t *QueueTable) ReadAll(ctx context.Context) ([]QueueRecord, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+queueColumns+` FROM queue_rows ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query queue rows: %w", err)
	}
	defer rows.Close()

	records := []QueueRecord{}
	for rows.Next() {
		rec, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return records, nil
}

// ReadRow returns the row at index.
func (t *QueueTable) ReadRow(ctx context.Context, index int64) (QueueRecord, error) {
	row := t.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_rows WHERE idx = ?`, index)
	rec, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRecord{}, fmt.Errorf("read queue row %d: %w", index, ErrRowNotFound)
	}
	return rec, err
}

// FindByTemplate returns the row for (templateID, year), if any.
func (t *QueueTable) FindByTemplate(ctx context.Context, templateID string, year int) (QueueRecord, bool, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM queue_rows
		WHERE template_id = ? AND year = ?
		ORDER BY idx ASC LIMIT 1
	`, templateID, year)
	rec, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRecord{}, false, nil
	}
	if err != nil {
		return QueueRecord{}, false, err
	}
	return rec, true, nil
}

// WriteRow replaces the row at index. rec.Index is ignored.
func (t *QueueTable) WriteRow(ctx context.Context, index int64, rec QueueRecord) error {
	return execOne(ctx, t.db, fmt.Sprintf("write queue row %d", index), `
		UPDATE queue_rows SET
			template_id = ?, year = ?, count = ?, control_number = ?, fields = ?,
			queue_text = ?, file_id_text = ?, dispatched_text = ?, status = ?,
			last_updated_ms = ?, last_error = ?
		WHERE idx = ?
	`,
		rec.TemplateID, rec.Year, rec.Count, rec.ControlNumber, rec.Fields,
		rec.QueueText, rec.FileIDText, rec.Dispatched, statusOrPending(rec.Status),
		toMillis(rec.LastUpdated), rec.LastError,
		index,
	)
}

// AppendRow inserts rec and returns its index. rec.Index is ignored.
func (t *QueueTable) AppendRow(ctx context.Context, rec QueueRecord) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO queue_rows
		(template_id, year, count, control_number, fields, queue_text, file_id_text,
		 dispatched_text, status, last_updated_ms, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TemplateID, rec.Year, rec.Count, rec.ControlNumber, rec.Fields,
		rec.QueueText, rec.FileIDText, rec.Dispatched, statusOrPending(rec.Status),
		toMillis(rec.LastUpdated), rec.LastError,
	)
	if err != nil {
		return 0, fmt.Errorf("append queue row: %w", err)
	}
	idx, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append queue row: %w", err)
	}
	return idx, nil
}

// DeleteRow removes the row at index.
func (t *QueueTable) DeleteRow(ctx context.Context, index int64) error {
	return execOne(ctx, t.db, fmt.Sprintf("delete queue row %d", index),
		`DELETE FROM queue_rows WHERE idx = ?`, index)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueue(s scanner) (QueueRecord, error) {
	var (
		rec QueueRecord
		ms  int64
	)
	err := s.Scan(
		&rec.Index, &rec.TemplateID, &rec.Year, &rec.Count, &rec.ControlNumber, &rec.Fields,
		&rec.QueueText, &rec.FileIDText, &rec.Dispatched, &rec.Status, &ms, &rec.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRecord{}, err
	}
	if err != nil {
		return QueueRecord{}, fmt.Errorf("scan queue row: %w", err)
	}
	rec.LastUpdated = fromMillis(ms)
	return rec, nil
}

func statusOrPending(s string) string {
	if s == "" {
		return "Pending"
	}
	return s
}
