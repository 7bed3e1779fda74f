package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// DocumentTable reads and writes document_rows.
type DocumentTable struct {
	db *sql.DB
}

const documentColumns = `idx, document_id, file_name, author, status, needs_initial,
	needs_signature, initial_recipient, signature_recipient, last_updated_ms,
	last_error, error_kind`

// ReadAll returns every row in index order.
// Returns an empty slice (not nil) for an empty table.
func (t *DocumentTable) ReadAll(ctx context.Context) ([]approval.DocumentRow, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM document_rows ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query document rows: %w", err)
	}
	defer rows.Close()

	out := []approval.DocumentRow{}
	for rows.Next() {
		row, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return out, nil
}

// ReadRow returns the row at index.
func (t *DocumentTable) ReadRow(ctx context.Context, index int64) (approval.DocumentRow, error) {
	r := t.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM document_rows WHERE idx = ?`, index)
	row, err := scanDocument(r)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.DocumentRow{}, fmt.Errorf("read document row %d: %w", index, ErrRowNotFound)
	}
	return row, err
}

// FindByDocumentID returns the row tracking documentID, if any.
func (t *DocumentTable) FindByDocumentID(ctx context.Context, documentID string) (approval.DocumentRow, bool, error) {
	r := t.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM document_rows WHERE document_id = ?`, documentID)
	row, err := scanDocument(r)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.DocumentRow{}, false, nil
	}
	if err != nil {
		return approval.DocumentRow{}, false, err
	}
	return row, true, nil
}

// WriteRow replaces the row at index. row.Index is ignored.
func (t *DocumentTable) WriteRow(ctx context.Context, index int64, row approval.DocumentRow) error {
	return execOne(ctx, t.db, fmt.Sprintf("write document row %d", index), `
		UPDATE document_rows SET
			document_id = ?, file_name = ?, author = ?, status = ?, needs_initial = ?,
			needs_signature = ?, initial_recipient = ?, signature_recipient = ?,
			last_updated_ms = ?, last_error = ?, error_kind = ?
		WHERE idx = ?
	`,
		row.DocumentID, row.FileName, row.Author, statusLabel(row.Status), row.NeedsInitial,
		row.NeedsSignature, row.InitialRecipient, row.SignatureRecipient,
		toMillis(row.LastUpdated), row.LastError, string(row.ErrorKind),
		index,
	)
}

// AppendRow inserts row and returns its index. row.Index is ignored.
func (t *DocumentTable) AppendRow(ctx context.Context, row approval.DocumentRow) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO document_rows
		(document_id, file_name, author, status, needs_initial, needs_signature,
		 initial_recipient, signature_recipient, last_updated_ms, last_error, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.DocumentID, row.FileName, row.Author, statusLabel(row.Status), row.NeedsInitial,
		row.NeedsSignature, row.InitialRecipient, row.SignatureRecipient,
		toMillis(row.LastUpdated), row.LastError, string(row.ErrorKind),
	)
	if err != nil {
		return 0, fmt.Errorf("append document row: %w", err)
	}
	idx, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append document row: %w", err)
	}
	return idx, nil
}

// DeleteRow removes the row at index.
func (t *DocumentTable) DeleteRow(ctx context.Context, index int64) error {
	return execOne(ctx, t.db, fmt.Sprintf("delete document row %d", index),
		`DELETE FROM document_rows WHERE idx = ?`, index)
}

func scanDocument(s scanner) (approval.DocumentRow, error) {
	var (
		row    approval.DocumentRow
		status string
		kind   string
		ms     int64
	)
	err := s.Scan(
		&row.Index, &row.DocumentID, &row.FileName, &row.Author, &status, &row.NeedsInitial,
		&row.NeedsSignature, &row.InitialRecipient, &row.SignatureRecipient, &ms,
		&row.LastError, &kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.DocumentRow{}, err
	}
	if err != nil {
		return approval.DocumentRow{}, fmt.Errorf("scan document row: %w", err)
	}
	row.Status = ParseStatusLabel(status)
	row.ErrorKind = approval.ErrorKind(kind)
	row.LastUpdated = fromMillis(ms)
	return row, nil
}

// ParseStatusLabel reads a persisted status. Unknown or blank text is
// PENDING, matching a freshly tracked row.
func ParseStatusLabel(s string) approval.Status {
	if st, ok := approval.ParseStatus(s); ok {
		return st
	}
	return approval.StatusPending
}

func statusLabel(s approval.Status) string {
	if !s.Valid() {
		return approval.LabelPending
	}
	return s.Label()
}
