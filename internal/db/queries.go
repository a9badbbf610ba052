package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// Folder is the index row for one published output folder.
// The manifest on disk is authoritative; this row exists for listing and lookup.
type Folder struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Command    string `json:"command"`
	Model      string `json:"model,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	PreviousID string `json:"previous_id,omitempty"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
	Turns      int    `json:"turns"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
	FinishedAt int64  `json:"finished_at"`
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status     string
	PreviousID string
	Limit      int
	Offset     int
}

const folderColumns = `id, status, command, model, session_id, previous_id,
	file_count, total_bytes, turns, duration_ms, created_at, finished_at`

// Insert records a newly published folder. A duplicate id is a WRITE_ONCE error.
func Insert(ctx context.Context, db *sql.DB, f *Folder) error {
	query := `INSERT INTO folders (` + folderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query, folderArgs(f)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewWriteOnce(f.ID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// Upsert inserts or replaces the row for f.ID. Used only when rebuilding the index from disk.
func Upsert(ctx context.Context, db *sql.DB, f *Folder) error {
	query := `INSERT OR REPLACE INTO folders (` + folderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, folderArgs(f)...); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func folderArgs(f *Folder) []any {
	return []any{
		f.ID, f.Status, f.Command, toNullString(f.Model), toNullString(f.SessionID),
		toNullString(f.PreviousID), f.FileCount, f.TotalBytes, f.Turns, f.DurationMS,
		f.CreatedAt, f.FinishedAt,
	}
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE/PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a folder row by its ULID.
func GetByID(ctx context.Context, db *sql.DB, id string) (*Folder, error) {
	row := db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

// List returns folder rows newest first, plus the total matching count.
func List(ctx context.Context, db *sql.DB, filter ListFilter) ([]Folder, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + folderColumns + ` FROM folders` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

func filterClause(filter ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PreviousID != "" {
		conds = append(conds, "previous_id = ?")
		args = append(args, filter.PreviousID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Latest returns the newest folder, optionally restricted to status.
// Returns nil, nil when the index is empty.
func Latest(ctx context.Context, db *sql.DB, status string) (*Folder, error) {
	folders, _, err := List(ctx, db, ListFilter{Status: status, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, nil
	}
	return &folders[0], nil
}

// Delete removes the index row for id.
func Delete(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// ListOlderThan returns ids of folders created before cutoff (unix seconds), oldest first.
func ListOlderThan(ctx context.Context, db *sql.DB, cutoff int64) ([]string, error) {
	return queryIDs(ctx, db, `SELECT id FROM folders WHERE created_at < ? ORDER BY created_at ASC, id ASC`, cutoff)
}

// ListIDs returns every indexed id in id order.
func ListIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryIDs(ctx, db, `SELECT id FROM folders ORDER BY id ASC`)
}

func queryIDs(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanFolder scans a single row into a Folder.
func scanFolder(row scanner) (*Folder, error) {
	var (
		f          Folder
		model      sql.NullString
		sessionID  sql.NullString
		previousID sql.NullString
	)
	err := row.Scan(
		&f.ID, &f.Status, &f.Command, &model, &sessionID, &previousID,
		&f.FileCount, &f.TotalBytes, &f.Turns, &f.DurationMS, &f.CreatedAt, &f.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Model = model.String
	f.SessionID = sessionID.String
	f.PreviousID = previousID.String
	return &f, nil
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
