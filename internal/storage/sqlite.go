package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/records"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	folder_id  TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	position INTEGER PRIMARY KEY,
	id       TEXT NOT NULL,
	data     TEXT NOT NULL
);
`

// SQLite stores records and history as JSON documents in a local database.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create database dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStorage, err, "open sqlite %s", path)
	}
	// one writer keeps the pure-Go driver away from SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errdef.Wrap(errdef.CodeStorage, err, "init sqlite %s", path)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) LoadAll(ctx context.Context) ([]records.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records ORDER BY created_at, id`)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStorage, err, "query records")
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errdef.Wrap(errdef.CodeStorage, err, "scan record")
		}
		var rec records.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errdef.Wrap(errdef.CodeStorage, err, "decode record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeStorage, err, "iterate records")
	}
	return out, nil
}

func (s *SQLite) Save(ctx context.Context, rec records.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "encode record %s", rec.ID)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO records (id, folder_id, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	folder_id = excluded.folder_id,
	data = excluded.data,
	updated_at = excluded.updated_at`,
		rec.ID, rec.FolderID, string(data), unixMilli(rec.CreatedAt), unixMilli(rec.UpdatedAt))
	if err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "save record %s", rec.ID)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "delete record %s", id)
	}
	return nil
}

func (s *SQLite) LoadHistory(ctx context.Context) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM history ORDER BY position`)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStorage, err, "query history")
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errdef.Wrap(errdef.CodeStorage, err, "scan history entry")
		}
		var entry history.Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, errdef.Wrap(errdef.CodeStorage, err, "decode history entry")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeStorage, err, "iterate history")
	}
	return out, nil
}

// SaveHistory replaces the stored list in one transaction.
func (s *SQLite) SaveHistory(ctx context.Context, entries []history.Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "begin history tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "clear history")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO history (position, id, data) VALUES (?, ?, ?)`)
	if err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "prepare history insert")
	}
	defer stmt.Close()

	for i, entry := range entries {
		data, mErr := json.Marshal(entry)
		if mErr != nil {
			err = errdef.Wrap(errdef.CodeStorage, mErr, "encode history entry %s", entry.ID)
			return err
		}
		if _, err = stmt.ExecContext(ctx, i, entry.ID, string(data)); err != nil {
			return errdef.Wrap(errdef.CodeStorage, err, "insert history entry %s", entry.ID)
		}
	}
	if err = tx.Commit(); err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "commit history")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
