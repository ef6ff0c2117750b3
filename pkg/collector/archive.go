package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteArchive keeps every dumped entry in a SQLite table so collections
// survive rotation or deletion of the JSONL files.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLiteArchive opens (or creates) the archive database at path.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			messages TEXT NOT NULL,
			output TEXT NOT NULL,
			source TEXT NOT NULL,
			archived_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp);
		CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Store inserts entries in one transaction. Entries already archived are skipped.
func (a *SQLiteArchive) Store(ctx context.Context, source string, entries []Entry) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entries (id, timestamp, messages, output, source, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, entry := range entries {
		messages, err := json.Marshal(entry.Messages)
		if err != nil {
			return fmt.Errorf("failed to encode messages for %s: %w", entry.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Timestamp.Format(time.RFC3339Nano),
			string(messages),
			string(entry.Output),
			source,
			now,
		); err != nil {
			return fmt.Errorf("failed to archive entry %s: %w", entry.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of archived entries.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

// Sources returns the distinct collection files that fed the archive, oldest first.
func (a *SQLiteArchive) Sources(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT source FROM entries GROUP BY source ORDER BY MIN(archived_at), source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
