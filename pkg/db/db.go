package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database holds the handle to the audit database. The trail is append-mostly
// and low-rate, so one connection in WAL mode is enough; API reads go through
// the WAL without blocking engine writes.
type Database struct {
	DB *sql.DB
}

// New opens the audit database at path, creating the file and its directory
// on first run.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("audit database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// SQLite allows one writer at a time; funnel everything through one
	// connection so concurrent audit writes queue instead of hitting
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &Database{DB: db}, nil
}

// dsn enables WAL and a busy timeout so a reader holding the file briefly
// does not fail a write.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Close releases the underlying handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
