package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps one account's SQLite database plus its blob directory. Reads
// may proceed concurrently; callers serialize writes per account.
type DB struct {
	*sql.DB
	blobDir string
}

// Open creates a SQLite connection with WAL mode and recommended pragmas
// and ensures the account's blob directory exists next to the database.
func Open(path string) (*DB, error) {
	blobDir := filepath.Join(filepath.Dir(path), "blobs")
	if err := os.MkdirAll(blobDir, 0700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, blobDir: blobDir}, nil
}

// BlobDir returns the account's attachment directory.
func (db *DB) BlobDir() string {
	return db.blobDir
}
