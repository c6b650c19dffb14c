package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultName is used when the export path names a directory.
const DefaultName = "sprintreport.db"

type Config struct {
	// Path is the database file; a directory gets DefaultName inside it.
	Path string
}

func dbPath(p string) string {
	if p == "" {
		return DefaultName
	}
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return filepath.Join(p, DefaultName)
	}
	return p
}

// Open opens the SQLite export database with foreign keys on, creating its
// parent directory if missing.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the scheduler and the API may export concurrently.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the resolved database file for cfg.
func Path(cfg Config) string {
	return dbPath(cfg.Path)
}
