// Package store keeps classified events in SQLite and answers the cooldown
// question for the notification path.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the event store.
type DB struct {
	db *sql.DB
}

// Open opens the database at path, creating its directory and bringing the
// schema up to the current version.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The daemon and the CLI may share the file; one connection per process
	// keeps writes serialized.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// schema holds one entry per version. Version N is reached by applying
// schema[N-1]; applied steps are never edited.
var schema = []string{
	`CREATE TABLE events (
		id          TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		target      TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		severity    TEXT NOT NULL,
		source      TEXT NOT NULL,
		summary     TEXT NOT NULL,
		detail      TEXT,
		raw_line    TEXT,
		fields_json TEXT,
		notified    BOOLEAN DEFAULT FALSE
	);
	CREATE INDEX idx_events_instance_ts ON events(instance_id, timestamp);
	CREATE INDEX idx_events_kind ON events(kind, timestamp);`,
	`CREATE INDEX idx_events_cooldown ON events(instance_id, target, kind, timestamp);`,
}

// migrate applies pending schema steps, tracking progress in user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > len(schema) {
		return fmt.Errorf("database schema version %d is newer than this binary (%d)", version, len(schema))
	}

	for v := version; v < len(schema); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(schema[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying schema version %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		slog.Debug("applied schema version", "version", v+1)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// in SQL orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
