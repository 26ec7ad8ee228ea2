// Package localdb owns the client-local SQLite file that backs roster and
// queue state when no shared workspace is active.
package localdb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS roster (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	faction TEXT NOT NULL,
	travel_times TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queues (
	target TEXT NOT NULL,
	kind TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (target, kind)
);
`

// Open opens (or creates) the local database and applies the schema.
// Use ":memory:" for throwaway state in tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	// modernc sqlite serializes access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply local schema: %w", err)
	}
	return db, nil
}
