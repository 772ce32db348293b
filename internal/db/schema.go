package db

import (
	"context"
	"fmt"
	"strings"
)

// Users are owned by the identity service; the table is created here only so
// a fresh database can serve lookups.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	room_type TEXT NOT NULL DEFAULT 'direct',
	created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS rooms_updated_at_idx ON rooms (updated_at DESC);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at DESC);
`

func (d *DB) Migrate(ctx context.Context) error {
	query := schema
	if d.Driver == DriverPostgres {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "INTEGER NOT NULL REFERENCES", "BIGINT NOT NULL REFERENCES")
		query = strings.ReplaceAll(query, "INTEGER REFERENCES", "BIGINT REFERENCES")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMPTZ")
	}

	// one statement per Exec keeps both drivers happy
	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
