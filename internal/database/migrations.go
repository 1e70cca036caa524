package database

import (
	"database/sql"
	"log"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		display_name TEXT NOT NULL,
		account_id TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS engine_events (
		id SERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		listing_id BIGINT NOT NULL DEFAULT 0,
		session_id BIGINT NOT NULL DEFAULT 0,
		batch_id TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		units BIGINT NOT NULL DEFAULT 0,
		amount BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engine_events_listing ON engine_events (listing_id, id)`,
}

// Migrate applies the schema. Statements are idempotent so the server can
// run them on every start.
func Migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	log.Println("Database schema up to date")
	return nil
}
