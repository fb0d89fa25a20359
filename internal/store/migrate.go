package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the full DDL for the attendance core. Statements are idempotent
// so startup can run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id          TEXT PRIMARY KEY,
		name        TEXT,
		fingerprint TEXT NOT NULL UNIQUE,
		photo       BYTEA,
		photo_url   TEXT,
		enrolled_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_entries (
		identity_id  TEXT NOT NULL REFERENCES identities (id),
		day          DATE NOT NULL,
		outcome      TEXT NOT NULL,
		leave_reason TEXT,
		method       TEXT NOT NULL,
		committed_by TEXT NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (identity_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_audit (
		id           TEXT PRIMARY KEY,
		identity_id  TEXT NOT NULL,
		day          DATE NOT NULL,
		outcome      TEXT NOT NULL,
		method       TEXT NOT NULL,
		committed_by TEXT NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		device_id  TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
