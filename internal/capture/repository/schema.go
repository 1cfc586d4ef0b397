package repository

import (
	"context"
	"fmt"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
)

// Timestamp columns differ per driver: modernc sqlite only scans DATETIME
// columns back into time.Time.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS evidence_sets (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		slot_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		committed_by TEXT NOT NULL DEFAULT '',
		committed_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT evidence_sets_slot_unique UNIQUE (tenant_id, slot_id)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence_photos (
		id          TEXT NOT NULL,
		evidence_id TEXT NOT NULL REFERENCES evidence_sets(id) ON DELETE CASCADE,
		tenant_id   TEXT NOT NULL,
		position    INTEGER NOT NULL,
		encoding    TEXT NOT NULL,
		width       INTEGER NOT NULL DEFAULT 0,
		height      INTEGER NOT NULL DEFAULT 0,
		source_name TEXT NOT NULL,
		size_bytes  BIGINT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		blob_key    TEXT NOT NULL,
		annotations TEXT NOT NULL DEFAULT '[]',
		status      TEXT NOT NULL DEFAULT 'pending',
		notes       TEXT,
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at TIMESTAMPTZ,
		PRIMARY KEY (evidence_id, id),
		CONSTRAINT evidence_photos_position_unique UNIQUE (evidence_id, position),
		CONSTRAINT evidence_photos_size_positive CHECK (size_bytes > 0),
		CONSTRAINT evidence_photos_status_valid CHECK (status IN ('pending', 'approved', 'rejected'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_photos_tenant ON evidence_photos (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS evidence_blobs (
		blob_key     TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data         BYTEA NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS evidence_sets (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		slot_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		committed_by TEXT NOT NULL DEFAULT '',
		committed_at DATETIME NOT NULL,
		CONSTRAINT evidence_sets_slot_unique UNIQUE (tenant_id, slot_id)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence_photos (
		id          TEXT NOT NULL,
		evidence_id TEXT NOT NULL REFERENCES evidence_sets(id) ON DELETE CASCADE,
		tenant_id   TEXT NOT NULL,
		position    INTEGER NOT NULL,
		encoding    TEXT NOT NULL,
		width       INTEGER NOT NULL DEFAULT 0,
		height      INTEGER NOT NULL DEFAULT 0,
		source_name TEXT NOT NULL,
		size_bytes  INTEGER NOT NULL CHECK (size_bytes > 0),
		captured_at DATETIME NOT NULL,
		blob_key    TEXT NOT NULL,
		annotations TEXT NOT NULL DEFAULT '[]',
		status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		notes       TEXT,
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at DATETIME,
		PRIMARY KEY (evidence_id, id),
		UNIQUE (evidence_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_photos_tenant ON evidence_photos (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS evidence_blobs (
		blob_key     TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data         BLOB NOT NULL,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// EnsureSchema creates the evidence tables for the connection's driver.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	stmts := postgresSchema
	if db.IsSQLite() {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create evidence schema: %w", err)
		}
	}
	return nil
}
