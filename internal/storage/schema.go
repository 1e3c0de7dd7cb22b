// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements creates every table used by C6 if it doesn't already
// exist. Columns added by later migrations are applied separately via
// addColumnIfMissing so re-running Open on an older database file is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS _meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		public_key TEXT NOT NULL UNIQUE,
		owner_email TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		email_verified INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_seen TEXT,
		created_at TEXT NOT NULL,
		approved_by TEXT,
		key_updated_at TEXT,
		recovery_initiated_at TEXT,
		pending_public_key TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS email_verifications (
		agent_name TEXT PRIMARY KEY REFERENCES agents(name),
		email TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		expires_at TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		agent_a TEXT NOT NULL,
		agent_b TEXT NOT NULL,
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		denial_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (agent_a, agent_b)
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		blocker TEXT NOT NULL,
		blocked TEXT NOT NULL,
		PRIMARY KEY (blocker, blocked)
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		window_start TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		members_can_invite INTEGER NOT NULL DEFAULT 0,
		members_can_send INTEGER NOT NULL DEFAULT 1,
		max_members INTEGER NOT NULL DEFAULT 50,
		created_at TEXT NOT NULL,
		dissolved_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS group_memberships (
		group_id TEXT NOT NULL REFERENCES groups(id),
		agent TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		invited_by TEXT,
		joined_at TEXT,
		left_at TEXT,
		PRIMARY KEY (group_id, agent)
	)`,
	`CREATE TABLE IF NOT EXISTS group_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL REFERENCES groups(id),
		kind TEXT NOT NULL,
		actor TEXT NOT NULL,
		target TEXT NOT NULL,
		at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS broadcasts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

// pragmas are applied on every connection, matching §5's single-writer
// SQLite-class persistence model.
var pragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = DELETE",
	"PRAGMA foreign_keys = ON",
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("storage: apply pragma %q: %w", p, err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create schema: %w", err)
		}
	}
	if err := addColumnIfMissing(ctx, db, "agents", "approved_by", "TEXT"); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO _meta(key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("storage: stamp schema version: %w", err)
	}
	return nil
}

// addColumnIfMissing runs an idempotent ADD COLUMN, swallowing the
// "duplicate column" error SQLite raises when it already exists — the
// catch-and-ignore discipline §6.3 calls for additive migrations.
func addColumnIfMissing(ctx context.Context, db *sql.DB, table, column, ddlType string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddlType))
	if err == nil {
		return nil
	}
	// mattn/go-sqlite3 reports "duplicate column name: x" for a
	// column that's already there; anything else is a real failure.
	if isDuplicateColumnErr(err) {
		return nil
	}
	return fmt.Errorf("storage: add column %s.%s: %w", table, column, err)
}

func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsFold(msg, "duplicate column")
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
