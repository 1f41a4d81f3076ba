// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns all database migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create identities table",
			SQL: `CREATE TABLE IF NOT EXISTS identities (
				id UUID PRIMARY KEY,
				username VARCHAR(255) NOT NULL UNIQUE,
				roles JSONB NOT NULL DEFAULT '[]',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				locked BOOLEAN NOT NULL DEFAULT FALSE,
				failed_attempts INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     2,
			Description: "Create devices table",
			SQL: `CREATE TABLE IF NOT EXISTS devices (
				fingerprint VARCHAR(64) PRIMARY KEY,
				identity_id UUID NOT NULL REFERENCES identities(id),
				trust_score INT NOT NULL,
				trusted BOOLEAN NOT NULL DEFAULT FALSE,
				revoked BOOLEAN NOT NULL DEFAULT FALSE,
				first_seen TIMESTAMP NOT NULL DEFAULT NOW(),
				last_seen TIMESTAMP NOT NULL DEFAULT NOW(),
				access_count BIGINT NOT NULL DEFAULT 0
			)`,
		},
		{
			Version:     3,
			Description: "Create devices identity index",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_devices_identity ON devices(identity_id)`,
		},
		{
			Version:     4,
			Description: "Create sessions table",
			SQL: `CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY,
				identity_id UUID NOT NULL REFERENCES identities(id),
				device_id VARCHAR(64) NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				last_activity TIMESTAMP NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP NOT NULL,
				invalidated BOOLEAN NOT NULL DEFAULT FALSE,
				last_location JSONB
			)`,
		},
		{
			Version:     5,
			Description: "Create sessions identity index",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity_id)`,
		},
		{
			Version:     6,
			Description: "Create revoked_tokens table",
			SQL: `CREATE TABLE IF NOT EXISTS revoked_tokens (
				jti UUID PRIMARY KEY,
				expires_at TIMESTAMP NOT NULL,
				revoked_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     7,
			Description: "Create policy_snapshots table",
			SQL: `CREATE TABLE IF NOT EXISTS policy_snapshots (
				version VARCHAR(255) PRIMARY KEY,
				policies JSONB NOT NULL,
				loaded_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     8,
			Description: "Create audit_events table",
			SQL: `CREATE TABLE IF NOT EXISTS audit_events (
				id VARCHAR(26) PRIMARY KEY,
				timestamp TIMESTAMP NOT NULL,
				category VARCHAR(50) NOT NULL,
				severity VARCHAR(20) NOT NULL,
				identity_id VARCHAR(255),
				session_id VARCHAR(255),
				device_id VARCHAR(64),
				action VARCHAR(255) NOT NULL,
				resource VARCHAR(255),
				outcome VARCHAR(20) NOT NULL,
				detail JSONB,
				integrity_tag TEXT NOT NULL,
				prev_hash VARCHAR(64) NOT NULL,
				chain_hash VARCHAR(64) NOT NULL
			)`,
		},
		{
			Version:     9,
			Description: "Create audit_events indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_audit_identity_ts
				ON audit_events(identity_id, timestamp DESC)`,
		},
	}
}

// RunMigrations runs all pending database migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Ensure schema_migrations table exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	migrations := Migrations()
	for _, m := range migrations {
		// Check if migration already applied
		var exists bool
		err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}

		if exists {
			continue
		}

		// Apply migration
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		// Record migration
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// CurrentVersion returns the current schema version.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
