package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the full schema history, oldest first.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id VARCHAR(64) PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					external_id BIGINT,
					external_name VARCHAR(255) NOT NULL DEFAULT '',
					linked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_accounts_external_id ON accounts(external_id) WHERE external_id IS NOT NULL;
			`,
		},
		{
			Version:     2,
			Description: "Create account_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS account_roles (
					account_id VARCHAR(64) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					role VARCHAR(100) NOT NULL,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (account_id, role)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create invites table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invites (
					id UUID PRIMARY KEY,
					code VARCHAR(14) NOT NULL UNIQUE,
					external_id BIGINT NOT NULL,
					external_name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					consumed BOOLEAN NOT NULL DEFAULT FALSE,
					consumed_at TIMESTAMPTZ,
					consumed_by VARCHAR(64) REFERENCES accounts(id) ON DELETE SET NULL
				);

				CREATE INDEX idx_invites_external_id ON invites(external_id);
				CREATE INDEX idx_invites_expires_at ON invites(expires_at);
			`,
		},
	}
}

// Migrate applies any migrations not yet recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range Migrations() {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
