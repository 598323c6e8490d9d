package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// migration is a single versioned schema change.
type migration struct {
	version     int
	description string
	up          func(*sql.Tx) error
}

func allMigrations() []migration {
	return []migration{
		{
			version:     1,
			description: "Create secrets tables",
			up:          migrateCreateSecretsTables,
		},
	}
}

// migrate brings the schema up to the latest version, recording applied
// versions in schema_version.
func migrate(db *sql.DB, logger *logrus.Logger) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	migrations := allMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		logger.WithFields(logrus.Fields{
			"version":     m.version,
			"description": m.description,
		}).Info("Applied schema migration")
	}

	return nil
}

func migrateCreateSecretsTables(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS secrets (
			arn TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER,
			deleted_at INTEGER,
			scheduled_delete_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS secrets_versions (
			secret_arn TEXT NOT NULL REFERENCES secrets(arn) ON DELETE CASCADE,
			version_id TEXT NOT NULL,
			secret_string BLOB,
			secret_binary BLOB,
			created_at INTEGER NOT NULL,
			last_accessed_at INTEGER,
			PRIMARY KEY (secret_arn, version_id)
		)`,
		`CREATE TABLE IF NOT EXISTS secret_version_stages (
			secret_arn TEXT NOT NULL,
			version_id TEXT NOT NULL,
			label TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (secret_arn, version_id, label),
			UNIQUE (secret_arn, label),
			FOREIGN KEY (secret_arn, version_id)
				REFERENCES secrets_versions(secret_arn, version_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS secrets_tags (
			secret_arn TEXT NOT NULL REFERENCES secrets(arn) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER,
			PRIMARY KEY (secret_arn, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_name ON secrets(name)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_versions_lookup ON secrets_versions(secret_arn, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_tags_arn ON secrets_tags(secret_arn)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
