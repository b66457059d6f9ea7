package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 2

func initializeSchemaWithMigrations(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", v, err)
		}
		if err := setSchemaVersion(db, v); err != nil {
			return err
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 records which outer iteration each turn belongs to.
func migrateToVersion2(db *sql.DB) error {
	stmts := []string{
		"ALTER TABLE turns ADD COLUMN iteration INTEGER NOT NULL DEFAULT 1",
		"CREATE INDEX IF NOT EXISTS idx_turns_run_iteration ON turns(run_id, iteration)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", stmt, err)
		}
	}
	return nil
}

func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running'
				CHECK (status IN ('running','completed','stopped','failed')),
			iterations INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 1,
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			text TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		"CREATE INDEX IF NOT EXISTS idx_turns_run ON turns(run_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_turns_run_iteration ON turns(run_id, iteration)",
		"CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries(category)",
	}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

// GetSchemaVersion returns the applied schema version, or 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to update schema version to %d: %w", version, err)
	}
	return nil
}
