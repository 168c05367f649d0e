package storage

import (
	"database/sql"
	"fmt"
)

// migration is one ordered schema change
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_runs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				source TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				failed_at TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				events INTEGER NOT NULL DEFAULT 0,
				findings INTEGER NOT NULL DEFAULT 0,
				risks INTEGER NOT NULL DEFAULT 0,
				commands INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				finished_at TEXT NOT NULL,
				report TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		},
	},
	{
		version: 2,
		name:    "create_findings",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS findings (
				run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				seq INTEGER NOT NULL,
				rule_name TEXT NOT NULL,
				severity TEXT NOT NULL,
				entity TEXT NOT NULL DEFAULT '',
				details TEXT NOT NULL,
				observed_at TEXT NOT NULL,
				PRIMARY KEY (run_id, seq)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_rule ON findings(rule_name)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_entity ON findings(entity)`,
		},
	},
}

// migrate applies every migration newer than the recorded schema version
func (s *SQLite) migrate() error {
	if _, err := s.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.DB.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		s.Logger.Infow("Applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *SQLite) apply(m migration) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration
func (s *SQLite) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := s.DB.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
