package database

import (
	"database/sql"
	"fmt"
)

// Migration represents one step of schema evolution.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are embedded in the binary and applied in order. The schema is
// small enough that file-based migration loading would only add deployment
// surface.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial schema: users, classes, rosters, attendance records",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id    TEXT PRIMARY KEY,
				name  TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				role  TEXT NOT NULL CHECK (role IN ('teacher', 'student'))
			);

			CREATE TABLE IF NOT EXISTS classes (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				teacher_id TEXT NOT NULL REFERENCES users(id)
			);

			CREATE TABLE IF NOT EXISTS class_students (
				class_id   TEXT NOT NULL REFERENCES classes(id),
				student_id TEXT NOT NULL REFERENCES users(id),
				position   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (class_id, student_id)
			);

			CREATE TABLE IF NOT EXISTS attendance_records (
				class_id   TEXT NOT NULL REFERENCES classes(id),
				student_id TEXT NOT NULL REFERENCES users(id),
				status     TEXT NOT NULL CHECK (status IN ('present', 'absent')),
				marked_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (class_id, student_id)
			);

			CREATE INDEX IF NOT EXISTS idx_classes_teacher ON classes(teacher_id);
			CREATE INDEX IF NOT EXISTS idx_class_students_student ON class_students(student_id);
			CREATE INDEX IF NOT EXISTS idx_attendance_class ON attendance_records(class_id);
		`,
	},
}

// MigrationManager applies embedded migrations and tracks applied versions.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations. Each migration runs in its
// own transaction together with its version bookkeeping, so a failed
// migration leaves no partial state.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
