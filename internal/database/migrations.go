package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns all available migrations in order.
// Timestamps are stored as fixed-width UTC text so that range filters can use
// plain string comparison.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users_and_settings",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					line_id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					department TEXT NOT NULL DEFAULT '',
					title TEXT NOT NULL DEFAULT '',
					join_date TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS settings (
					user_id TEXT PRIMARY KEY,
					notification_enabled BOOLEAN NOT NULL DEFAULT 1,
					language TEXT NOT NULL DEFAULT 'zh-TW',
					updated_at TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_users_department ON users (department);
			`,
		},
		{
			Version: 2,
			Name:    "create_messages",
			SQL: `
				CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					group_id TEXT NOT NULL DEFAULT '',
					message_type TEXT NOT NULL DEFAULT 'text',
					content TEXT NOT NULL,
					response TEXT NOT NULL DEFAULT '',
					timestamp TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					context TEXT NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages (user_id);
				CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp);
			`,
		},
		{
			Version: 3,
			Name:    "create_tasks",
			SQL: `
				CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					assignee TEXT NOT NULL DEFAULT '',
					department TEXT NOT NULL DEFAULT '',
					due_date TEXT,
					priority TEXT NOT NULL DEFAULT 'medium',
					status TEXT NOT NULL DEFAULT 'pending',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS task_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					task_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					action TEXT NOT NULL,
					timestamp TEXT NOT NULL,
					FOREIGN KEY (task_id) REFERENCES tasks (id)
				);

				CREATE TABLE IF NOT EXISTS task_flows (
					task_id TEXT NOT NULL,
					step_number INTEGER NOT NULL,
					department TEXT NOT NULL DEFAULT '',
					handler_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					created_at TEXT NOT NULL,
					PRIMARY KEY (task_id, step_number),
					FOREIGN KEY (task_id) REFERENCES tasks (id)
				);

				CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
				CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks (assignee);
				CREATE INDEX IF NOT EXISTS idx_tasks_department ON tasks (department);
				CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);
				CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs (task_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue // Already applied
		}

		if err := runMigration(db, migration); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	return nil
}

// CurrentVersion returns the highest applied migration version.
func CurrentVersion(db *sql.DB) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}
	return getCurrentVersion(db)
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration inside a transaction
func runMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version, migration.Name,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ConfigureDatabase applies SQLite optimizations and runs migrations
func ConfigureDatabase(db *sql.DB) error {
	// SQLite serializes writes; WAL lets a few readers proceed concurrently.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma '%s': %w", pragma, err)
		}
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open opens a SQLite database at path and brings its schema up to date.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ConfigureDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return db, nil
}
