package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *sql.DB {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	return db
}

func TestConfigureDatabase(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := ConfigureDatabase(db); err != nil {
		t.Fatalf("Failed to configure database: %v", err)
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}

	expectedMigrations := len(GetMigrations())
	if count != expectedMigrations {
		t.Errorf("Expected %d migrations to be applied, got %d", expectedMigrations, count)
	}
}

func TestRunMigrationsCreatesTables(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	for _, table := range []string{"users", "settings", "messages", "tasks", "task_logs", "task_flows"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check for %s table: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Expected %s table to be created", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations first time: %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations second time (should be idempotent): %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}

	if count != len(GetMigrations()) {
		t.Errorf("Expected %d migrations after running twice, got %d", len(GetMigrations()), count)
	}
}

func TestCurrentVersion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("Failed to get current version: %v", err)
	}
	if version != 0 {
		t.Errorf("Expected initial version 0, got %d", version)
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	version, err = CurrentVersion(db)
	if err != nil {
		t.Fatalf("Failed to get current version after migration: %v", err)
	}

	last := GetMigrations()[len(GetMigrations())-1].Version
	if version != last {
		t.Errorf("Expected version %d after migration, got %d", last, version)
	}
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()

	if len(migrations) == 0 {
		t.Error("Expected at least one migration")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Error("Expected migrations to be ordered by version")
		}
	}

	for _, migration := range migrations {
		if migration.Version <= 0 {
			t.Errorf("Migration %s has invalid version %d", migration.Name, migration.Version)
		}
		if migration.Name == "" {
			t.Errorf("Migration %d has empty name", migration.Version)
		}
		if migration.SQL == "" {
			t.Errorf("Migration %s has empty SQL", migration.Name)
		}
	}
}

func TestOpen(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Failed to read pragma: %v", err)
	}
}
