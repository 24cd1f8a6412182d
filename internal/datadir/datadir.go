// Package datadir resolves where the bot keeps its files:
//
//	{root}/.env          environment overrides
//	{root}/prompts.yaml  optional text catalog override
//	{root}/data/         SQLite database
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the data directory under $HOME.
	DefaultDirName = ".secretary"

	// EnvVar overrides the data directory.
	EnvVar = "SECRETARY_DATA_DIR"

	// PromptsFile is picked up from the root when no prompts path is configured.
	PromptsFile = "prompts.yaml"

	databaseSubdir = "data"
)

// DataDir is a resolved data directory. The tree is created by EnsureDirs.
type DataDir struct {
	root string
}

// New resolves the root from SECRETARY_DATA_DIR, then the configured
// data_dir, then ~/.secretary.
func New(configured string) (*DataDir, error) {
	root := os.Getenv(EnvVar)
	if root == "" {
		root = configured
	}
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		root = filepath.Join(home, DefaultDirName)
	}
	return &DataDir{root: root}, nil
}

// Root returns the base directory.
func (d *DataDir) Root() string { return d.root }

// DatabaseDir returns {root}/data.
func (d *DataDir) DatabaseDir() string { return filepath.Join(d.root, databaseSubdir) }

// DatabasePath places a relative database path inside DatabaseDir. Absolute
// paths and ":memory:" are returned unchanged.
func (d *DataDir) DatabasePath(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.DatabaseDir(), path)
}

// PromptsPath resolves a relative catalog path against the root. With no
// path configured it returns {root}/prompts.yaml if that file exists, and
// "" (the built-in catalog) otherwise.
func (d *DataDir) PromptsPath(path string) string {
	if path == "" {
		candidate := filepath.Join(d.root, PromptsFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.root, path)
}

// EnsureDirs creates the root and the database directory with 0700
// permissions.
func (d *DataDir) EnsureDirs() error {
	for _, dir := range []string{d.root, d.DatabaseDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
