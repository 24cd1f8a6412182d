package datadir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileVar names a single .env file to load instead of the search path.
const EnvFileVar = "SECRETARY_ENV_FILE"

// LoadEnv loads the .env files returned by EnvFiles. Variables already set
// in the environment are kept, and among files the first one to define a
// key wins.
func LoadEnv(root string, dirs ...string) error {
	files := EnvFiles(root, dirs...)
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// EnvFiles lists the existing .env files in load order: the data root, then
// each of dirs. SECRETARY_ENV_FILE replaces the search entirely.
func EnvFiles(root string, dirs ...string) []string {
	if override := os.Getenv(EnvFileVar); override != "" {
		return []string{override}
	}

	var files []string
	seen := make(map[string]bool)
	for _, dir := range append([]string{root}, dirs...) {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			files = append(files, abs)
		}
	}
	return files
}
