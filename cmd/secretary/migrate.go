package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"secretary/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Apply any pending schema migrations to the database and report the
resulting schema version. The server also migrates on start.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dd, err := loadConfig()
		if err != nil {
			return err
		}
		return migrate(cmd, databasePath(cfg, dd))
	},
}

func migrate(cmd *cobra.Command, path string) error {
	db, err := database.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	current, err := database.CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database %s is at schema version %d\n", path, current)
	return nil
}
