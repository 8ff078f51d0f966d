package main

import (
	"github.com/spf13/cobra"

	"github.com/nimasrn/drone-dispatch/pkg/pg"
)

var migrationDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pg.Migrate(writeConfig(), migrationDir)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pg.MigrationStatus(writeConfig(), migrationDir)
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationDir, "dir", "./migrations", "migrations directory")
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
