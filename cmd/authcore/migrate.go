package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/neaweb/authcore/store/postgres"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Run database migrations",
		Long:      `Apply (up, the default), roll back one (down) or list (status) the users table migrations.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE:      runMigrate,
	}
	cmd.Flags().String(flagDatabaseURL, "", "PostgreSQL connection string")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	cmd.Printf("Running migrations (%s)...\n", direction)
	if err := postgres.Migrate(cmd.Context(), cfg.Database.URL, direction); err != nil {
		return oops.Code("MIGRATION_FAILED").With("direction", direction).Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
