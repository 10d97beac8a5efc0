package cli

import (
	"fmt"

	"shop-catalog/internal/config"
	"shop-catalog/internal/database"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "up",
		Short:        "Apply all pending migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(opts, func(cfg *config.Config, db *database.Service) error {
				if err := database.RunMigrations(db.DB(), opts.logger(cfg)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "status",
		Short:        "Print the migration status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(opts, func(_ *config.Config, db *database.Service) error {
				return database.GetMigrationStatus(db.DB())
			})
		},
	})

	return cmd
}

func withDatabase(opts *RootOptions, fn func(cfg *config.Config, db *database.Service) error) error {
	cfg := opts.LoadConfig()

	db, err := database.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cfg, db)
}
