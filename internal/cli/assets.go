package cli

import (
	"fmt"
	"time"

	"shop-catalog/internal/server"
	"shop-catalog/internal/service"

	"github.com/spf13/cobra"
)

// NewAssetsCommand creates the assets command group.
func NewAssetsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage product images",
	}

	cmd.AddCommand(newSweepCommand(opts))

	return cmd
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove staged uploads never attached to a product",
		Long: `Remove staged uploads whose name timestamp is older than --older-than.

Defaults to the configured STAGED_TTL. Committed images are never touched.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.LoadConfig()
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Storage.StagedTTL
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			store, err := server.NewAssetStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			janitor, err := service.NewJanitor(store, olderThan, olderThan, opts.logger(cfg))
			if err != nil {
				return err
			}

			removed, err := janitor.SweepOnce(cmd.Context())
			for _, name := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "removed %d staged image(s)\n", len(removed))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age after which a staged upload is removed")

	return cmd
}
