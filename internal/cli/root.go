package cli

import (
	"shop-catalog/internal/config"
	"shop-catalog/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds state shared by every command.
type RootOptions struct {
	Verbose bool

	// LoadConfig is replaced in tests
	LoadConfig func() *config.Config
}

func (o *RootOptions) logger(cfg *config.Config) *zap.Logger {
	if !o.Verbose {
		return zap.NewNop()
	}
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// NewRootCommand creates the catalogctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{LoadConfig: config.Load}
	return newRootCommand(opts)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "Operate the product catalog",
		Long:  "Maintenance commands for the product catalog: schema migrations and image storage housekeeping.",
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewAssetsCommand(opts))

	return cmd
}
