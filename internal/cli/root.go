// Package cli implements the bizcircle command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/edgard/bizcircle/internal/app"
	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/logger"
)

// options is the state shared by all subcommands once the root command has
// loaded the configuration.
type options struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

// NewRootCmd creates the bizcircle command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "bizcircle",
		Short: "Extract business recommendations from group chats",
		Long: `bizcircle reads group chat messages in batches, extracts business
recommendations with a language model, and keeps a cumulative knowledge base
of versioned snapshots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON)
			slog.SetDefault(opts.log)
			opts.log.Debug("Configuration loaded", "config", cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the YAML config file (default ./config.yaml)")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newImportCmd(opts),
		newSnapshotCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func (o *options) openApp() (*app.App, error) {
	return app.New(o.cfg, o.log)
}
