// Package cli implements the authstate command line: a demo server that gates
// HTTP routes on the resolver's snapshot, plus one-shot session commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/logger"
)

type options struct {
	configPath string
	logLevel   string
	dev        bool

	cfg Config
	log *zap.Logger
}

// NewRootCmd creates the root cobra command for the authstate CLI.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "authstate",
		Short: "Session resolver for GoTrue-compatible auth backends",
		Long: "authstate resolves the signed-in identity and admin flag with bounded startup,\n" +
			"falls back to the locally persisted session, and serves gated HTTP routes.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			opts.cfg = cfg
			opts.log = logger.New(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "authstate"})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Run against an in-process dev auth backend")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newSignInCmd(opts),
		newSignOutCmd(opts),
		newRolesCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *options) stack(ctx context.Context) (*stack, error) {
	return buildStack(ctx, o.cfg, o.log, o.dev)
}
