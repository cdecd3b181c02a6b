package main

import (
	"homeflow/config"
	"homeflow/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globals struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "homeflow",
		Short:         "Real-estate proposal and transaction workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(serveCmd(g), migrateCmd(g), relayCmd(g))
	return root
}
