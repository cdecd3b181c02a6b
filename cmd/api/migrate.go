package main

import (
	"errors"

	"homeflow/db"

	"github.com/spf13/cobra"
)

func migrateCmd(g *globals) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.cfg.DatabaseURL == "" {
				return errors.New("migrate: database_url is not configured")
			}
			if down {
				if err := db.Rollback(g.cfg.DatabaseURL); err != nil {
					return err
				}
				g.logger.Info("migrations rolled back")
				return nil
			}
			if err := db.Migrate(g.cfg.DatabaseURL); err != nil {
				return err
			}
			g.logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert every migration instead")
	return cmd
}
