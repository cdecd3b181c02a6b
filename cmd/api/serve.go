package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"homeflow/outbox"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var (
		withRelay bool
		migrate   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if g.cfg.Env == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			if migrate {
				if err := migrateCmd(g).RunE(cmd, nil); err != nil {
					return err
				}
			}

			a, err := buildApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var relay *outbox.Relay
			if withRelay {
				r, closePub, err := a.newRelay()
				if err != nil {
					return err
				}
				defer closePub()
				relay = r
			}

			srv := &http.Server{
				Addr:              g.cfg.HTTPAddr,
				Handler:           a.server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			grp, gctx := errgroup.WithContext(ctx)
			grp.Go(func() error {
				g.logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("store", g.cfg.Store))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			grp.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			grp.Go(func() error { return a.runChangeFeed(gctx) })
			if relay != nil {
				grp.Go(func() error { return relay.Run(gctx) })
			}

			err = grp.Wait()
			g.logger.Info("server stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", false, "also run the outbox relay in this process")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}
