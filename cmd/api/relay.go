package main

import (
	"os/signal"
	"syscall"

	"homeflow/outbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func relayCmd(g *globals) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events to the message broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			relay, closePub, err := a.newRelay()
			if err != nil {
				return err
			}
			defer closePub()

			if once {
				stats, err := relay.RunOnce(ctx)
				if err != nil {
					return err
				}
				g.logger.Info("outbox drained",
					zap.Int("claimed", stats.Claimed),
					zap.Int("published", stats.Published),
					zap.Int("failed", stats.Failed),
					zap.Int("dead", stats.Dead))
				return nil
			}
			return relay.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	return cmd
}

// newRelay picks the AMQP publisher when a broker URL is configured and logs events otherwise.
func (a *app) newRelay() (*outbox.Relay, func(), error) {
	var (
		pub     outbox.Publisher
		closeFn = func() {}
	)
	if a.cfg.AMQP.URL != "" {
		amqpPub, err := outbox.DialAMQP(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange)
		if err != nil {
			return nil, nil, err
		}
		pub = amqpPub
		closeFn = func() {
			if err := amqpPub.Close(); err != nil {
				a.logger.Warn("close amqp publisher", zap.Error(err))
			}
		}
	} else {
		a.logger.Warn("amqp url not configured; outbox events are only logged")
		pub = outbox.NewLogPublisher(a.logger)
	}

	relay := outbox.NewRelay(a.outboxStore, pub, outbox.RelayOptions{
		BatchSize:   a.cfg.Outbox.BatchSize,
		Interval:    a.cfg.Outbox.Interval,
		MaxAttempts: a.cfg.Outbox.MaxAttempts,
	}).WithLogger(a.logger.Named("relay"))
	return relay, closeFn, nil
}
