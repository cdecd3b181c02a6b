package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RelayOptions tunes the relay. Zero values take the defaults.
type RelayOptions struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// Relay drains the outbox on a fixed interval.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	opts      RelayOptions
}

// NewRelay creates a relay moving events from store to publisher.
func NewRelay(store Store, publisher Publisher, opts RelayOptions) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &Relay{store: store, publisher: publisher, logger: zap.NewNop(), opts: opts}
}

// WithLogger sets the logger.
func (r *Relay) WithLogger(logger *zap.Logger) *Relay {
	r.logger = logger
	return r
}

// RunOnce performs a single claim-and-publish pass.
func (r *Relay) RunOnce(ctx context.Context) (Stats, error) {
	stats, err := r.store.Process(ctx, r.opts.BatchSize, r.opts.MaxAttempts, func(ctx context.Context, ev Event) error {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			r.logger.Warn("outbox publish failed",
				zap.String("event_id", ev.ID),
				zap.String("topic", ev.Topic),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	if stats.Dead > 0 {
		r.logger.Error("outbox events moved to dead", zap.Int("count", stats.Dead))
	}
	return stats, err
}

// Run loops until ctx is cancelled. Store errors are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// LogPublisher writes events to the logger. It backs the relay when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a publisher that only logs, for running without a broker.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("outbox event",
		zap.String("event_id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.ByteString("payload", ev.Payload),
	)
	return nil
}
