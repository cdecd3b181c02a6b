package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel the change triggers publish on.
const Channel = "homeflow_changes"

// PGListener subscribes with LISTEN on a dedicated pooled connection. A dropped connection is
// re-acquired with exponential backoff; changes published while disconnected are lost.
type PGListener struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGListener listens on a connection acquired from pool.
func NewPGListener(pool *pgxpool.Pool) *PGListener {
	return &PGListener{pool: pool, logger: zap.NewNop()}
}

// WithLogger sets the logger used for disconnects and malformed payloads.
func (l *PGListener) WithLogger(logger *zap.Logger) *PGListener {
	l.logger = logger
	return l
}

// Subscribe holds one connection in LISTEN until ctx is done, reconnecting on failure.
func (l *PGListener) Subscribe(ctx context.Context, filter Filter, onChange func(Change)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := l.listen(ctx, filter, onChange, policy.Reset)
		switch {
		case err == nil, ctx.Err() != nil:
			return nil
		default:
			l.logger.Warn("change listener disconnected", zap.Error(err))
			return err
		}
	}, backoff.WithContext(policy, ctx))
}

func (l *PGListener) listen(ctx context.Context, filter Filter, onChange func(Change), connected func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("changefeed: listen: %w", err)
	}
	connected()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("changefeed: wait: %w", err)
		}
		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			l.logger.Warn("dropping malformed change payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		if filter.Match(c) {
			onChange(c)
		}
	}
}
