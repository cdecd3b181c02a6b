package notification

import (
	"context"
	"errors"
	"time"

	"homeflow/apperr"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Dispatcher appends notifications on behalf of the workflow packages. Delivery is best effort:
// a failed dispatch is logged and reported back to the caller, never turned into a rollback of
// the transition that triggered it.
type Dispatcher struct {
	store      Store
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	initial    time.Duration
	now        func() time.Time
	idGen      func() string
}

// DispatcherOptions tunes retries and the circuit breaker.
type DispatcherOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// NewDispatcher creates a dispatcher writing to store. Zero durations and breaker thresholds take
// the defaults; MaxRetries of zero means a single attempt.
func NewDispatcher(store Store, opts DispatcherOptions) *Dispatcher {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		store:      store,
		logger:     zap.NewNop(),
		maxRetries: opts.MaxRetries,
		initial:    opts.InitialInterval,
		now:        time.Now,
		idGen:      func() string { return uuid.NewString() },
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notification-store",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("notification breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return d
}

// WithLogger sets the logger used for failed deliveries.
func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithIDGenerator overrides how notification ids are minted.
func (d *Dispatcher) WithIDGenerator(gen func() string) *Dispatcher {
	d.idGen = gen
	return d
}

// Dispatch appends one unread notification for req.UserID.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Notification, error) {
	if req.UserID == "" {
		return Notification{}, apperr.InvalidInput("recipient_required", "notification recipient is required")
	}
	if req.Type == "" {
		return Notification{}, apperr.InvalidInput("type_required", "notification type is required")
	}

	n := Notification{
		ID:        d.idGen(),
		UserID:    req.UserID,
		Type:      req.Type,
		Message:   req.Message,
		ActionURL: req.ActionURL,
		CreatedAt: d.now().UTC(),
	}

	insert := func() error {
		_, err := d.breaker.Execute(func() (interface{}, error) {
			writeCtx, cancel := context.WithTimeout(ctx, insertTimeout)
			defer cancel()
			return nil, d.store.Insert(writeCtx, n)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initial
	policy.MaxInterval = 2 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxRetries)), ctx)

	if err := backoff.Retry(insert, retry); err != nil {
		d.logger.Warn("notification dispatch failed",
			zap.String("user_id", req.UserID),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		return Notification{}, apperr.Unavailable("dispatch notification", err)
	}
	return n, nil
}

// DispatchAll dispatches every request and returns the ones that could not be delivered so the
// caller can surface or retry them independently of the workflow result.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs ...Request) []Request {
	var undelivered []Request
	for _, req := range reqs {
		if _, err := d.Dispatch(ctx, req); err != nil {
			undelivered = append(undelivered, req)
		}
	}
	return undelivered
}
