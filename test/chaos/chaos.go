// Package chaos injects connection failures while the stress actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend kills a random busy backend of the current database roughly once every
// 1/odds ticks. Only sessions inside a statement or transaction are picked, so the services see
// failures mid-operation.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, every time.Duration, odds int, stop <-chan struct{}) {
	if odds <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(odds) != 0 {
				continue
			}
			_, _ = pool.Exec(ctx, `
				SELECT pg_terminate_backend(pid) FROM pg_stat_activity
				WHERE datname = current_database()
				  AND pid <> pg_backend_pid()
				  AND state IN ('active', 'idle in transaction')
				ORDER BY random() LIMIT 1`)
		}
	}
}
