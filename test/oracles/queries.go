// Package oracles holds SQL queries that must return no rows while the workflow is consistent.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows on a consistent database.
type Oracle struct {
	Name string
	SQL  string
}

// All returns every oracle in check order.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_proposal",
			SQL: `SELECT listing_id, listing_type, COUNT(*) FROM proposals
                  WHERE status = 'accepted'
                  GROUP BY listing_id, listing_type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_listing_points_at_accepted_proposal",
			SQL: `SELECT l.id, l.status, l.accepted_proposal_id FROM listings l
                  LEFT JOIN proposals p ON p.id = l.accepted_proposal_id
                  WHERE l.status = 'accepted'
                    AND (p.id IS NULL OR p.status <> 'accepted' OR p.listing_id <> l.id OR p.agent_id <> l.accepted_agent_id)
                  UNION ALL
                  SELECT p.listing_id, l.status, p.id FROM proposals p
                  JOIN listings l ON l.id = p.listing_id
                  WHERE p.status = 'accepted'
                    AND (l.status <> 'accepted' OR l.accepted_proposal_id IS DISTINCT FROM p.id)`,
		},
		{
			Name: "O3_transaction_per_acceptance",
			SQL: `SELECT p.id, t.id FROM proposals p
                  FULL JOIN transactions t ON t.proposal_id = p.id AND p.status = 'accepted'
                  WHERE (p.status = 'accepted' AND t.id IS NULL)
                     OR (t.id IS NOT NULL AND p.id IS NULL)`,
		},
		{
			Name: "O4_accept_on_inactive_listing",
			SQL: `SELECT p.id, p.accepted_at, l.accepted_at FROM proposals p
                  JOIN listings l ON l.id = p.listing_id
                  WHERE p.status = 'accepted' AND p.accepted_at IS DISTINCT FROM l.accepted_at`,
		},
		{
			Name: "O5_completion_requires_both_confirmations",
			SQL: `SELECT id, status, agent_confirmed, client_confirmed FROM services
                  WHERE (status = 'completed') <> (agent_confirmed AND client_confirmed)
                     OR (status = 'completed' AND completed_at IS NULL)`,
		},
		{
			Name: "O6_single_completion_notification",
			SQL: `SELECT user_id, action_url, COUNT(*) FROM notifications
                  WHERE type = 'service_completed'
                  GROUP BY user_id, action_url HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_single_completion_event",
			SQL: `SELECT s.id, COUNT(o.id) FROM services s
                  LEFT JOIN outbox o ON o.topic = 'service.completed' AND o.payload->>'service_id' = s.id::text
                  WHERE s.status = 'completed'
                  GROUP BY s.id HAVING COUNT(o.id) <> 1`,
		},
		{
			Name: "O8_task_status_domain",
			SQL: `SELECT s.id, t->>'status' FROM services s, jsonb_array_elements(s.tasks) t
                  WHERE t->>'status' NOT IN ('pending', 'completed')
                     OR (t->>'status' = 'completed') <> (t ? 'completedAt')`,
		},
		{
			Name: "O9_outbox_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
