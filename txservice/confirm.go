package txservice

import (
	"context"
	"fmt"
	"strings"

	"homeflow/apperr"
	"homeflow/notification"
	"homeflow/transaction"

	"go.uber.org/zap"
)

// ConfirmParams carries a participant's completion confirmation. Rating and Feedback are only
// accepted from the client.
type ConfirmParams struct {
	ServiceID    string
	ActingUserID string
	Rating       *int
	Feedback     *string
}

// ConfirmResult reports whether this call was the one that completed the service. AlreadyConfirmed
// is set when the caller's flag was already true and nothing changed; FeedbackIgnored then marks a
// rating or feedback that was not recorded.
type ConfirmResult struct {
	Service          Service
	Progress         Progress
	Completed        bool
	AlreadyConfirmed bool
	FeedbackIgnored  bool
	Undelivered      []notification.Request
}

// ConfirmCompletion sets the caller's confirmation flag. The service completes on the call that
// sets the second flag, and only that call emits the completion notification.
func (e *Engine) ConfirmCompletion(ctx context.Context, params ConfirmParams) (ConfirmResult, error) {
	_, txn, role, err := e.resolve(ctx, params.ServiceID, params.ActingUserID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if (params.Rating != nil || params.Feedback != nil) && role != transaction.RoleClient {
		return ConfirmResult{}, apperr.Unauthorized("service", params.ServiceID, string(transaction.RoleClient)).
			WithMessage("only the client may rate a service")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ConfirmResult{}, apperr.Unavailable("confirm completion: begin tx", err)
	}
	defer tx.Rollback(ctx)

	locked, err := e.services.GetForUpdate(ctx, tx, params.ServiceID)
	if err != nil {
		return ConfirmResult{}, translate(err, params.ServiceID)
	}
	if locked.Confirmed(role) {
		return ConfirmResult{
			Service:          locked,
			Progress:         locked.Progress(),
			AlreadyConfirmed: true,
			FeedbackIgnored:  params.Rating != nil || params.Feedback != nil,
		}, nil
	}
	if params.Rating != nil && (*params.Rating < 1 || *params.Rating > 5) {
		return ConfirmResult{}, apperr.InvalidInput("rating_out_of_range", "rating must be between 1 and 5")
	}
	if locked.Status != StatusInProgress {
		return ConfirmResult{}, apperr.InvalidState("service_not_in_progress", "service", params.ServiceID, string(locked.Status))
	}

	now := e.now().UTC()
	next := locked.clone()
	if role == transaction.RoleAgent {
		next.AgentConfirmed = true
		next.AgentConfirmedAt = &now
	} else {
		next.ClientConfirmed = true
		next.ClientConfirmedAt = &now
		if next.Rating == nil && params.Rating != nil {
			rating := *params.Rating
			next.Rating = &rating
		}
		if next.Feedback == nil && params.Feedback != nil {
			if fb := strings.TrimSpace(*params.Feedback); fb != "" {
				next.Feedback = &fb
			}
		}
	}

	completed := next.AgentConfirmed && next.ClientConfirmed
	if completed {
		next.Status = StatusCompleted
		next.CompletedAt = &now
	}
	next.UpdatedAt = now

	updated, err := e.services.Update(ctx, tx, next)
	if err != nil {
		return ConfirmResult{}, translate(err, params.ServiceID)
	}
	if completed && e.outbox != nil {
		payload := map[string]any{
			"service_id":     updated.ID,
			"transaction_id": updated.TransactionID,
			"agent_id":       txn.AgentID,
			"client_id":      txn.ClientID,
		}
		if updated.Rating != nil {
			payload["rating"] = *updated.Rating
		}
		if err := e.outbox.Enqueue(ctx, tx, "service.completed", payload); err != nil {
			return ConfirmResult{}, apperr.Unavailable("confirm completion: enqueue event", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ConfirmResult{}, apperr.Unavailable("confirm completion: commit", err)
	}

	var reqs []notification.Request
	if completed {
		e.logger.Info("service completed",
			zap.String("service_id", updated.ID),
			zap.String("transaction_id", updated.TransactionID),
		)
		for _, userID := range []string{txn.AgentID, txn.ClientID} {
			reqs = append(reqs, notification.Request{
				UserID:    userID,
				Type:      notification.TypeServiceCompleted,
				Message:   fmt.Sprintf("%q is complete", updated.Name),
				ActionURL: serviceURL(updated),
			})
		}
	} else {
		reqs = append(reqs, notification.Request{
			UserID:    txn.Counterpart(role),
			Type:      notification.TypeServiceConfirmed,
			Message:   fmt.Sprintf("The %s confirmed %q; waiting on you", role, updated.Name),
			ActionURL: serviceURL(updated),
		})
	}

	return ConfirmResult{
		Service:     updated,
		Progress:    updated.Progress(),
		Completed:   completed,
		Undelivered: e.notify(ctx, reqs...),
	}, nil
}
