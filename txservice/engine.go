// Package txservice advances the services and tasks of a transaction, including the
// dual-confirmation rule that completes a service.
package txservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeflow/apperr"
	"homeflow/notification"
	"homeflow/transaction"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier delivers notifications and returns the ones it could not deliver.
type Notifier interface {
	DispatchAll(ctx context.Context, reqs ...notification.Request) []notification.Request
}

// OutboxWriter records an integration event inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Engine runs every service mutation as a read-modify-write on the locked service row.
type Engine struct {
	pool         TxBeginner
	services     Repository
	transactions transaction.Repository
	notifier     Notifier
	outbox       OutboxWriter
	logger       *zap.Logger
	now          func() time.Time
	idGen        func() string
}

// NewEngine wires the service workflow over the given repositories.
func NewEngine(pool TxBeginner, services Repository, transactions transaction.Repository, notifier Notifier) *Engine {
	return &Engine{
		pool:         pool,
		services:     services,
		transactions: transactions,
		notifier:     notifier,
		logger:       zap.NewNop(),
		now:          time.Now,
		idGen:        func() string { return uuid.NewString() },
	}
}

// WithOutbox enables the service.completed event.
func (e *Engine) WithOutbox(w OutboxWriter) *Engine {
	e.outbox = w
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	e.logger = logger
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithIDGenerator overrides how service ids are minted.
func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGen = gen
	return e
}

// Result is the post-transition snapshot of a service.
type Result struct {
	Service     Service
	Progress    Progress
	Undelivered []notification.Request
}

// CreateServiceParams describes a service and its initial checklist.
type CreateServiceParams struct {
	TransactionID string
	Name          string
	Tasks         []TaskInput
	ActingUserID  string
}

// CreateService adds a pending service to an open transaction. Only the agent sets services up.
func (e *Engine) CreateService(ctx context.Context, params CreateServiceParams) (Result, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Result{}, apperr.InvalidInput("service_name_required", "service name is required")
	}
	tasks := make([]Task, 0, len(params.Tasks))
	for i, in := range params.Tasks {
		title := strings.TrimSpace(in.Title)
		if title == "" {
			return Result{}, apperr.InvalidInput("task_title_required", fmt.Sprintf("task %d needs a title", i))
		}
		if !in.Assignee.Valid() {
			return Result{}, apperr.InvalidInput("task_assignee_invalid", fmt.Sprintf("task %d assignee must be agent, client or both", i))
		}
		tasks = append(tasks, Task{
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			Assignee:    in.Assignee,
			Status:      TaskPending,
			Deadline:    in.Deadline,
		})
	}

	txn, err := e.loadTransaction(ctx, params.TransactionID)
	if err != nil {
		return Result{}, err
	}
	if role, ok := txn.RoleOf(params.ActingUserID); !ok || role != transaction.RoleAgent {
		return Result{}, apperr.Unauthorized("transaction", txn.ID, string(transaction.RoleAgent))
	}
	if !txn.Status.Open() {
		return Result{}, apperr.InvalidState("transaction_not_open", "transaction", txn.ID, string(txn.Status))
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Result{}, apperr.Unavailable("create service: begin tx", err)
	}
	defer tx.Rollback(ctx)

	created, err := e.services.Create(ctx, tx, Service{
		ID:            e.idGen(),
		TransactionID: txn.ID,
		Name:          name,
		Status:        StatusPending,
		Tasks:         tasks,
		CreatedAt:     e.now().UTC(),
	})
	if err != nil {
		return Result{}, apperr.Unavailable("create service", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, apperr.Unavailable("create service: commit", err)
	}
	return Result{Service: created, Progress: created.Progress()}, nil
}

// StartService moves a pending service to in-progress. Agent only.
func (e *Engine) StartService(ctx context.Context, serviceID, actingUserID string) (Result, error) {
	_, txn, role, err := e.resolve(ctx, serviceID, actingUserID)
	if err != nil {
		return Result{}, err
	}
	if role != transaction.RoleAgent {
		return Result{}, apperr.Unauthorized("service", serviceID, string(transaction.RoleAgent))
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Result{}, apperr.Unavailable("start service: begin tx", err)
	}
	defer tx.Rollback(ctx)

	locked, err := e.services.GetForUpdate(ctx, tx, serviceID)
	if err != nil {
		return Result{}, translate(err, serviceID)
	}
	if locked.Status != StatusPending {
		return Result{}, apperr.InvalidState("service_not_pending", "service", serviceID, string(locked.Status))
	}

	now := e.now().UTC()
	next := locked.clone()
	next.Status = StatusInProgress
	next.StartedAt = &now
	next.UpdatedAt = now

	updated, err := e.services.Update(ctx, tx, next)
	if err != nil {
		return Result{}, translate(err, serviceID)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, apperr.Unavailable("start service: commit", err)
	}

	undelivered := e.notify(ctx, notification.Request{
		UserID:    txn.ClientID,
		Type:      notification.TypeServiceStarted,
		Message:   fmt.Sprintf("Your agent started %q", updated.Name),
		ActionURL: serviceURL(updated),
	})
	return Result{Service: updated, Progress: updated.Progress(), Undelivered: undelivered}, nil
}

// ToggleTask flips one task between pending and completed. When the flip completes the last open
// task, the agent's confirmation is recorded on their behalf unless the client already confirmed;
// the client's confirmation is never set here, so completion still needs ConfirmCompletion.
func (e *Engine) ToggleTask(ctx context.Context, serviceID string, taskIndex int, actingUserID string) (Result, error) {
	snapshot, txn, role, err := e.resolve(ctx, serviceID, actingUserID)
	if err != nil {
		return Result{}, err
	}
	if taskIndex < 0 || taskIndex >= len(snapshot.Tasks) {
		return Result{}, apperr.NotFound("task", taskRef(serviceID, taskIndex))
	}
	if assignee := snapshot.Tasks[taskIndex].Assignee; !assignee.Allows(role) {
		return Result{}, apperr.Unauthorized("task", taskRef(serviceID, taskIndex), string(assignee))
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Result{}, apperr.Unavailable("toggle task: begin tx", err)
	}
	defer tx.Rollback(ctx)

	locked, err := e.services.GetForUpdate(ctx, tx, serviceID)
	if err != nil {
		return Result{}, translate(err, serviceID)
	}
	if taskIndex >= len(locked.Tasks) {
		return Result{}, apperr.NotFound("task", taskRef(serviceID, taskIndex))
	}
	if locked.Status != StatusInProgress {
		return Result{}, apperr.InvalidState("service_not_in_progress", "service", serviceID, string(locked.Status))
	}

	now := e.now().UTC()
	next := locked.clone()
	task := &next.Tasks[taskIndex]
	completing := task.Status != TaskCompleted
	if completing {
		by := actingUserID
		task.Status = TaskCompleted
		task.CompletedBy = &by
		task.CompletedAt = &now
	} else {
		task.Status = TaskPending
		task.CompletedBy = nil
		task.CompletedAt = nil
	}

	autoConfirmed := false
	if completing && next.AllTasksCompleted() && !next.AgentConfirmed && !next.ClientConfirmed {
		next.AgentConfirmed = true
		next.AgentConfirmedAt = &now
		autoConfirmed = true
	}
	next.UpdatedAt = now

	updated, err := e.services.Update(ctx, tx, next)
	if err != nil {
		return Result{}, translate(err, serviceID)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, apperr.Unavailable("toggle task: commit", err)
	}

	var reqs []notification.Request
	if completing {
		reqs = append(reqs, notification.Request{
			UserID:    txn.Counterpart(role),
			Type:      notification.TypeTaskCompleted,
			Message:   fmt.Sprintf("%q was completed in %q", task.Title, updated.Name),
			ActionURL: serviceURL(updated),
		})
	}
	if autoConfirmed {
		e.logger.Info("agent confirmation recorded on task completion",
			zap.String("service_id", updated.ID),
			zap.String("user_id", actingUserID),
		)
		reqs = append(reqs, notification.Request{
			UserID:    txn.ClientID,
			Type:      notification.TypeServiceConfirmed,
			Message:   fmt.Sprintf("All tasks in %q are done; your confirmation is needed", updated.Name),
			ActionURL: serviceURL(updated),
		})
	}
	return Result{Service: updated, Progress: updated.Progress(), Undelivered: e.notify(ctx, reqs...)}, nil
}

// Get returns a service snapshot to a participant of its transaction.
func (e *Engine) Get(ctx context.Context, serviceID, actingUserID string) (Result, error) {
	s, _, _, err := e.resolve(ctx, serviceID, actingUserID)
	if err != nil {
		return Result{}, err
	}
	return Result{Service: s, Progress: s.Progress()}, nil
}

// ListForTransaction returns the services of a transaction in creation order.
func (e *Engine) ListForTransaction(ctx context.Context, transactionID, actingUserID string) ([]Service, error) {
	txn, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if _, ok := txn.RoleOf(actingUserID); !ok {
		return nil, apperr.Unauthorized("transaction", transactionID, "participant")
	}
	list, err := e.services.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, apperr.Unavailable("list services", err)
	}
	return list, nil
}

// resolve loads the service and its transaction and maps actingUserID to a participant role.
func (e *Engine) resolve(ctx context.Context, serviceID, actingUserID string) (Service, transaction.Transaction, transaction.Role, error) {
	s, err := e.services.GetByID(ctx, serviceID)
	if err != nil {
		return Service{}, transaction.Transaction{}, "", translate(err, serviceID)
	}
	txn, err := e.loadTransaction(ctx, s.TransactionID)
	if err != nil {
		return Service{}, transaction.Transaction{}, "", err
	}
	role, ok := txn.RoleOf(actingUserID)
	if !ok {
		return Service{}, transaction.Transaction{}, "", apperr.Unauthorized("service", serviceID, "transaction participant")
	}
	return s, txn, role, nil
}

func (e *Engine) loadTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	txn, err := e.transactions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			return transaction.Transaction{}, apperr.NotFound("transaction", id)
		}
		return transaction.Transaction{}, apperr.Unavailable("get transaction", err)
	}
	return txn, nil
}

func (e *Engine) notify(ctx context.Context, reqs ...notification.Request) []notification.Request {
	if e.notifier == nil || len(reqs) == 0 {
		return nil
	}
	return e.notifier.DispatchAll(ctx, reqs...)
}

func serviceURL(s Service) string {
	return fmt.Sprintf("/transactions/%s/services/%s", s.TransactionID, s.ID)
}

func taskRef(serviceID string, index int) string {
	return fmt.Sprintf("%s#%d", serviceID, index)
}

func translate(err error, id string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("service", id)
	}
	return apperr.Unavailable("service store", err)
}
