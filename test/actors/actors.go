// Package actors drives the workflow services concurrently against a shared database.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"homeflow/apperr"
	"homeflow/listing"
	"homeflow/outbox"
	"homeflow/proposal"
	"homeflow/transaction"
	"homeflow/txservice"
)

// Workload is the service graph every actor shares.
type Workload struct {
	Listings     *listing.Service
	Proposals    *proposal.Manager
	Transactions *transaction.Service
	Services     *txservice.Engine
}

// expected reports failures that contention legitimately produces. A killed backend surfaces as
// DependencyUnavailable and must not abort the run either.
func expected(err error) bool {
	return errors.Is(err, apperr.ErrInvalidState) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrDependencyUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Lister keeps opening listings for owner so the other actors always have fresh targets.
func Lister(ctx context.Context, w Workload, owner string, typ listing.Type, created chan<- listing.Listing, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		l, err := w.Listings.Create(ctx, listing.CreateParams{
			OwnerID: owner,
			Type:    typ,
			Title:   fmt.Sprintf("Stress listing %d", n),
		})
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("lister create: %w", err)
		}
		select {
		case created <- l:
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		}
		pause(100, 100)
	}
	return nil
}

// Submitter races proposals from agentID onto the known listings.
func Submitter(ctx context.Context, w Workload, agentID string, board *Board, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		l, ok := board.Random()
		if !ok {
			pause(20, 20)
			continue
		}
		_, err := w.Proposals.Submit(ctx, proposal.SubmitParams{
			ListingID:   l.ID,
			ListingType: l.Type,
			AgentID:     agentID,
			Terms:       proposal.Terms{Message: "stress", Services: []string{"Market Analysis"}},
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("submitter: %w", err)
		}
		pause(10, 20)
	}
	return nil
}

// Acceptor accepts random pending proposals on owner's listings. Several acceptors run for the
// same owner so acceptances on one listing collide.
func Acceptor(ctx context.Context, w Workload, owner string, board *Board, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		l, ok := board.Random()
		if !ok {
			pause(20, 20)
			continue
		}
		list, err := w.Proposals.ListForListing(ctx, l.ID, l.Type, owner)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("acceptor list: %w", err)
		}
		var pending []proposal.Proposal
		for _, p := range list {
			if p.Status == proposal.StatusPending {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			pause(10, 20)
			continue
		}
		pick := pending[rand.Intn(len(pending))]
		if rand.Intn(8) == 0 {
			_, err = w.Proposals.Reject(ctx, pick.ID, owner, "not this one")
		} else {
			_, err = w.Proposals.Accept(ctx, pick.ID, owner)
		}
		if err != nil && !expected(err) {
			return fmt.Errorf("acceptor: %w", err)
		}
		if rand.Intn(4) == 0 {
			if _, err := w.Proposals.CascadeRejections(ctx, l.ID, l.Type, owner); err != nil && !expected(err) {
				return fmt.Errorf("acceptor cascade: %w", err)
			}
		}
		pause(10, 30)
	}
	return nil
}

// Participant works the services of userID's transactions: the agent sets services up and starts
// them, and both sides toggle tasks and confirm at random.
func Participant(ctx context.Context, w Workload, userID string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		txns, err := w.Transactions.ListForUser(ctx, userID)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("participant list: %w", err)
		}
		if len(txns) == 0 {
			pause(30, 30)
			continue
		}
		txn := txns[rand.Intn(len(txns))]
		if err := workTransaction(ctx, w, txn, userID); err != nil {
			return err
		}
		pause(5, 15)
	}
	return nil
}

func workTransaction(ctx context.Context, w Workload, txn transaction.Transaction, userID string) error {
	services, err := w.Services.ListForTransaction(ctx, txn.ID, userID)
	if err != nil {
		if expected(err) {
			return nil
		}
		return fmt.Errorf("participant services: %w", err)
	}

	if userID == txn.AgentID && len(services) < 3 {
		_, err := w.Services.CreateService(ctx, txservice.CreateServiceParams{
			TransactionID: txn.ID,
			Name:          fmt.Sprintf("Service %d", len(services)+1),
			ActingUserID:  userID,
			Tasks: []txservice.TaskInput{
				{Title: "Agent step", Assignee: txservice.AssigneeAgent},
				{Title: "Client step", Assignee: txservice.AssigneeClient},
				{Title: "Joint step", Assignee: txservice.AssigneeBoth},
			},
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("participant create service: %w", err)
		}
	}
	if len(services) == 0 {
		return nil
	}

	svc := services[rand.Intn(len(services))]
	if len(svc.Tasks) == 0 {
		return nil
	}
	switch {
	case svc.Status == txservice.StatusPending && userID == txn.AgentID:
		_, err = w.Services.StartService(ctx, svc.ID, userID)
	case rand.Intn(3) == 0:
		_, err = w.Services.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: svc.ID, ActingUserID: userID})
	default:
		_, err = w.Services.ToggleTask(ctx, svc.ID, rand.Intn(len(svc.Tasks)), userID)
		if errors.Is(err, apperr.ErrUnauthorized) {
			// picked a task assigned to the other side
			err = nil
		}
	}
	if err != nil && !expected(err) {
		return fmt.Errorf("participant service %s: %w", svc.ID, err)
	}
	return nil
}

// OutboxWorker drains the outbox through the relay until stopped.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := relay.RunOnce(ctx); err != nil && !expected(err) {
			// a terminated backend makes claims fail; the next pass retries
			pause(50, 50)
			continue
		}
		pause(20, 30)
	}
	return nil
}
