package memstore

import (
	"context"
	"fmt"

	"homeflow/changefeed"
	"homeflow/txservice"

	"github.com/jackc/pgx/v5"
)

// Services implements txservice.Repository.
type Services struct{ s *Store }

// Services returns the service repository view of s.
func (s *Store) Services() *Services { return &Services{s: s} }

func pickServices(st *state) map[string]txservice.Service { return st.services }

func cloneService(svc txservice.Service) txservice.Service {
	svc.Tasks = append([]txservice.Task(nil), svc.Tasks...)
	return svc
}

func (r *Services) change(t *Tx, svc txservice.Service) changefeed.Change {
	c := changefeed.Change{Entity: changefeed.EntityService, ID: svc.ID, Status: string(svc.Status), At: svc.UpdatedAt}
	if x, ok := lookup(r.s, t, pickTransactions, svc.TransactionID); ok {
		c.Actors = []string{x.ClientID, x.AgentID}
	}
	return c
}

func (r *Services) Create(ctx context.Context, tx pgx.Tx, svc txservice.Service) (txservice.Service, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return txservice.Service{}, err
	}
	if err := r.s.check("service.create", svc.ID); err != nil {
		return txservice.Service{}, err
	}
	if _, ok := lookup(r.s, t, pickTransactions, svc.TransactionID); !ok {
		return txservice.Service{}, fmt.Errorf("memstore: transaction %s missing", svc.TransactionID)
	}
	if _, exists := lookup(r.s, t, pickServices, svc.ID); exists {
		return txservice.Service{}, fmt.Errorf("memstore: service %s already exists", svc.ID)
	}

	svc.Status = txservice.StatusPending
	svc.UpdatedAt = svc.CreatedAt
	t.delta.services[svc.ID] = cloneService(svc)
	r.s.nextOrder("service:"+svc.ID, &t.delta)
	t.record(r.change(t, svc))
	return cloneService(svc), nil
}

func (r *Services) GetByID(ctx context.Context, id string) (txservice.Service, error) {
	if err := r.s.check("service.get", id); err != nil {
		return txservice.Service{}, err
	}
	svc, ok := lookup(r.s, nil, pickServices, id)
	if !ok {
		return txservice.Service{}, txservice.ErrNotFound
	}
	return cloneService(svc), nil
}

func (r *Services) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (txservice.Service, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return txservice.Service{}, err
	}
	if err := r.s.check("service.get_for_update", id); err != nil {
		return txservice.Service{}, err
	}
	svc, ok := lookup(r.s, t, pickServices, id)
	if !ok {
		return txservice.Service{}, txservice.ErrNotFound
	}
	return cloneService(svc), nil
}

// Update replaces the stored service with svc inside tx.
func (r *Services) Update(ctx context.Context, tx pgx.Tx, svc txservice.Service) (txservice.Service, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return txservice.Service{}, err
	}
	if err := r.s.check("service.update", svc.ID); err != nil {
		return txservice.Service{}, err
	}
	current, ok := lookup(r.s, t, pickServices, svc.ID)
	if !ok {
		return txservice.Service{}, txservice.ErrNotFound
	}
	svc.TransactionID = current.TransactionID
	svc.Name = current.Name
	svc.CreatedAt = current.CreatedAt

	t.delta.services[svc.ID] = cloneService(svc)
	t.record(r.change(t, svc))
	return cloneService(svc), nil
}

func (r *Services) ListByTransaction(ctx context.Context, transactionID string) ([]txservice.Service, error) {
	if err := r.s.check("service.list", transactionID); err != nil {
		return nil, err
	}
	out := collect(r.s, nil, pickServices, "service:", func(svc txservice.Service) bool {
		return svc.TransactionID == transactionID
	})
	for i := range out {
		out[i] = cloneService(out[i])
	}
	return out, nil
}
