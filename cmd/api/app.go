package main

import (
	"context"
	"fmt"

	"homeflow/auth"
	"homeflow/changefeed"
	"homeflow/config"
	"homeflow/db"
	"homeflow/httpapi"
	"homeflow/listing"
	"homeflow/memstore"
	"homeflow/notification"
	"homeflow/outbox"
	"homeflow/proposal"
	"homeflow/transaction"
	"homeflow/txservice"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// app is the wired dependency graph for one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	server      *httpapi.Server
	outboxStore outbox.Store
	closers     []func()

	// changeSource feeds changeHub when changes originate outside the process.
	changeSource changefeed.Subscriber
	changeHub    *changefeed.Hub
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type storage struct {
	pool         proposal.TxBeginner
	listings     listing.Repository
	proposals    proposal.Repository
	transactions transaction.Repository
	services     txservice.Repository
	users        auth.Repository
	outbox       proposal.OutboxWriter
	outboxStore  outbox.Store
	changes      changefeed.Subscriber
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var (
		st  storage
		mem *memstore.Store
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.changeHub = changefeed.NewHub()
		a.changeSource = changefeed.NewPGListener(pool).WithLogger(logger.Named("changefeed"))
		st = storage{
			pool:         pool,
			listings:     listing.NewRepository(pool),
			proposals:    proposal.NewRepository(pool),
			transactions: transaction.NewRepository(pool),
			services:     txservice.NewRepository(pool),
			users:        auth.NewRepository(pool),
			outbox:       outbox.NewWriter(),
			outboxStore:  outbox.NewStore(pool),
			changes:      a.changeHub,
		}
		notifications, err := a.notificationStore(ctx, pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		return a.finish(st, notifications), nil
	case config.StoreMemory:
		logger.Warn("using the in-memory store; state is lost on exit")
		mem = memstore.New()
		st = storage{
			pool:         mem,
			listings:     mem.Listings(),
			proposals:    mem.Proposals(),
			transactions: mem.Transactions(),
			services:     mem.Services(),
			users:        mem.Users(),
			outbox:       mem.Outbox(),
			outboxStore:  mem.Outbox(),
			changes:      mem,
		}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var notifications notification.Store = mem.Notifications()
	if cfg.Notifications.Backend == config.NotificationsMongo {
		store, err := a.mongoStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifications = store
	}
	return a.finish(st, notifications), nil
}

// runChangeFeed holds the single LISTEN connection and fans its changes out to every stream
// client. The memory store publishes in process and needs no feed.
func (a *app) runChangeFeed(ctx context.Context) error {
	if a.changeSource == nil {
		return nil
	}
	return a.changeHub.Forward(ctx, a.changeSource)
}

// notificationStore resolves the configured backend when the workflow state lives in Postgres.
func (a *app) notificationStore(ctx context.Context, pool *pgxpool.Pool) (notification.Store, error) {
	switch a.cfg.Notifications.Backend {
	case config.NotificationsMongo:
		return a.mongoStore(ctx)
	case config.NotificationsMemory:
		return memstore.New().Notifications(), nil
	default:
		return notification.NewPGStore(pool), nil
	}
}

func (a *app) mongoStore(ctx context.Context) (*notification.MongoStore, error) {
	client, err := notification.ConnectMongo(ctx, a.cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { disconnectMongo(client, a.logger) })

	store := notification.NewMongoStore(client, a.cfg.Mongo.Database)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func disconnectMongo(client *mongo.Client, logger *zap.Logger) {
	if err := client.Disconnect(context.Background()); err != nil {
		logger.Warn("disconnect mongo", zap.Error(err))
	}
}

func (a *app) finish(st storage, notifications notification.Store) *app {
	dispatcher := notification.NewDispatcher(notifications, notification.DispatcherOptions{
		MaxRetries:      a.cfg.Notifications.MaxRetries,
		InitialInterval: a.cfg.Notifications.InitialInterval,
	}).WithLogger(a.logger.Named("notifications"))

	a.outboxStore = st.outboxStore
	a.server = httpapi.NewServer(httpapi.Deps{
		Auth:     auth.NewService(st.users, a.cfg.JWT.Secret, a.cfg.JWT.TTL),
		Listings: listing.NewService(st.pool, st.listings),
		Proposals: proposal.NewManager(st.pool, st.proposals, st.listings, st.transactions, dispatcher).
			WithOutbox(st.outbox).
			WithLogger(a.logger.Named("proposals")),
		Transactions: transaction.NewService(st.transactions),
		Services: txservice.NewEngine(st.pool, st.services, st.transactions, dispatcher).
			WithOutbox(st.outbox).
			WithLogger(a.logger.Named("services")),
		Inbox:   notification.NewInbox(notifications),
		Changes: st.changes,
		Logger:  a.logger.Named("http"),
	})
	return a
}
