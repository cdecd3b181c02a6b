// Package httpapi exposes the workflow operations over HTTP with gin.
package httpapi

import (
	"net/http"
	"time"

	"homeflow/auth"
	"homeflow/changefeed"
	"homeflow/listing"
	"homeflow/notification"
	"homeflow/proposal"
	"homeflow/transaction"
	"homeflow/txservice"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services behind the routes. Changes may be nil, in which case the change stream
// responds 503.
type Deps struct {
	Auth         *auth.Service
	Listings     *listing.Service
	Proposals    *proposal.Manager
	Transactions *transaction.Service
	Services     *txservice.Engine
	Inbox        *notification.Inbox
	Changes      changefeed.Subscriber
	Logger       *zap.Logger
}

// Server owns the HTTP routes over the workflow services.
type Server struct {
	auth         *auth.Service
	listings     *listing.Service
	proposals    *proposal.Manager
	transactions *transaction.Service
	services     *txservice.Engine
	inbox        *notification.Inbox
	changes      changefeed.Subscriber
	logger       *zap.Logger

	heartbeat time.Duration
}

// NewServer builds a server from d. A nil Changes disables the change stream.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		auth:         d.Auth,
		listings:     d.Listings,
		proposals:    d.Proposals,
		transactions: d.Transactions,
		services:     d.Services,
		inbox:        d.Inbox,
		changes:      d.Changes,
		logger:       logger,
		heartbeat:    15 * time.Second,
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.GET("/me", AuthRequired(s.auth), s.handleMe)

	secured := api.Group("", AuthRequired(s.auth))

	listings := secured.Group("/listings/:type")
	listings.POST("", RoleAllowed(auth.RoleBuyer, auth.RoleSeller), s.handleCreateListing)
	listings.GET("/:id", s.handleGetListing)
	listings.POST("/:id/close", s.handleCloseListing)
	listings.GET("/:id/proposals", s.handleListingProposals)
	listings.POST("/:id/proposals", RoleAllowed(auth.RoleAgent), s.handleSubmitProposal)
	listings.POST("/:id/cascade", s.handleCascade)

	proposals := secured.Group("/proposals")
	proposals.GET("", RoleAllowed(auth.RoleAgent), s.handleMyProposals)
	proposals.GET("/:id", s.handleGetProposal)
	proposals.POST("/:id/accept", s.handleAcceptProposal)
	proposals.POST("/:id/reject", s.handleRejectProposal)

	txns := secured.Group("/transactions")
	txns.GET("", s.handleListTransactions)
	txns.GET("/:id", s.handleGetTransaction)
	txns.GET("/:id/services", s.handleListServices)
	txns.POST("/:id/services", RoleAllowed(auth.RoleAgent), s.handleCreateService)

	services := secured.Group("/services")
	services.GET("/:id", s.handleGetService)
	services.POST("/:id/start", s.handleStartService)
	services.POST("/:id/tasks/:index/toggle", s.handleToggleTask)
	services.POST("/:id/confirm", s.handleConfirmService)

	notifications := secured.Group("/notifications")
	notifications.GET("", s.handleListNotifications)
	notifications.POST("/:id/read", s.handleMarkRead)

	secured.GET("/changes", s.handleChanges)

	return r
}
