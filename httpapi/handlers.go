package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"homeflow/auth"
	"homeflow/listing"
	"homeflow/proposal"
	"homeflow/txservice"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	user, err := s.auth.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	res, err := s.auth.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"user":      toUserResponse(res.User),
	})
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.auth.GetUserByID(c.Request.Context(), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// listingType reads the :type path segment. A buyer or seller may only own listings of their own
// kind.
func listingType(c *gin.Context) (listing.Type, bool) {
	typ := listing.Type(c.Param("type"))
	if !typ.Valid() {
		badRequest(c, "listing_type_invalid", "listing type must be buyer or seller")
		return "", false
	}
	return typ, true
}

type createListingRequest struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Preferences listing.Preferences `json:"preferences"`
}

func (s *Server) handleCreateListing(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	p := principal(c)
	if string(p.Role) != string(typ) {
		c.JSON(http.StatusForbidden, errorBody{Error: errorDetail{
			Kind:         "unauthorized",
			Message:      "listing type must match the account role",
			Entity:       "listing",
			RequiredRole: string(typ),
		}})
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	l, err := s.listings.Create(c.Request.Context(), listing.CreateParams{
		OwnerID:     p.UserID,
		Type:        typ,
		Title:       req.Title,
		Description: req.Description,
		Preferences: req.Preferences,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toListingResponse(l))
}

func (s *Server) handleGetListing(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	l, err := s.listings.Get(c.Request.Context(), c.Param("id"), typ)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListingResponse(l))
}

func (s *Server) handleCloseListing(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	l, err := s.listings.Close(c.Request.Context(), c.Param("id"), typ, principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListingResponse(l))
}

func (s *Server) handleListingProposals(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	list, err := s.proposals.ListForListing(c.Request.Context(), c.Param("id"), typ, principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toProposalResponses(list)})
}

func (s *Server) handleSubmitProposal(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	var terms proposal.Terms
	if err := c.ShouldBindJSON(&terms); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	res, err := s.proposals.Submit(c.Request.Context(), proposal.SubmitParams{
		ListingID:   c.Param("id"),
		ListingType: typ,
		AgentID:     principal(c).UserID,
		Terms:       terms,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"proposal":    toProposalResponse(res.Proposal),
		"undelivered": s.undelivered(c, res.Undelivered),
	})
}

func (s *Server) handleCascade(c *gin.Context) {
	typ, ok := listingType(c)
	if !ok {
		return
	}
	res, err := s.proposals.CascadeRejections(c.Request.Context(), c.Param("id"), typ, principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rejected":    toProposalResponses(res.Rejected),
		"complete":    res.Complete,
		"undelivered": s.undelivered(c, res.Undelivered),
	})
}

func (s *Server) handleMyProposals(c *gin.Context) {
	list, err := s.proposals.ListForAgent(c.Request.Context(), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toProposalResponses(list)})
}

func (s *Server) handleGetProposal(c *gin.Context) {
	p, err := s.proposals.Get(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(p))
}

func (s *Server) handleAcceptProposal(c *gin.Context) {
	res, err := s.proposals.Accept(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"proposal":        toProposalResponse(res.Proposal),
		"listing":         toListingResponse(res.Listing),
		"transaction":     toTransactionResponse(res.Transaction),
		"rejected":        toProposalResponses(res.Rejected),
		"cascadeComplete": res.CascadeComplete,
		"undelivered":     s.undelivered(c, res.Undelivered),
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectProposal(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid_body", err.Error())
			return
		}
	}
	res, err := s.proposals.Reject(c.Request.Context(), c.Param("id"), principal(c).UserID, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"proposal":    toProposalResponse(res.Proposal),
		"undelivered": s.undelivered(c, res.Undelivered),
	})
}

func (s *Server) handleListTransactions(c *gin.Context) {
	list, err := s.transactions.ListForUser(c.Request.Context(), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		items = append(items, toTransactionResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	t, err := s.transactions.Get(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(t))
}

func (s *Server) handleListServices(c *gin.Context) {
	list, err := s.services.ListForTransaction(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]serviceResponse, 0, len(list))
	for _, svc := range list {
		items = append(items, toServiceResponse(svc))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type taskRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Assignee    txservice.Assignee `json:"assignee"`
	Deadline    *time.Time         `json:"deadline"`
}

type createServiceRequest struct {
	Name  string        `json:"name"`
	Tasks []taskRequest `json:"tasks"`
}

func (s *Server) handleCreateService(c *gin.Context) {
	var req createServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	tasks := make([]txservice.TaskInput, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, txservice.TaskInput{
			Title:       t.Title,
			Description: t.Description,
			Assignee:    t.Assignee,
			Deadline:    t.Deadline,
		})
	}
	res, err := s.services.CreateService(c.Request.Context(), txservice.CreateServiceParams{
		TransactionID: c.Param("id"),
		Name:          req.Name,
		Tasks:         tasks,
		ActingUserID:  principal(c).UserID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toServiceResponse(res.Service))
}

func (s *Server) handleGetService(c *gin.Context) {
	res, err := s.services.Get(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toServiceResponse(res.Service))
}

func (s *Server) handleStartService(c *gin.Context) {
	res, err := s.services.StartService(c.Request.Context(), c.Param("id"), principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": toServiceResponse(res.Service), "undelivered": s.undelivered(c, res.Undelivered)})
}

func (s *Server) handleToggleTask(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "task_index_invalid", "task index must be an integer")
		return
	}
	res, err := s.services.ToggleTask(c.Request.Context(), c.Param("id"), idx, principal(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": toServiceResponse(res.Service), "undelivered": s.undelivered(c, res.Undelivered)})
}

type confirmRequest struct {
	Rating   *int    `json:"rating"`
	Feedback *string `json:"feedback"`
}

func (s *Server) handleConfirmService(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid_body", err.Error())
			return
		}
	}
	res, err := s.services.ConfirmCompletion(c.Request.Context(), txservice.ConfirmParams{
		ServiceID:    c.Param("id"),
		ActingUserID: principal(c).UserID,
		Rating:       req.Rating,
		Feedback:     req.Feedback,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":          toServiceResponse(res.Service),
		"completed":        res.Completed,
		"alreadyConfirmed": res.AlreadyConfirmed,
		"feedbackIgnored":  res.FeedbackIgnored,
		"undelivered":      s.undelivered(c, res.Undelivered),
	})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit_invalid", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.inbox.ListUnread(c.Request.Context(), principal(c).UserID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		items = append(items, toNotificationResponse(n))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.inbox.MarkRead(c.Request.Context(), principal(c).UserID, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
