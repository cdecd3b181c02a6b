package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"homeflow/changefeed"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleChanges streams the caller's changes as server-sent events. Clients refetch the entity on
// every event; a dropped stream loses whatever happened while it was down.
func (s *Server) handleChanges(c *gin.Context) {
	if s.changes == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: errorDetail{Kind: "dependency_unavailable", Message: "change stream disabled"}})
		return
	}

	filter := changefeed.Filter{UserID: principal(c).UserID, ID: c.Query("id")}
	if raw := c.Query("entity"); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			filter.Entities = append(filter.Entities, changefeed.Entity(strings.TrimSpace(e)))
		}
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan changefeed.Change, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.changes.Subscribe(ctx, filter, func(ch changefeed.Change) {
			select {
			case events <- ch:
			case <-ctx.Done():
			}
		})
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case err := <-done:
			if err != nil {
				s.logger.Warn("change subscription ended", zap.Error(err))
			}
			return false
		case ch := <-events:
			c.SSEvent(string(ch.Entity), ch)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}
