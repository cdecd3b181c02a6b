package httpapi

import (
	"net/http"
	"strings"
	"time"

	"homeflow/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Principal, error)
}

// AuthRequired rejects requests without a valid Bearer token and stores the principal on the context.
func AuthRequired(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortAuth(c, "missing token")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortAuth(c, "invalid token format")
			return
		}

		p, err := verifier.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			abortAuth(c, "invalid or expired token")
			return
		}

		c.Set(ctxUserID, p.UserID)
		c.Set(ctxRole, p.Role)
		c.Next()
	}
}

// RoleAllowed rejects principals whose account role is not listed.
func RoleAllowed(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: errorDetail{
			Kind:         "unauthorized",
			Message:      "role not allowed",
			RequiredRole: joinRoles(roles),
		}})
	}
}

func principal(c *gin.Context) auth.Principal {
	var p auth.Principal
	if v, ok := c.Get(ctxUserID); ok {
		p.UserID, _ = v.(string)
	}
	if v, ok := c.Get(ctxRole); ok {
		p.Role, _ = v.(auth.Role)
	}
	return p
}

func abortAuth(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{
		Kind:    "unauthenticated",
		Message: msg,
	}})
}

func joinRoles(roles []auth.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, "|")
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if uid := principal(c).UserID; uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
