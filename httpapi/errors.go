package httpapi

import (
	"errors"
	"net/http"

	"homeflow/apperr"
	"homeflow/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorDetail struct {
	Kind         string `json:"kind"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	Entity       string `json:"entity,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
	RequiredRole string `json:"requiredRole,omitempty"`
	CurrentState string `json:"currentState,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindUnauthorized:          http.StatusForbidden,
	apperr.KindNotFound:              http.StatusNotFound,
	apperr.KindInvalidState:          http.StatusConflict,
	apperr.KindInvalidInput:          http.StatusBadRequest,
	apperr.KindDependencyUnavailable: http.StatusServiceUnavailable,
}

func (s *Server) writeError(c *gin.Context, err error) {
	if e, ok := apperr.As(err); ok {
		status, known := kindStatus[e.Kind]
		if !known {
			status = http.StatusInternalServerError
		}
		if e.Kind == apperr.KindDependencyUnavailable {
			s.logger.Warn("dependency unavailable", zap.String("route", c.FullPath()), zap.Error(err))
		}
		c.JSON(status, errorBody{Error: errorDetail{
			Kind:         string(e.Kind),
			Code:         e.Code,
			Message:      e.Message,
			Entity:       e.Entity,
			EntityID:     e.EntityID,
			RequiredRole: e.RequiredRole,
			CurrentState: e.CurrentState,
		}})
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		abortAuth(c, err.Error())
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidRegistration):
		badRequest(c, "invalid_registration", err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, errorBody{Error: errorDetail{Kind: string(apperr.KindInvalidState), Code: "email_taken", Message: "email already registered"}})
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: errorDetail{Kind: string(apperr.KindNotFound), Entity: "user"}})
	default:
		s.logger.Error("unhandled error", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "internal", Message: "internal error"}})
	}
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Kind:    string(apperr.KindInvalidInput),
		Code:    code,
		Message: msg,
	}})
}
