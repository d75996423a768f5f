package http

import (
	"errors"
	"net/http"

	"post-mirror/domain/apperror"
	"post-mirror/infrastructure/tasks"
	"post-mirror/usecase"

	"github.com/gin-gonic/gin"
)

const (
	ErrorUnmarshal = "Error while unmarshal"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var authErr *apperror.AuthorizationError
	switch {
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case apperror.IsNotFound(err), errors.Is(err, tasks.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrEmptySignup), errors.Is(err, apperror.ErrUnsupported):
		return http.StatusBadRequest
	case apperror.IsTransient(err):
		return http.StatusServiceUnavailable
	case apperror.IsFatal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing user_id"})
		return "", false
	}
	return userID, true
}
