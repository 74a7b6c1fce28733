package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/repository"
)

// respondError maps repository errors to a status code and writes an
// ErrorResponse. Unknown errors are logged and reported as 500.
func respondError(c *gin.Context, err error, message string) {
	status, kind := http.StatusInternalServerError, "database_error"
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrTaskRunning):
		status, kind = http.StatusConflict, "task_running"
	case errors.Is(err, repository.ErrTaskFinished):
		status, kind = http.StatusConflict, "task_finished"
	case errors.Is(err, repository.ErrAlreadyLinked):
		status, kind = http.StatusBadRequest, "already_linked"
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error(message)
	}

	c.JSON(status, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    status,
	})
}

func badRequest(c *gin.Context, kind, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    http.StatusBadRequest,
	})
}
