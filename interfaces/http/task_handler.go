package http

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"post-mirror/infrastructure/logger"
	"post-mirror/infrastructure/tasks"

	"github.com/gin-gonic/gin"
)

const (
	TaskSecretHeader  = "X-Task-Secret"
	TaskAttemptHeader = "X-Task-Attempt"
)

type ITaskHandler interface {
	Push(c *gin.Context)
}

// TaskHandler receives pushed task deliveries. A non-2xx answer makes the
// pushing queue redeliver the task with its own backoff.
type TaskHandler struct {
	executor tasks.Executor
	secret   string
}

func NewTaskHandler(executor tasks.Executor, secret string) ITaskHandler {
	return &TaskHandler{executor: executor, secret: secret}
}

func (h *TaskHandler) Push(c *gin.Context) {
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader(TaskSecretHeader)), []byte(h.secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid task secret"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "task body must be JSON"})
		return
	}
	attempt, _ := strconv.Atoi(c.GetHeader(TaskAttemptHeader))
	if attempt < 1 {
		attempt = 1
	}
	task := tasks.Task{Name: c.Param("name"), Data: body, Attempt: attempt}
	if err := h.executor.Execute(c.Request.Context(), task); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
