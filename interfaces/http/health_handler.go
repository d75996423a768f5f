package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type IHealthHandler interface {
	Healthz(c *gin.Context)
}

// Pinger reports whether a backing service is reachable.
type Pinger func() error

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) IHealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz returns OK when every registered check passes.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	status := http.StatusOK
	report := gin.H{}
	for name, check := range h.checks {
		if err := check(); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	ctx.JSON(status, gin.H{"status": http.StatusText(status), "checks": report})
}
