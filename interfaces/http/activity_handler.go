package http

import (
	"net/http"
	"strconv"

	"post-mirror/domain/model"
	"post-mirror/usecase"

	"github.com/gin-gonic/gin"
)

type IActivityHandler interface {
	List(c *gin.Context)
}

type ActivityHandler struct {
	activity usecase.IActivityUsecase
}

func NewActivityHandler(activity usecase.IActivityUsecase) IActivityHandler {
	return &ActivityHandler{activity: activity}
}

func (h *ActivityHandler) List(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	kind := model.EntityKind(c.Param("kind"))
	if kind != model.EntityPost && kind != model.EntityPlatformPost {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown entity kind"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.activity.List(c.Request.Context(), kind, c.Param("entityId"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if events == nil {
		events = []model.ActivityEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
