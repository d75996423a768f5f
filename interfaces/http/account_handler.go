package http

import (
	"net/http"

	"post-mirror/domain/model"
	"post-mirror/usecase"

	"github.com/gin-gonic/gin"
)

type IAccountHandler interface {
	Me(c *gin.Context)
	Link(c *gin.Context)
	SetAutopublish(c *gin.Context)
}

type AccountHandler struct {
	users usecase.IUsersUsecase
}

func NewAccountHandler(users usecase.IUsersUsecase) IAccountHandler {
	return &AccountHandler{users: users}
}

func (h *AccountHandler) Me(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Link completes a platform signup. The body is passed to the platform as is
// (OAuth code, app password, signing key).
func (h *AccountHandler) Link(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	data := model.SignupData{}
	if err := c.ShouldBindJSON(&data); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorUnmarshal})
		return
	}
	profile, err := h.users.LinkAccount(c.Request.Context(), userID, model.PlatformID(c.Param("platform")), data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type autopublishRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AccountHandler) SetAutopublish(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req autopublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorUnmarshal})
		return
	}
	user, err := h.users.SetAutopublish(c.Request.Context(), userID, model.PlatformID(c.Param("platform")), req.Enabled)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
