package http

import (
	"net/http"
	"strconv"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/infrastructure/logger"
	"post-mirror/usecase"

	"github.com/gin-gonic/gin"
)

type IPostHandler interface {
	GetPost(c *gin.Context)
	ApprovePost(c *gin.Context)
	ParsePost(c *gin.Context)
	FetchPosts(c *gin.Context)
}

type PostHandler struct {
	manager usecase.IPostsManager
}

func NewPostHandler(manager usecase.IPostsManager) IPostHandler {
	return &PostHandler{manager: manager}
}

func queryBool(c *gin.Context, key string, def bool) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

// ownPost loads a post and checks it belongs to the caller.
func (h *PostHandler) ownPost(c *gin.Context, userID string, opts usecase.GetPostFullOptions) (*model.AppPostFull, bool) {
	postID := c.Param("postId")
	post, err := h.manager.GetPostFull(c.Request.Context(), postID, opts)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	if post.AuthorUserID != userID {
		abortWithError(c, &apperror.AuthorizationError{UserID: userID, Resource: "post " + postID})
		return nil, false
	}
	return post, true
}

func (h *PostHandler) GetPost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	post, ok := h.ownPost(c, userID, usecase.GetPostFullOptions{
		AddMirrors:          queryBool(c, "mirrors", true),
		AddAggregatedLabels: queryBool(c, "labels", false),
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, post)
}

type approveRequest struct {
	Update    model.PostUpdate   `json:"update"`
	Platforms []model.PlatformID `json:"platforms"`
}

// ApprovePost answers 200 with the updated post even when some mirrors failed
// to publish; those failures are listed under publishErrors.
func (h *PostHandler) ApprovePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorUnmarshal})
		return
	}
	payload := model.PostUpdatePayload{PostID: c.Param("postId"), Update: req.Update, Platforms: req.Platforms}
	post, err := h.manager.ApprovePost(c.Request.Context(), payload, userID)
	if post == nil {
		abortWithError(c, err)
		return
	}
	res := gin.H{"post": post}
	if err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"postId": payload.PostID,
			"userId": userID,
			"error":  err,
		}).Warn("some mirrors failed to publish")
		res["publishErrors"] = err.Error()
	}
	c.JSON(http.StatusOK, res)
}

func (h *PostHandler) ParsePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if _, ok := h.ownPost(c, userID, usecase.GetPostFullOptions{}); !ok {
		return
	}
	post, err := h.manager.ParsePost(c.Request.Context(), c.Param("postId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type fetchRequest struct {
	Platforms      []model.PlatformID `json:"platforms"`
	ExpectedAmount int                `json:"expectedAmount"`
}

func (h *PostHandler) FetchPosts(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorUnmarshal})
			return
		}
	}
	summary, err := h.manager.FetchForUser(c.Request.Context(), userID, usecase.FetchOptions{
		Platforms:      req.Platforms,
		ExpectedAmount: req.ExpectedAmount,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
