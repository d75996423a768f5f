package server

import (
	"time"

	httpHandler "post-mirror/interfaces/http"
	"post-mirror/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health   httpHandler.IHealthHandler
	Posts    httpHandler.IPostHandler
	Accounts httpHandler.IAccountHandler
	Activity httpHandler.IActivityHandler
	Tasks    httpHandler.ITaskHandler
	// Stream serves the change signal SSE stream.
	Stream gin.HandlerFunc
}

func InitiateRouter(h Handlers, origins []string, secretKey string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", h.Health.Healthz)

	// Task pushes authenticate with the shared task secret, not a user token.
	if h.Tasks != nil {
		router.POST("/tasks/:name", h.Tasks.Push)
	}

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	if h.Stream != nil {
		api.GET("/stream", h.Stream)
	}

	api.GET("/me", h.Accounts.Me)
	accounts := api.Group("/accounts")
	{
		accounts.POST("/:platform", h.Accounts.Link)
		accounts.PUT("/:platform/autopublish", h.Accounts.SetAutopublish)
	}

	posts := api.Group("/posts")
	{
		posts.POST("/fetch", h.Posts.FetchPosts)
		posts.GET("/:postId", h.Posts.GetPost)
		posts.POST("/:postId/approve", h.Posts.ApprovePost)
		posts.POST("/:postId/parse", h.Posts.ParsePost)
	}

	if h.Activity != nil {
		api.GET("/activity/:kind/:entityId", h.Activity.List)
	}

	return router
}
