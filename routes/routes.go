package routes

import (
	"net/http"

	"LimedAI/controllers"
	"LimedAI/middleware"
	"LimedAI/pkg/services"
	"LimedAI/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	messageRoutes "LimedAI/routes/messages"
	websocketRoutes "LimedAI/routes/websocket"
)

type Deps struct {
	DB         *gorm.DB
	Store      *store.Conversations
	Gateway    *controllers.ChatGateway
	Dispatcher *services.Dispatcher
	JWTSecret  string
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "textbook chat backend running"})
	})

	websocketRoutes.Register(r, deps.Gateway, deps.Dispatcher)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware(deps.JWTSecret))
	messageRoutes.Register(protected, deps.DB, deps.Store)
}
