package websocket

import (
	"LimedAI/controllers"
	"LimedAI/middleware"
	"LimedAI/pkg/services"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, gw *controllers.ChatGateway, d *services.Dispatcher) {
	r.GET("/ws/chat", middleware.RateLimit(), gw.ChatWS(d))
}
