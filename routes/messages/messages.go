package messages

import (
	"LimedAI/controllers"
	"LimedAI/middleware"
	"LimedAI/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Register registers history and catalog routes (protected)
func Register(g *gin.RouterGroup, db *gorm.DB, st *store.Conversations) {
	g.POST("/messages", middleware.RateLimit(), controllers.FetchThread(st))
	g.GET("/threads", controllers.ListThreads(st))
	g.GET("/textbooks", controllers.ListTextbooks(db))
}
