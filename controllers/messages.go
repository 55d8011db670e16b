package controllers

import (
	"net/http"

	"LimedAI/middleware"
	"LimedAI/models"
	"LimedAI/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FetchThread returns the full conversation with one textbook, oldest
// first, context messages included.
func FetchThread(st *store.Conversations) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "not authenticated"})
			return
		}

		var body struct {
			TextbookID uint `json:"textbookId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.TextbookID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "textbookId is required"})
			return
		}

		msgs, err := st.Thread(c.Request.Context(), uid, body.TextbookID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

// ListThreads returns one summary per textbook the user has talked to,
// most recent first.
func ListThreads(st *store.Conversations) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "not authenticated"})
			return
		}

		summaries, err := st.ThreadSummaries(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if summaries == nil {
			summaries = []store.ThreadSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"threads": summaries})
	}
}

// ListTextbooks returns the ingested catalog so clients know which
// textbooks can be messaged.
func ListTextbooks(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var books []models.Textbook
		if err := db.Order("title asc").Find(&books).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"textbooks": books})
	}
}
