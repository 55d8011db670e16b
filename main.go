package main

import (
	"log"
	"time"

	"LimedAI/controllers"
	"LimedAI/middleware"
	"LimedAI/models"
	"LimedAI/pkg/cache"
	"LimedAI/pkg/config"
	"LimedAI/pkg/embedding"
	"LimedAI/pkg/logger"
	"LimedAI/pkg/registry"
	"LimedAI/pkg/services"
	"LimedAI/pkg/store"
	"LimedAI/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDB() (*gorm.DB, error) {
	switch config.DBDriver {
	case "mysql":
		return gorm.Open(mysql.Open(config.DBDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(config.DBDSN), &gorm.Config{})
	}
}

func main() {
	zlog, err := logger.New(config.IsStaging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := openDB()
	if err != nil {
		zlog.Fatalw("failed to connect database", "driver", config.DBDriver, "err", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Textbook{}, &models.Message{}); err != nil {
		zlog.Fatalw("failed migrate", "err", err)
	}

	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
	)
	middleware.SetDuplicateTTL(time.Duration(config.DuplicateWindowSeconds) * time.Second)

	var embedder embedding.Embedder
	var rewriter services.QueryRewriter
	var synthesizer services.AnswerSynthesizer
	if config.IsGeminiEnabled && config.GeminiAPIKey != "" {
		embedder = embedding.NewGeminiEmbedder(config.GeminiAPIKey, config.GeminiEmbedModel, config.EmbeddingDimensions)
		provider := services.NewGeminiProvider(config.GeminiAPIKey, config.GeminiModel, true)
		rewriter, synthesizer = provider, provider
	} else {
		// staging without an API key still serves answers
		embedder = embedding.NewMockEmbedder(config.EmbeddingDimensions)
		local := services.NewLocalProvider()
		rewriter, synthesizer = local, local
		zlog.Warnw("gemini disabled, using local provider", "enabled", config.IsGeminiEnabled)
	}

	conversations := store.New(db)
	sessions := registry.New()
	retrieval := services.NewRetrieval(embedder, cache.New(config.IndexCacheMaxItems), zlog)
	gateway := controllers.NewChatGateway(config.JWTSecret, sessions, zlog)
	dispatcher := services.NewDispatcher(
		conversations, sessions, retrieval, rewriter, synthesizer, gateway.Emit, zlog,
		services.Options{
			RetrievalK:              config.RetrievalK,
			HistoryLimit:            config.HistoryLimit,
			MaxContextMessageLength: config.MaxContextMessageLength,
		},
	)
	defer dispatcher.Close()

	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		DB:         db,
		Store:      conversations,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		JWTSecret:  config.JWTSecret,
	})
	if err := r.Run(":" + config.Port); err != nil {
		zlog.Fatalw("server stopped", "err", err)
	}
}
