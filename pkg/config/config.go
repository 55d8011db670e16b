package config

import (
	"log"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	GeminiAPIKey     string
	GeminiModel      string
	GeminiEmbedModel string
	AppEnv           string
	IsStaging        bool
	IsProduction     bool
	// IsGeminiEnabled is a flag to enable/disable Gemini API usage (enum: "1" or "0")
	IsGeminiEnabled bool

	JWTSecret string
	Port      string

	// database selection: "sqlite" (default) or "mysql"
	DBDriver string
	DBDSN    string

	// runtime tunables
	RetrievalK              int
	HistoryLimit            int
	MaxContextMessageLength int
	EmbeddingDimensions     int
	RateLimitWindowSeconds  int
	RateLimitCapacity       int
	DuplicateWindowSeconds  int
	IndexCacheMaxItems      int
)

// loadAppEnv only loads .env when not running in production.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")

	// do not load .env file in production
	if AppEnv == "production" {
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}
}

func init() {
	loadAppEnv()

	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	GeminiModel = os.Getenv("GEMINI_MODEL")
	GeminiEmbedModel = os.Getenv("GEMINI_EMBED_MODEL")

	AppEnv = os.Getenv("APP_ENV")

	if !slices.Contains([]string{"staging", "production"}, AppEnv) {
		log.Fatal("environment variable APP_ENV must be 'staging' or 'production'")
	}

	IsStaging = AppEnv == "staging"
	IsProduction = AppEnv == "production"

	// IS_GEMINI_ENABLED: "1" for enabled, anything else is false
	IsGeminiEnabled = os.Getenv("IS_GEMINI_ENABLED") == "1"

	// defaults if not provided; can be overridden via env
	if GeminiModel == "" {
		GeminiModel = "gemini-2.0-flash"
	}
	if GeminiEmbedModel == "" {
		GeminiEmbedModel = "text-embedding-004"
	}

	JWTSecret = os.Getenv("JWT_SECRET_KEY")
	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "5000"
	}

	DBDriver = os.Getenv("DB_DRIVER")
	if DBDriver == "" {
		DBDriver = "sqlite"
	}
	DBDSN = os.Getenv("DB_DSN")
	if DBDSN == "" {
		DBDSN = "app.db"
	}

	// Tunables with defaults
	RetrievalK = atoiOr(os.Getenv("RETRIEVAL_K"), 3)
	HistoryLimit = atoiOr(os.Getenv("HISTORY_LIMIT"), 10)
	MaxContextMessageLength = atoiOr(os.Getenv("MAX_CONTEXT_MESSAGE_LENGTH"), 1000)
	EmbeddingDimensions = atoiOr(os.Getenv("EMBEDDING_DIMENSIONS"), 768)
	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 5)
	DuplicateWindowSeconds = atoiOr(os.Getenv("DUPLICATE_WINDOW_SECONDS"), 45)
	IndexCacheMaxItems = atoiOr(os.Getenv("INDEX_CACHE_MAX_ITEMS"), 16)

	if IsProduction && JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY must be set in production")
	}

	log.Printf("[config] AppEnv=%s IsStaging=%v IsProduction=%v", AppEnv, IsStaging, IsProduction)
	log.Printf("[config] IsGeminiEnabled=%v GeminiAPIKeyPresent=%v", IsGeminiEnabled, GeminiAPIKey != "")
	log.Printf("[config] GeminiModel=%s GeminiEmbedModel=%s", GeminiModel, GeminiEmbedModel)
	log.Printf("[config] DBDriver=%s RetrievalK=%d HistoryLimit=%d MaxContextLen=%d",
		DBDriver, RetrievalK, HistoryLimit, MaxContextMessageLength)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
