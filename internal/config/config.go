package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL string

	ServerPort  string
	AdminAPIKey string

	GeminiAPIKey string
	GeminiModel  string

	// Pipeline tuning
	FetchIntervalSeconds  int           // default poll cadence for accounts without one
	MaxCommentsPerFetch   int           // batch cap per run
	RunConcurrency        int           // global cap on concurrent processor runs
	PostRetryMax          int           // attempts for transient post errors
	ReplyPendingStaleness time.Duration // reclaim window for orphaned claims
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "require"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash"
	}

	stalenessSeconds := envInt("REPLY_PENDING_STALENESS_SECONDS", 900)

	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  sslMode,

		RedisURL: redisURL,

		ServerPort:  serverPort,
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  geminiModel,

		FetchIntervalSeconds:  envInt("FETCH_INTERVAL_SECONDS", 300),
		MaxCommentsPerFetch:   envInt("MAX_COMMENTS_PER_FETCH", 50),
		RunConcurrency:        envInt("RUN_CONCURRENCY", 4),
		PostRetryMax:          envInt("POST_RETRY_MAX", 3),
		ReplyPendingStaleness: time.Duration(stalenessSeconds) * time.Second,
	}, nil
}

// envInt reads an integer env var, falling back to def when unset or invalid.
func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
