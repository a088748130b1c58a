package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	StoreDriver  string // postgres | sqlite | memory
	SQLitePath   string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	UploadDir    string // local file storage when S3 is not configured
	SslCertPath  string
	JWTSecret    string
	Port         string

	AIBackend          string // cloud | local | test
	BackendTimeoutSecs int
	AIAPIKey           string
	EmbedModel         string
	EmbedDim           int
	GenModel           string
	OllamaURL          string
	OllamaEmbedModel   string
	OllamaChatModel    string
	OllamaEmbedDim     int
	TestEmbedDim       int

	IngestWorkers    int
	ContextMaxTokens int
	LogLevel         string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		SQLitePath:   getEnv("SQLITE_PATH", "kbingest.db"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "kbingest-docs"),
		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		AIBackend:          strings.ToLower(getEnv("AI_BACKEND", "cloud")),
		BackendTimeoutSecs: getEnvInt("BACKEND_TIMEOUT_SECS", 60),
		AIAPIKey:           getEnv("GEMINI_API_KEY", ""),
		EmbedModel:         getEnv("EMBED_MODEL", "gemini-embedding-001"),
		EmbedDim:           getEnvInt("EMBED_DIM", 3072),
		GenModel:           getEnv("GEN_MODEL", "gemini-1.5-flash"),
		OllamaURL:          getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel:   getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaChatModel:    getEnv("OLLAMA_CHAT_MODEL", "llama3.2"),
		OllamaEmbedDim:     getEnvInt("OLLAMA_EMBED_DIM", 768),
		TestEmbedDim:       getEnvInt("TEST_EMBED_DIM", 384),

		IngestWorkers:    getEnvInt("INGEST_WORKERS", 2),
		ContextMaxTokens: getEnvInt("CONTEXT_MAX_TOKENS", 3000),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.AIBackend {
	case "cloud", "local", "test":
	default:
		return fmt.Errorf("AI_BACKEND=%q: must be one of cloud, local, test", c.AIBackend)
	}

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH not set")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER=%q: must be one of postgres, sqlite, memory", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}

	if c.IngestWorkers < 1 {
		c.IngestWorkers = 1
	}
	if c.ContextMaxTokens < 1 {
		return fmt.Errorf("CONTEXT_MAX_TOKENS must be positive, got %d", c.ContextMaxTokens)
	}
	return nil
}

// UseObjectStorage reports whether uploads go to S3 rather than UploadDir.
func (c *Config) UseObjectStorage() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
