package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DBUrl                 string
	DBMaxConns            int32
	DBMinConns            int32
	JWTSecret             string
	JWTTTL                time.Duration
	AppEnv                string
	LogLevel              string
	RedisURL              string
	ConversationListLimit int
	WSAllowedOrigins      string
	MetricsEnabled        bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBUrl:                 getEnv("DB_URL", ""),
		DBMaxConns:            int32(getEnvInt("DB_MAX_CONNS", 10)),
		DBMinConns:            int32(getEnvInt("DB_MIN_CONNS", 2)),
		JWTSecret:             jwtSecret,
		JWTTTL:                time.Duration(getEnvInt("JWT_TTL_HOURS", 72)) * time.Hour,
		AppEnv:                normalizeEnv(getEnv("APP_ENV", "production")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		RedisURL:              getEnv("REDIS_URL", ""),
		ConversationListLimit: getEnvInt("CONVERSATION_LIST_LIMIT", 50),
		WSAllowedOrigins:      getEnv("WS_ALLOWED_ORIGINS", "*"),
		MetricsEnabled:        getEnvBool("METRICS_ENABLED", true),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

// PresenceBackend names the registry implementation the server will use.
func (c *Config) PresenceBackend() string {
	if c != nil && c.RedisURL != "" {
		return "redis"
	}
	return "memory"
}
