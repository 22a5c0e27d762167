package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue backends
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

type Config struct {
	// Server
	APIPort            string
	PublicBaseURL      string // Base URL encoded into QR codes, e.g. https://memorial.example.org
	WorkerEnabled      bool
	BackendAPIKey      string // API key for admin routes (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	MaxUploadMB        int

	// Database (empty DATABASE_URL = embedded SQLite at SQLitePath)
	DatabaseURL string
	SQLitePath  string

	// Queue
	QueueBackend string
	RedisURL     string

	// Media
	StaticDir     string // Public root holding uploads, qrcodes, videos and music
	FFmpegPath    string
	FFmpegTimeout time.Duration // 0 = no limit
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 64),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "instance/database.db"),
		QueueBackend:       strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendMemory)),
		RedisURL:           getEnv("REDIS_URL", ""),
		StaticDir:          getEnv("STATIC_DIR", "static"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFmpegTimeout:      getEnvDuration("FFMPEG_TIMEOUT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendMemory, QueueBackendRedis, c.QueueBackend)
	}

	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}

	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}

	if c.FFmpegTimeout < 0 {
		return fmt.Errorf("FFMPEG_TIMEOUT must not be negative")
	}

	return nil
}

// MaxUploadBytes is the request body limit for image uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS, defaulting to every origin.
func (c *Config) AllowedOrigins() []string {
	if c.CorsAllowedOrigins == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(c.CorsAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
