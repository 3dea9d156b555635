package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultDatabaseURL       = "file:webresearch.db"
	defaultInferenceBaseURL  = "https://openrouter.ai/api/v1"
	defaultInferenceModel    = "openrouter/free"
	defaultAgentBaseURL      = "http://localhost:8931"
	defaultCacheTTLHours     = 24
	defaultCacheSweepMinutes = 60
	defaultSearchTimeoutSecs = 300
	defaultArtifactDir       = "/tmp/webresearch-artifacts"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string

	DatabaseURL       string
	DatabaseAuthToken string

	GoogleAPIKey         string
	GoogleSearchEngineID string
	NewsAPIKey           string

	InferenceAPIKey  string
	InferenceBaseURL string
	InferenceModel   string

	AgentBaseURL string
	ArtifactDir  string

	CacheTTL             time.Duration
	CacheSweepInterval   time.Duration
	SearchTimeoutSeconds int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 envOrDefault("PORT", defaultPort),
		Environment:          envOrDefault("APP_ENV", "development"),
		DatabaseURL:          envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken:    strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		GoogleAPIKey:         strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_API_KEY")),
		GoogleSearchEngineID: strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_ENGINE_ID")),
		NewsAPIKey:           strings.TrimSpace(os.Getenv("NEWSAPI_KEY")),
		InferenceAPIKey:      strings.TrimSpace(os.Getenv("INFERENCE_API_KEY")),
		InferenceBaseURL:     envOrDefault("INFERENCE_BASE_URL", defaultInferenceBaseURL),
		InferenceModel:       envOrDefault("INFERENCE_MODEL", defaultInferenceModel),
		AgentBaseURL:         envOrDefault("AGENT_BASE_URL", defaultAgentBaseURL),
		ArtifactDir:          envOrDefault("ARTIFACT_DIR", defaultArtifactDir),
		SearchTimeoutSeconds: intOrDefault("SEARCH_TIMEOUT_SECONDS", defaultSearchTimeoutSecs),
	}

	cacheTTLHours := intOrDefault("CACHE_TTL_HOURS", defaultCacheTTLHours)
	if cacheTTLHours <= 0 {
		return Config{}, errors.New("CACHE_TTL_HOURS must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLHours) * time.Hour

	sweepMinutes := intOrDefault("CACHE_SWEEP_MINUTES", defaultCacheSweepMinutes)
	if sweepMinutes <= 0 {
		return Config{}, errors.New("CACHE_SWEEP_MINUTES must be > 0")
	}
	cfg.CacheSweepInterval = time.Duration(sweepMinutes) * time.Minute

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}

	return cfg, nil
}

// MaskKey renders a credential safe for logs: first and last four characters
// with the middle elided. Short keys are fully masked.
func MaskKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return strings.Repeat("*", len(trimmed))
	}
	return trimmed[:4] + "..." + trimmed[len(trimmed)-4:]
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
