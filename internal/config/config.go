package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultCookieSecret is a public placeholder. Cookies signed with it can be forged by anyone.
const DefaultCookieSecret = "change-me"

type Config struct {
	APIPort  string
	LogLevel string

	StoreDriver string
	StoreDSN    string
	StoragePath string

	OllamaURL         string
	OllamaVisionModel string
	ClipURL           string

	VectorBackend          string
	VectorIndexPath        string
	QdrantURL              string
	QdrantMemoryCollection string

	NATSURL              string
	FeedbackSubject      string
	FeedbackQueueEnabled bool
	DatasetDir           string

	PromptsFile string

	InferenceTimeout  time.Duration
	ClassifyMaxTokens int
	SummaryMaxTokens  int
	AnswerMaxTokens   int

	SessionHistoryMessages int
	RecentDocsLimit        int
	RecentDocsRetention    int

	MemoryContextSnippets int
	MemorySnippetChars    int
	MemorySummaryChars    int
	MemorySearchFanout    int

	CookieName       string
	CookieSecret     string
	CookieMaxAgeDays int
	CookieSecure     bool
	CookieSameSite   string

	MaxUploadMB           int
	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		StoreDriver: mustEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:    mustEnv("STORE_DSN", "./data/docsense.db"),
		StoragePath: mustEnv("STORAGE_PATH", "./data/uploads"),

		OllamaURL:         mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaVisionModel: mustEnv("OLLAMA_VISION_MODEL", "qwen2.5vl:7b"),
		ClipURL:           mustEnv("CLIP_URL", "http://localhost:8090"),

		VectorBackend:          mustEnv("VECTOR_BACKEND", "chromem"),
		VectorIndexPath:        mustEnv("VECTOR_INDEX_PATH", "./data/memory.gob"),
		QdrantURL:              mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantMemoryCollection: mustEnv("QDRANT_MEMORY_COLLECTION", "document_memory"),

		NATSURL:              mustEnv("NATS_URL", "nats://localhost:4222"),
		FeedbackSubject:      mustEnv("FEEDBACK_SUBJECT", "feedback.improve"),
		FeedbackQueueEnabled: mustEnvBool("FEEDBACK_QUEUE_ENABLED", false),
		DatasetDir:           mustEnv("DATASET_DIR", "./data/dataset"),

		PromptsFile: mustEnv("PROMPTS_FILE", ""),

		InferenceTimeout:  time.Duration(mustEnvInt("INFERENCE_TIMEOUT_SECONDS", 120)) * time.Second,
		ClassifyMaxTokens: mustEnvInt("CLASSIFY_MAX_TOKENS", 16),
		SummaryMaxTokens:  mustEnvInt("SUMMARY_MAX_TOKENS", 512),
		AnswerMaxTokens:   mustEnvInt("ANSWER_MAX_TOKENS", 256),

		SessionHistoryMessages: mustEnvInt("SESSION_HISTORY_MESSAGES", 12),
		RecentDocsLimit:        mustEnvInt("RECENT_DOCS_LIMIT", 20),
		RecentDocsRetention:    mustEnvInt("RECENT_DOCS_RETENTION", 100),

		MemoryContextSnippets: mustEnvInt("MEMORY_CONTEXT_SNIPPETS", 5),
		MemorySnippetChars:    mustEnvInt("MEMORY_SNIPPET_CHARS", 160),
		MemorySummaryChars:    mustEnvInt("MEMORY_SUMMARY_CHARS", 200),
		MemorySearchFanout:    mustEnvInt("MEMORY_SEARCH_FANOUT", 20),

		CookieName:       mustEnv("COOKIE_NAME", "user_id"),
		CookieSecret:     mustEnv("COOKIE_SECRET", DefaultCookieSecret),
		CookieMaxAgeDays: mustEnvInt("COOKIE_MAX_AGE_DAYS", 7),
		CookieSecure:     mustEnvBool("COOKIE_SECURE", false),
		CookieSameSite:   mustEnv("COOKIE_SAMESITE", "lax"),

		MaxUploadMB:           mustEnvInt("MAX_UPLOAD_MB", 20),
		APIRateLimitRPS:       mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:     mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:        mustEnvInt("API_MAX_IN_FLIGHT", 32),
		APIBackpressureWaitMS: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func (c Config) UsesDefaultCookieSecret() bool {
	return strings.TrimSpace(c.CookieSecret) == "" || c.CookieSecret == DefaultCookieSecret
}

// Validate rejects settings unsafe for a shared deployment. The embedded sqlite store is
// treated as local use and only warned about by the caller.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CookieSecret) == "" {
		return errors.New("COOKIE_SECRET must not be empty")
	}
	if c.UsesDefaultCookieSecret() && strings.EqualFold(c.StoreDriver, "pgx") {
		return errors.New("COOKIE_SECRET must be set when STORE_DRIVER=pgx")
	}
	return nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
