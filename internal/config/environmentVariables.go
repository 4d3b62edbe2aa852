package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	IS_PROD                         = false
	LOG_LEVEL_PROD                  = slog.LevelInfo
	FALLBACK_REDIS_TO_INTERNALSTORE = true
	TRACE_ID_KEY                    = "traceId"
	RATE_LIMIT_PER_SECOND           = 2
	BURST_RATE_LIMIT_PER_SECOND     = 5

	RequestsPerNewWorkerCount int64 = 4
	MaxWorkerCount            int64 = 4
	MinWorkerCount            int64 = 1
	IdleWorkerTimeout               = 1 * time.Minute

	//serverTimeouts
	ReadTimeout            = 10 * time.Second
	WriteTimeout           = 30 * time.Second
	IdleTimeout            = 120 * time.Second
	ShutdownContextTimeout = 10 * time.Second

	//server listening port
	ServerListenAddr = ":3000"

	//job requests buffer limit
	BufferLimit = 100

	//uploads
	MaxUploadSize = 256 << 20 //256mb zip archives

	TempDirName    = "temp_processing"
	OutputBaseName = "extracted_data"

	MaxIdleConns        = 50
	MaxIdleConnsPerHost = 25
	IdleConnTimeout     = 60 * time.Second

	//redis
	redisHost     = "127.0.0.1"
	redisPort     = "6379"
	RedisAddr     = redisHost + ":" + redisPort
	RedisPassword = ""

	RedisJobStore    = 0
	RedisJobStoreTTL = 24 * time.Hour
)

// Model gateway settings. External LLM endpoints are rate- or cost-constrained,
// so the admission limit defaults small.
var (
	APIProvider    = getEnv("API_PROVIDER", "openai") //"openai" or "gemini"
	APIBaseURL     = getEnv("API_BASE_URL", "https://api.openai.com/v1")
	APIKey         = getEnv("API_KEY", "")
	APIModel       = getEnv("API_MODEL", "gemini-2.5-flash")
	APITimeout     = time.Duration(getEnvInt("API_TIMEOUT", 600)) * time.Second
	APIMaxRetries  = getEnvInt("API_MAX_RETRIES", 5)
	APIConcurrency = getEnvInt("API_CONCURRENCY_LIMIT", 2)

	BackoffBaseDelay         = 2 * time.Second
	BackoffMaxDelay          = 60 * time.Second
	ExponentialBackoffFactor = getEnvFloat("EXPONENTIAL_BACKOFF_FACTOR", 1.5)
	BackoffJitterFraction    = 0.25

	JSONCorrectionAttempts = getEnvInt("JSON_CORRECTION_ATTEMPTS", 3)

	// Parallel document groups per job. Model calls are bounded separately by
	// the gateway; this bounds page bytes held in memory.
	GroupConcurrency = getEnvInt("GROUP_CONCURRENCY", 4)

	//"never-overwrite", "best-confidence" or "last-write"
	MergePolicyName = getEnv("MERGE_POLICY", "never-overwrite")
)

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
