package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all sniper configuration values, populated from environment
// variables with an optional .env file loaded first.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration
	LogLevel        string

	// Database
	DatabaseURL string

	// Cache backend — REDIS_URL wins over VALKEY_URL when both are set.
	RedisURL string

	// MEXC upstream
	MexcBaseURL   string
	MexcAPIKey    string
	MexcSecretKey string

	// Encryption (credential envelope)
	EncryptionPassphrase string

	// Cache TTLs, seconds
	CacheTTLSymbols    int
	CacheTTLCalendar   int
	CacheTTLAccount    int
	CacheTTLServerTime int

	// Pattern discovery
	ReadyStatePattern    [3]int
	TargetAdvanceHours   float64
	DefaultBuyAmountUSDT float64

	// Scheduler / polling
	CalendarPollIntervalSeconds           int
	CalendarPollCron                      string
	SymbolsPollIntervalSeconds            int
	SymbolsPollIntervalSecondsNearLaunch  int
	MaxSymbolRecheckAttempts              int

	// Out-of-scope downstream executor plumbing, kept as recognized-but-
	// unused configuration per the system's design notes.
	MaxConcurrentSnipes int
	OpenAIAPIKey        string
	Debug               bool
}

// Load reads configuration from environment variables and an optional
// .env file in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("SNIPER_GRACEFUL_TIMEOUT_SEC", 15)

	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" {
		redisURL = getEnv("VALKEY_URL", "")
	}

	cfg := &Config{
		Addr:            getEnv("SNIPER_ADDR", ":8080"),
		Env:             getEnv("ENVIRONMENT", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", "sqlite://sniper.db"),
		RedisURL:    redisURL,

		MexcBaseURL:   getEnv("MEXC_BASE_URL", "https://api.mexc.com"),
		MexcAPIKey:    getEnv("MEXC_API_KEY", ""),
		MexcSecretKey: getEnv("MEXC_SECRET_KEY", ""),

		EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),

		CacheTTLSymbols:    getEnvInt("CACHE_TTL_SYMBOLS", 5),
		CacheTTLCalendar:   getEnvInt("CACHE_TTL_CALENDAR", 30),
		CacheTTLAccount:    getEnvInt("CACHE_TTL_ACCOUNT", 60),
		CacheTTLServerTime: getEnvInt("CACHE_TTL_SERVER_TIME", 10),

		ReadyStatePattern:    getEnvPattern3("READY_STATE_PATTERN", [3]int{2, 2, 4}),
		TargetAdvanceHours:   getEnvFloat("TARGET_ADVANCE_HOURS", 3.5),
		DefaultBuyAmountUSDT: getEnvFloat("DEFAULT_BUY_AMOUNT_USDT", 100),

		CalendarPollIntervalSeconds:          getEnvInt("CALENDAR_POLL_INTERVAL_SECONDS", 300),
		CalendarPollCron:                     getEnv("CALENDAR_POLL_CRON", "*/5 * * * *"),
		SymbolsPollIntervalSeconds:           getEnvInt("SYMBOLS_POLL_INTERVAL_SECONDS_DEFAULT", 30),
		SymbolsPollIntervalSecondsNearLaunch: getEnvInt("SYMBOLS_POLL_INTERVAL_SECONDS_NEAR_LAUNCH", 5),
		MaxSymbolRecheckAttempts:             10,

		MaxConcurrentSnipes: getEnvInt("MAX_CONCURRENT_SNIPES", 3),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		Debug:               getEnvBool("DEBUG", false),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvPattern3 parses a "(a,b,c)"-shaped string into a 3-element pattern.
func getEnvPattern3(key string, fallback [3]int) [3]int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	trimmed := strings.Trim(strings.TrimSpace(v), "()")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 3 {
		return fallback
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out[i] = n
	}
	return out
}
