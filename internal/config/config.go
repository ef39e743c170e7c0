package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every knob of the crawler. The operational surface is
// environment variables only; godotenv picks up a local .env in dev.
type Config struct {
	DBPath     string
	APIBaseURL string
	Title      string // game key passed to every upstream endpoint

	RequestCap   int
	RequestDelay time.Duration
	MatchCount   int // matches requested per history fetch

	ChunkSize int // rows per upsert statement batch

	RefreshPageSize    int
	RefreshConcurrency int

	Cooldown    time.Duration
	MaxAttempts int

	IdleSleep     time.Duration
	MaxIdleRounds int // 0 keeps the worker polling forever

	ResetStaleAfter time.Duration // 0 disables the startup recovery pass
	SeedProfileIDs  []string

	LogLevel string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:             getEnv("DB_PATH", "relic.db"),
		APIBaseURL:         getEnv("RELIC_API_BASE_URL", "https://coh3-api.reliclink.com"),
		Title:              getEnv("RELIC_TITLE", "coh3"),
		RequestCap:         getEnvInt("REQUEST_CAP", 500),
		RequestDelay:       getEnvDuration("REQUEST_DELAY", time.Second),
		MatchCount:         getEnvInt("MATCH_COUNT", 50),
		ChunkSize:          getEnvInt("CHUNK_SIZE", 100),
		RefreshPageSize:    getEnvInt("REFRESH_PAGE_SIZE", 100),
		RefreshConcurrency: getEnvInt("REFRESH_CONCURRENCY", 4),
		Cooldown:           getEnvDuration("COOLDOWN", 6*time.Hour),
		MaxAttempts:        getEnvInt("MAX_ATTEMPTS", 5),
		IdleSleep:          getEnvDuration("IDLE_SLEEP", 30*time.Second),
		MaxIdleRounds:      getEnvInt("MAX_IDLE_ROUNDS", 0),
		ResetStaleAfter:    getEnvDuration("RESET_STALE_AFTER", 0),
		SeedProfileIDs:     splitList(getEnv("SEED_PROFILE_IDS", "")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("api_base_url", cfg.APIBaseURL).
		Str("title", cfg.Title).
		Int("request_cap", cfg.RequestCap).
		Dur("request_delay", cfg.RequestDelay).
		Int("chunk_size", cfg.ChunkSize).
		Dur("cooldown", cfg.Cooldown).
		Int("max_attempts", cfg.MaxAttempts).
		Int("seed_count", len(cfg.SeedProfileIDs)).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("RELIC_API_BASE_URL is required")
	}
	if c.Title == "" {
		return fmt.Errorf("RELIC_TITLE is required")
	}
	if c.RequestCap <= 0 {
		return fmt.Errorf("REQUEST_CAP must be greater than 0")
	}
	if c.MatchCount <= 0 {
		return fmt.Errorf("MATCH_COUNT must be greater than 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.RefreshPageSize <= 0 {
		return fmt.Errorf("REFRESH_PAGE_SIZE must be greater than 0")
	}
	if c.RefreshConcurrency <= 0 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be greater than 0")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
