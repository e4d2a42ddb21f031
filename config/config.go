package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Postgres configuration
	DatabaseURL string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration
	MemcacheAddr string

	// Crawl configuration
	CrawlInterval time.Duration
	RequestDelay  time.Duration
	MaxPages      int
	MaxArticles   int
	MaxAgeDays    int
	SkipVisited   bool

	// Site registry
	SitesFile string

	// Dashboard
	DashboardAddr     string
	AdminPasswordHash string
	SessionSecret     string
	TriggerCooldown   time.Duration

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))
	crawlInterval, _ := strconv.Atoi(getEnv("CRAWL_INTERVAL_SECONDS", "3600"))
	requestDelay, _ := strconv.Atoi(getEnv("REQUEST_DELAY_MS", "1000"))
	maxPages, _ := strconv.Atoi(getEnv("MAX_PAGES", "1"))
	maxArticles, _ := strconv.Atoi(getEnv("MAX_ARTICLES", "20"))
	maxAgeDays, _ := strconv.Atoi(getEnv("MAX_AGE_DAYS", "90"))
	cooldown, _ := strconv.Atoi(getEnv("TRIGGER_COOLDOWN_SECONDS", "180"))

	return Config{
		DatabaseURL:          getEnv("DATABASE_URL", "postgres://localhost:5432/redeemcodes?sslmode=disable"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "redeemcodes"),
		RedisStreamCount:     streamCount,
		RedisStreamMaxLength: streamMaxLen,
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		CrawlInterval:        time.Duration(crawlInterval) * time.Second,
		RequestDelay:         time.Duration(requestDelay) * time.Millisecond,
		MaxPages:             maxPages,
		MaxArticles:          maxArticles,
		MaxAgeDays:           maxAgeDays,
		SkipVisited:          getEnv("SKIP_VISITED", "true") != "false",
		SitesFile:            getEnv("SITES_FILE", "sites.json"),
		DashboardAddr:        getEnv("DASHBOARD_ADDR", ":8080"),
		AdminPasswordHash:    getEnv("ADMIN_PASSWORD_HASH", ""),
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		TriggerCooldown:      time.Duration(cooldown) * time.Second,
		Environment:          getEnv("REDEEM_ENVIRONMENT", "development"),
	}
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.CrawlInterval < time.Second {
		return fmt.Errorf("crawl interval too short: %s", c.CrawlInterval)
	}
	if c.MaxArticles <= 0 {
		return fmt.Errorf("MAX_ARTICLES must be positive")
	}
	if c.MaxAgeDays <= 0 {
		return fmt.Errorf("MAX_AGE_DAYS must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
