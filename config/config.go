package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string // empty disables SQLite
	HTTPAddr      string
	MetricsAddr   string

	// Structure engine
	Symbols      []string // empty routes every symbol seen
	GapThreshold int
	DecisionLog  bool
	LogLevel     string

	// Bar stream consumption
	ConsumerGroup string
	ConsumerName  string

	// Snapshots
	SnapshotInterval time.Duration
	SnapshotKey      string

	// Optional integrations
	BarFeedURL  string
	WebhookURL  string
	BarCacheTTL time.Duration // 0 disables the Redis bar cache
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is applied first without overriding variables
// already set.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0, 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/structure.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		Symbols:      ParseList(getEnv("SYMBOLS", "")),
		GapThreshold: getInt("GAP_THRESHOLD", 4, 1),
		DecisionLog:  getBool("DECISION_LOG", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "structengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostname()),

		SnapshotInterval: time.Duration(getInt("SNAPSHOT_INTERVAL_SEC", 60, 1)) * time.Second,
		SnapshotKey:      getEnv("SNAPSHOT_KEY", "structure:snapshot"),

		BarFeedURL:  getEnv("BAR_FEED_URL", ""),
		WebhookURL:  getEnv("WEBHOOK_URL", ""),
		BarCacheTTL: time.Duration(getInt("BAR_CACHE_TTL_SEC", 0, 0)) * time.Second,
	}
}

// ParseList splits a comma-separated list, dropping blanks and duplicates.
func ParseList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// getInt parses an integer env var. Unparseable values or values below min
// fall back to the default.
func getInt(key string, fallback, min int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker-1"
	}
	return h
}
