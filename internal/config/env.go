// Package config provides centralized configuration management.
// All KOTOSHOP_* variables are read here and nowhere else.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAPIURL is the storefront API base endpoint used when none is configured.
const DefaultAPIURL = "http://localhost:8080/api"

// ShopEnv holds all kotoshop environment variables.
type ShopEnv struct {
	// APIURL is the base endpoint every gateway path is relative to (KOTOSHOP_API_URL)
	APIURL string

	// StateBackend selects durable storage: sqlite, mysql, postgres, redis, memory (KOTOSHOP_STATE_BACKEND)
	StateBackend string

	// StateDSN is the data source name for sql backends (KOTOSHOP_STATE_DSN)
	StateDSN string

	// StateKey seals persisted slices when set (KOTOSHOP_STATE_KEY)
	StateKey string

	// RedisAddr is host:port of the redis server (KOTOSHOP_REDIS_ADDR)
	RedisAddr string

	// RedisPassword is the optional redis password (KOTOSHOP_REDIS_PASSWORD)
	RedisPassword string

	// RedisDB is the redis database number (KOTOSHOP_REDIS_DB)
	RedisDB int

	// HTTPTimeout bounds a single gateway call (KOTOSHOP_HTTP_TIMEOUT)
	HTTPTimeout time.Duration

	// RateLimit is the client-side request rate in req/s, 0 disables (KOTOSHOP_RATE_LIMIT)
	RateLimit float64

	// RateBurst is the limiter burst size (KOTOSHOP_RATE_BURST)
	RateBurst int

	// AMQPURL enables the order-placed event sink (KOTOSHOP_AMQP_URL)
	AMQPURL string

	// AMQPQueue is the queue order-placed events go to (KOTOSHOP_AMQP_QUEUE)
	AMQPQueue string

	// LogLevel is the minimum log level (KOTOSHOP_LOG_LEVEL)
	LogLevel string
}

var (
	env     *ShopEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// The .env file under the kotoshop home is loaded first; variables already
// present in the process environment win.
func Env() *ShopEnv {
	envOnce.Do(func() {
		_ = godotenv.Load(GetPaths().EnvFile)

		env = &ShopEnv{
			APIURL:        strings.TrimSuffix(getEnvDefault("KOTOSHOP_API_URL", DefaultAPIURL), "/"),
			StateBackend:  strings.ToLower(getEnvDefault("KOTOSHOP_STATE_BACKEND", "sqlite")),
			StateDSN:      os.Getenv("KOTOSHOP_STATE_DSN"),
			StateKey:      os.Getenv("KOTOSHOP_STATE_KEY"),
			RedisAddr:     getEnvDefault("KOTOSHOP_REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("KOTOSHOP_REDIS_PASSWORD"),
			RedisDB:       getEnvInt("KOTOSHOP_REDIS_DB", 0),
			HTTPTimeout:   getEnvDuration("KOTOSHOP_HTTP_TIMEOUT", 15*time.Second),
			RateLimit:     getEnvFloat("KOTOSHOP_RATE_LIMIT", 0),
			RateBurst:     getEnvInt("KOTOSHOP_RATE_BURST", 5),
			AMQPURL:       os.Getenv("KOTOSHOP_AMQP_URL"),
			AMQPQueue:     getEnvDefault("KOTOSHOP_AMQP_QUEUE", "kotoshop.order.placed"),
			LogLevel:      getEnvDefault("KOTOSHOP_LOG_LEVEL", "warn"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
	pathsOnce = sync.Once{}
	paths = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

// Paths holds standard kotoshop directory paths.
type Paths struct {
	// Home is the kotoshop home directory (~/.kotoshop or KOTOSHOP_HOME)
	Home string

	// Data holds the sqlite state database (~/.kotoshop/data)
	Data string

	// EnvFile is the .env file path (~/.kotoshop/.env)
	EnvFile string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		shopHome := os.Getenv("KOTOSHOP_HOME")
		if shopHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			shopHome = filepath.Join(home, ".kotoshop")
		}

		paths = &Paths{
			Home:    shopHome,
			Data:    filepath.Join(shopHome, "data"),
			EnvFile: filepath.Join(shopHome, ".env"),
		}
	})
	return paths
}

// Path returns a path under the kotoshop home directory.
func Path(parts ...string) string {
	p := GetPaths()
	allParts := append([]string{p.Home}, parts...)
	return filepath.Join(allParts...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// DSN returns the configured DSN, defaulting the sqlite backend to a
// database file under the data directory.
func (e *ShopEnv) DSN() string {
	if e.StateDSN != "" {
		return e.StateDSN
	}
	if e.StateBackend == "sqlite" {
		return filepath.Join(GetPaths().Data, "state.db")
	}
	return ""
}
