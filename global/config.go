// Package global holds process-wide application configuration.
package global

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// AppConfig is the configuration for one gateway node.
type AppConfig struct {
	NodeID     string // gateway node id, also used for presence records
	ListenAddr string // HTTP/WebSocket listen address

	JWTSecret string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional inter-node fan-out. Empty disables the bridge.
	NatsURL string
}

var (
	cfg     AppConfig
	cfgOnce sync.Once
)

// Load reads configuration from the environment, once. A .env file in the
// working directory is honored when present.
func Load() AppConfig {
	cfgOnce.Do(func() {
		_ = godotenv.Load()

		cfg = AppConfig{
			NodeID:        getEnv("CHAT_NODE_ID", "gateway_01"),
			ListenAddr:    getEnv("CHAT_LISTEN_ADDR", ":8080"),
			JWTSecret:     getEnv("CHAT_JWT_SECRET", ""),
			MongoURI:      getEnv("CHAT_MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("CHAT_MONGO_DB", "medishare"),
			RedisAddr:     getEnv("CHAT_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("CHAT_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("CHAT_REDIS_DB", 0),
			NatsURL:       getEnv("CHAT_NATS_URL", ""),
		}
	})
	return cfg
}

// Config returns the loaded configuration; Load must have run first.
func Config() AppConfig { return cfg }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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
