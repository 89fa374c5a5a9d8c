package feed

import (
	"os"
	"strconv"
)

// RedisConfig holds connection settings for the Redis notification feed.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Channel  string // Pub/sub channel carrying notifications, default "notify:feed"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:    "localhost:6379",
		Channel: "notify:feed",
	}
}

// RedisConfigFromEnv loads feed configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("NOTIFY_REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("NOTIFY_REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("NOTIFY_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if ch := os.Getenv("NOTIFY_REDIS_CHANNEL"); ch != "" {
		cfg.Channel = ch
	}
	return cfg
}
