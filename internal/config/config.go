package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Admin dashboard
	JWTSecret     string
	AdminPassword string
	FrontendURL   string

	// Room
	RoomName          string
	HeartbeatInterval time.Duration
	EvictionWindow    time.Duration
	JanitorInterval   time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),

		// Dev defaults so a local checkout works out of the box; deploys
		// override both.
		JWTSecret:     getEnvOrDefault("JWT_SECRET", "focusroom-dev-secret"),
		AdminPassword: getEnvOrDefault("ADMIN_PASSWORD", "focusroom-admin"),
		FrontendURL:   getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),

		RoomName:          getEnvOrDefault("ROOM_NAME", "Focus Room"),
		HeartbeatInterval: getEnvAsDurationOrDefault("HEARTBEAT_INTERVAL", 2*time.Minute),
		EvictionWindow:    getEnvAsDurationOrDefault("EVICTION_WINDOW", 10*time.Minute),
		JanitorInterval:   getEnvAsDurationOrDefault("JANITOR_INTERVAL", time.Minute),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
